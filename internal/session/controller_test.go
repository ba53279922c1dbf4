package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/serpwatch/internal/browser/browsertest"
	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

func newController(l *browsertest.Launcher) *Controller {
	return NewController(l, zap.NewNop())
}

func TestController_OpenBindsProxy(t *testing.T) {
	l := &browsertest.Launcher{}
	c := newController(l)

	s, err := c.Open(context.Background(), "10.0.0.1:8080")
	require.NoError(t, err)

	assert.Equal(t, models.StatusOpen, s.Status())
	assert.Equal(t, "10.0.0.1:8080", s.Proxy)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, []string{"10.0.0.1:8080"}, l.Proxies())

	current, ok := c.Current()
	require.True(t, ok)
	assert.Same(t, s, current)
}

func TestController_OpenFailureIsDriverInitError(t *testing.T) {
	l := &browsertest.Launcher{Errs: []error{errors.New("chromium missing")}}
	c := newController(l)

	s, err := c.Open(context.Background(), "")
	assert.Nil(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDriverInit)

	var initErr *DriverInitError
	require.ErrorAs(t, err, &initErr)
	assert.Contains(t, initErr.Error(), "chromium missing")

	// The slot was released
	_, err = c.Open(context.Background(), "")
	assert.NoError(t, err)
}

func TestController_OneSessionAtATime(t *testing.T) {
	c := newController(&browsertest.Launcher{})

	first, err := c.Open(context.Background(), "")
	require.NoError(t, err)

	_, err = c.Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrBusy)

	c.Close(first)
	_, err = c.Open(context.Background(), "")
	assert.NoError(t, err)
}

func TestController_IsAlive(t *testing.T) {
	l := &browsertest.Launcher{}
	c := newController(l)

	s, err := c.Open(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, c.IsAlive(context.Background(), s))

	l.Drivers[0].Kill()
	assert.False(t, c.IsAlive(context.Background(), s))
	assert.Equal(t, models.StatusDead, s.Status())

	// Dead sessions stay dead
	assert.False(t, c.IsAlive(context.Background(), s))
	assert.False(t, c.IsAlive(context.Background(), nil))
}

func TestController_CloseIsIdempotent(t *testing.T) {
	l := &browsertest.Launcher{}
	c := newController(l)

	s, err := c.Open(context.Background(), "")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		c.Close(s)
		c.Close(s)
		c.Close(nil)
	})

	assert.Equal(t, models.StatusClosed, s.Status())
	assert.Equal(t, 1, l.Drivers[0].CloseCalls)
	assert.False(t, c.IsAlive(context.Background(), s))

	_, ok := c.Current()
	assert.False(t, ok)
}

func TestController_KillLeavesDeadStatus(t *testing.T) {
	l := &browsertest.Launcher{}
	c := newController(l)

	s, err := c.Open(context.Background(), "")
	require.NoError(t, err)

	// Teardown errors are swallowed
	l.Drivers[0].Kill()
	c.Kill(s)

	assert.Equal(t, models.StatusDead, s.Status())
	assert.True(t, l.Drivers[0].Closed())
}
