package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoll_ImmediateSuccess(t *testing.T) {
	assert.True(t, Poll(context.Background(), func(context.Context) bool { return true }, 0, time.Millisecond))
}

func TestPoll_EventualSuccess(t *testing.T) {
	calls := 0
	cond := func(context.Context) bool {
		calls++
		return calls >= 3
	}

	assert.True(t, Poll(context.Background(), cond, time.Second, time.Millisecond))
	assert.GreaterOrEqual(t, calls, 3)
}

func TestPoll_Timeout(t *testing.T) {
	start := time.Now()
	ok := Poll(context.Background(), func(context.Context) bool { return false }, 20*time.Millisecond, 5*time.Millisecond)

	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPoll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok := Poll(ctx, func(context.Context) bool { return false }, time.Hour, time.Millisecond)
	assert.False(t, ok)
}
