package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstPerKey(t *testing.T) {
	l := NewLimiter(1, 2)

	assert.True(t, l.Allow("1.1.1.1:80"))
	assert.True(t, l.Allow("1.1.1.1:80"))
	assert.False(t, l.Allow("1.1.1.1:80"))

	// A different egress has its own bucket.
	assert.True(t, l.Allow("2.2.2.2:80"))
}

func TestLimiter_EmptyKeyIsDirect(t *testing.T) {
	l := NewLimiter(1, 1)

	assert.True(t, l.Allow(""))
	assert.False(t, l.Allow(DirectKey))
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0, 1)

	for i := 0; i < 10; i++ {
		assert.NoError(t, l.Wait(context.Background(), "x"))
	}
}
