package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_Zero(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestJitter_Between(t *testing.T) {
	j := NewJitter(1)
	for i := 0; i < 100; i++ {
		d := j.Between(3*time.Second, 8*time.Second)
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 8*time.Second)
	}
	assert.Equal(t, time.Second, j.Between(time.Second, time.Second))
}

func TestBackoff_Delay(t *testing.T) {
	b := NewBackoff(20*time.Second, time.Minute, 0, nil)

	assert.Equal(t, 20*time.Second, b.Delay(1))
	assert.Equal(t, 40*time.Second, b.Delay(2))
	assert.Equal(t, time.Minute, b.Delay(3))
	assert.Equal(t, time.Minute, b.Delay(10))
}

func TestBackoff_DelayWithJitter(t *testing.T) {
	b := NewBackoff(20*time.Second, time.Minute, 10*time.Second, NewJitter(7))

	for attempt := 1; attempt <= 3; attempt++ {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, 20*time.Second)
		assert.LessOrEqual(t, d, 70*time.Second)
	}
}

func TestDwell_Steps(t *testing.T) {
	var steps []int
	d := Dwell{Steps: 4, OnStep: func(ctx context.Context, step int) { steps = append(steps, step) }}

	require.NoError(t, d.Do(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3}, steps)
}
