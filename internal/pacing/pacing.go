// Package pacing holds the waits of the control loop: context-aware sleeps,
// randomized backoff and the dwell primitive.
package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jitter returns random durations. It is safe for concurrent use.
type Jitter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitter creates a Jitter seeded with seed
func NewJitter(seed int64) *Jitter {
	return &Jitter{rng: rand.New(rand.NewSource(seed))}
}

// Between returns a duration in [min, max].
func (j *Jitter) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return min + time.Duration(j.rng.Int63n(int64(max-min)+1))
}

// Backoff computes the wait before a session restart.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
	rand   *Jitter
}

// NewBackoff creates a backoff policy
func NewBackoff(base, max, jitter time.Duration, rnd *Jitter) Backoff {
	return Backoff{Base: base, Max: max, Jitter: jitter, rand: rnd}
}

// Delay returns the wait before retry number attempt (1-based). The base
// delay doubles per attempt, is capped at Max, then gets up to Jitter added.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}

	if b.Jitter > 0 && b.rand != nil {
		d += b.rand.Between(0, b.Jitter)
	}
	return d
}

// Dwell pauses on a page in Steps equal slices, calling OnStep between them.
// It is timing only; no decision depends on it.
type Dwell struct {
	Duration time.Duration
	Steps    int
	OnStep   func(ctx context.Context, step int)
}

// Do runs the dwell. It stops early if ctx is done.
func (d Dwell) Do(ctx context.Context) error {
	steps := d.Steps
	if steps < 1 {
		steps = 1
	}
	slice := d.Duration / time.Duration(steps)

	for i := 0; i < steps; i++ {
		if err := Sleep(ctx, slice); err != nil {
			return err
		}
		if d.OnStep != nil {
			d.OnStep(ctx, i)
		}
	}
	return nil
}
