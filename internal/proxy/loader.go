package proxy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Loader refreshes a Pool from its sources. Sources are tried in order and
// the first one that yields addresses wins.
type Loader struct {
	pool     *Pool
	sources  []Source
	interval time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	lastRefresh time.Time
	now         func() time.Time
}

// NewLoader creates a loader for pool
func NewLoader(pool *Pool, interval time.Duration, logger *zap.Logger, sources ...Source) *Loader {
	return &Loader{
		pool:     pool,
		sources:  sources,
		interval: interval,
		logger:   logger.With(zap.String("component", "proxy-loader")),
		now:      time.Now,
	}
}

// Configured reports whether any source was given.
func (l *Loader) Configured() bool {
	return len(l.sources) > 0
}

// Refresh reloads the pool when the refresh interval elapsed, the pool is
// empty, or force is set. It returns the pool size afterwards.
func (l *Loader) Refresh(ctx context.Context, force bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.Configured() {
		return l.pool.Len()
	}

	now := l.now()
	due := l.lastRefresh.IsZero() || now.Sub(l.lastRefresh) >= l.interval
	if !force && !due && l.pool.Len() > 0 {
		return l.pool.Len()
	}
	l.lastRefresh = now

	for _, source := range l.sources {
		addresses, err := source.Fetch(ctx)
		if err != nil {
			l.logger.Warn("proxy source failed", zap.String("source", source.Name()), zap.Error(err))
			continue
		}
		if len(addresses) == 0 {
			l.logger.Warn("proxy source returned no addresses", zap.String("source", source.Name()))
			continue
		}

		size := l.pool.Load(addresses)
		l.logger.Info("proxy pool refreshed",
			zap.String("source", source.Name()),
			zap.Int("fetched", len(addresses)),
			zap.Int("pool_size", size))
		return size
	}

	l.logger.Warn("no proxy source produced addresses")
	return l.pool.Len()
}

// Remove deletes a dead proxy and refreshes immediately if the pool is
// left empty.
func (l *Loader) Remove(ctx context.Context, address string) {
	if !l.pool.Remove(address) {
		return
	}
	if l.pool.Len() == 0 {
		l.logger.Warn("proxy pool empty after removal, refreshing")
		l.Refresh(ctx, true)
	}
}
