// Package proxy manages the egress addresses sessions are bound to.
package proxy

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

// DefaultMaxFailures is the failure count at which a record stops being
// selected.
const DefaultMaxFailures = 3

// SelectMode picks between the two selection policies of Next.
type SelectMode int

const (
	// SelectLRU picks randomly among the least recently used half.
	SelectLRU SelectMode = iota
	// SelectRandom picks uniformly among all eligible records.
	SelectRandom
)

// Pool owns the proxy records and their health counters
type Pool struct {
	mu          sync.Mutex
	records     []*models.ProxyRecord
	maxFailures uint
	rng         *rand.Rand
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures a Pool
type Option func(*Pool)

// WithRand sets the random source, mainly for tests.
func WithRand(rng *rand.Rand) Option {
	return func(p *Pool) { p.rng = rng }
}

// WithClock sets the clock used for LastUsed.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) { p.logger = logger.With(zap.String("component", "proxy-pool")) }
}

// NewPool creates an empty pool
func NewPool(maxFailures uint, opts ...Option) *Pool {
	if maxFailures == 0 {
		maxFailures = DefaultMaxFailures
	}

	p := &Pool{
		maxFailures: maxFailures,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load merges addresses into the pool. Existing records below the failure
// threshold are kept with their counters; records at or above it are
// dropped. Invalid and duplicate addresses are discarded. It returns the
// number of records after the merge.
func (p *Pool) Load(addresses []string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	merged := make([]*models.ProxyRecord, 0, len(p.records)+len(addresses))
	seen := make(map[string]bool)

	for _, rec := range p.records {
		if rec.FailureCount >= p.maxFailures || seen[rec.Address] {
			continue
		}
		seen[rec.Address] = true
		merged = append(merged, rec)
	}

	invalid := 0
	for _, addr := range addresses {
		if !ValidAddress(addr) {
			invalid++
			continue
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		merged = append(merged, &models.ProxyRecord{Address: addr})
	}

	p.records = merged
	p.logger.Info("proxy list merged",
		zap.Int("records", len(merged)),
		zap.Int("discarded_invalid", invalid))

	return len(merged)
}

// Next returns one address using mode, or false if the pool is empty.
func (p *Pool) Next(mode SelectMode) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	eligible := p.eligible()
	if len(eligible) == 0 {
		return "", false
	}

	return p.pick(eligible, mode), true
}

// Rotate returns a uniformly random address other than previous whenever
// another eligible record exists.
func (p *Pool) Rotate(previous string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	eligible := p.eligible()
	if len(eligible) == 0 {
		return "", false
	}

	others := make([]*models.ProxyRecord, 0, len(eligible))
	for _, rec := range eligible {
		if rec.Address != previous {
			others = append(others, rec)
		}
	}
	if len(others) > 0 {
		eligible = others
	}

	return p.pick(eligible, SelectRandom), true
}

// eligible returns the records below the failure threshold, resetting every
// counter first when none are. Callers hold p.mu.
func (p *Pool) eligible() []*models.ProxyRecord {
	if len(p.records) == 0 {
		return nil
	}

	eligible := make([]*models.ProxyRecord, 0, len(p.records))
	for _, rec := range p.records {
		if rec.FailureCount < p.maxFailures {
			eligible = append(eligible, rec)
		}
	}

	if len(eligible) == 0 {
		p.logger.Warn("every proxy reached the failure threshold, resetting counters",
			zap.Int("records", len(p.records)))
		for _, rec := range p.records {
			rec.FailureCount = 0
		}
		eligible = append(eligible, p.records...)
	}

	return eligible
}

// pick selects one record and stamps LastUsed. Callers hold p.mu.
func (p *Pool) pick(eligible []*models.ProxyRecord, mode SelectMode) string {
	var selected *models.ProxyRecord

	switch mode {
	case SelectLRU:
		sort.SliceStable(eligible, func(i, j int) bool {
			return eligible[i].LastUsed.Before(eligible[j].LastUsed)
		})
		upper := len(eligible) / 2
		if upper > len(eligible)-1 {
			upper = len(eligible) - 1
		}
		selected = eligible[p.rng.Intn(upper+1)]
	default:
		selected = eligible[p.rng.Intn(len(eligible))]
	}

	selected.LastUsed = p.now()
	p.logger.Debug("proxy selected", zap.String("proxy", selected.Address))
	return selected.Address
}

// MarkFailed increments the failure counter of address.
func (p *Pool) MarkFailed(address string) {
	if address == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, rec := range p.records {
		if rec.Address != address {
			continue
		}
		rec.FailureCount++
		if rec.FailureCount >= p.maxFailures {
			p.logger.Warn("proxy reached failure threshold",
				zap.String("proxy", address),
				zap.Uint("failures", rec.FailureCount))
		} else {
			p.logger.Info("proxy marked failed",
				zap.String("proxy", address),
				zap.Uint("failures", rec.FailureCount))
		}
		return
	}
}

// Remove deletes address from the pool. It reports whether a record was
// removed.
func (p *Pool) Remove(address string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, rec := range p.records {
		if rec.Address == address {
			p.records = append(p.records[:i], p.records[i+1:]...)
			p.logger.Info("proxy removed", zap.String("proxy", address))
			return true
		}
	}
	return false
}

// Stats returns counts over the pool without modifying it.
func (p *Pool) Stats() models.ProxyStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := models.ProxyStats{Total: len(p.records)}
	for _, rec := range p.records {
		stats.FailureSum += rec.FailureCount
		if rec.FailureCount >= p.maxFailures {
			stats.Exhausted++
		}
	}
	return stats
}

// Records returns a copy of every record in load order.
func (p *Pool) Records() []models.ProxyRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.ProxyRecord, len(p.records))
	for i, rec := range p.records {
		out[i] = *rec
	}
	return out
}

// Len returns the number of records
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}
