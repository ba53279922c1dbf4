package proxy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, maxFailures uint, addrs ...string) *Pool {
	t.Helper()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPool(maxFailures,
		WithRand(rand.New(rand.NewSource(42))),
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
	)
	require.Equal(t, len(addrs), p.Load(addrs))
	return p
}

func failureCount(p *Pool, addr string) uint {
	for _, rec := range p.Records() {
		if rec.Address == addr {
			return rec.FailureCount
		}
	}
	return 0
}

func TestPool_NextOnEmptyPool(t *testing.T) {
	p := NewPool(3)

	_, ok := p.Next(SelectLRU)
	assert.False(t, ok)
	_, ok = p.Rotate("")
	assert.False(t, ok)
}

func TestPool_NextSkipsExhaustedRecords(t *testing.T) {
	p := newTestPool(t, 2, "1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80")
	p.MarkFailed("1.1.1.1:80")
	p.MarkFailed("1.1.1.1:80")
	p.MarkFailed("2.2.2.2:80")
	p.MarkFailed("2.2.2.2:80")

	for i := 0; i < 50; i++ {
		for _, mode := range []SelectMode{SelectLRU, SelectRandom} {
			addr, ok := p.Next(mode)
			require.True(t, ok)
			assert.Equal(t, "3.3.3.3:80", addr)
		}
	}
}

func TestPool_NextResetsWhenAllExhausted(t *testing.T) {
	p := newTestPool(t, 1, "1.1.1.1:80", "2.2.2.2:80")
	p.MarkFailed("1.1.1.1:80")
	p.MarkFailed("2.2.2.2:80")

	stats := p.Stats()
	assert.Equal(t, 2, stats.Exhausted)

	addr, ok := p.Next(SelectRandom)
	require.True(t, ok)
	assert.Contains(t, []string{"1.1.1.1:80", "2.2.2.2:80"}, addr)

	stats = p.Stats()
	assert.Equal(t, 0, stats.Exhausted)
	assert.Equal(t, uint(0), stats.FailureSum)

	// A second selection after recovery behaves normally.
	_, ok = p.Next(SelectLRU)
	assert.True(t, ok)
}

func TestPool_LRUPrefersLeastRecentlyUsed(t *testing.T) {
	p := newTestPool(t, 3, "1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80", "4.4.4.4:80")

	// Use three records so only one has a zero LastUsed.
	used := map[string]bool{}
	for len(used) < 3 {
		addr, _ := p.Next(SelectRandom)
		used[addr] = true
	}

	var fresh string
	for _, rec := range p.Records() {
		if !used[rec.Address] {
			fresh = rec.Address
		}
	}

	// With four records the candidate window is the three oldest, so the
	// most recently used record is never chosen.
	newest := ""
	var newestAt time.Time
	for _, rec := range p.Records() {
		if rec.LastUsed.After(newestAt) {
			newest, newestAt = rec.Address, rec.LastUsed
		}
	}

	addr, ok := p.Next(SelectLRU)
	require.True(t, ok)
	assert.NotEqual(t, newest, addr)
	assert.NotEmpty(t, fresh)
}

func TestPool_NextUpdatesLastUsed(t *testing.T) {
	p := newTestPool(t, 3, "1.1.1.1:80")

	before := p.Records()[0].LastUsed
	_, ok := p.Next(SelectLRU)
	require.True(t, ok)
	assert.True(t, p.Records()[0].LastUsed.After(before))
}

func TestPool_RotateAvoidsPrevious(t *testing.T) {
	p := newTestPool(t, 3, "1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80")

	for i := 0; i < 50; i++ {
		addr, ok := p.Rotate("2.2.2.2:80")
		require.True(t, ok)
		assert.NotEqual(t, "2.2.2.2:80", addr)
	}
}

func TestPool_RotateSingleRecordReturnsIt(t *testing.T) {
	p := newTestPool(t, 3, "1.1.1.1:80")

	addr, ok := p.Rotate("1.1.1.1:80")
	require.True(t, ok)
	assert.Equal(t, "1.1.1.1:80", addr)
}

func TestPool_LoadMergesAndDeduplicates(t *testing.T) {
	p := newTestPool(t, 2, "1.1.1.1:80", "2.2.2.2:80")
	p.MarkFailed("1.1.1.1:80")
	p.MarkFailed("2.2.2.2:80")
	p.MarkFailed("2.2.2.2:80")

	size := p.Load([]string{"1.1.1.1:80", "3.3.3.3:80", "3.3.3.3:80", "999.1.1.1:80", "4.4.4.4:0", "bogus"})
	assert.Equal(t, 2, size)

	// Kept record retains its counter; the exhausted one comes back fresh.
	assert.Equal(t, uint(1), failureCount(p, "1.1.1.1:80"))
	assert.Equal(t, uint(0), failureCount(p, "3.3.3.3:80"))

	size = p.Load([]string{"2.2.2.2:80"})
	assert.Equal(t, 3, size)
	assert.Equal(t, uint(0), failureCount(p, "2.2.2.2:80"))
}

func TestPool_RemoveAndStats(t *testing.T) {
	p := newTestPool(t, 2, "1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80")
	p.MarkFailed("1.1.1.1:80")
	p.MarkFailed("1.1.1.1:80")
	p.MarkFailed("2.2.2.2:80")
	p.MarkFailed("9.9.9.9:80")

	stats := p.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Exhausted)
	assert.Equal(t, uint(3), stats.FailureSum)
	assert.Equal(t, stats, p.Stats(), "stats must not change state")

	assert.True(t, p.Remove("1.1.1.1:80"))
	assert.False(t, p.Remove("1.1.1.1:80"))
	assert.Equal(t, 2, p.Len())
}
