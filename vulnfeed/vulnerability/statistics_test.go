package vulnerability

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiriusScan/go-vulnfeed/vulnfeed"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/postgres/models"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/store"
)

// memoryKV is an in-process store.KVStore used in place of Valkey.
type memoryKV struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failGet bool
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryKV) GetValue(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return "", errors.New("connection refused")
	}
	v, ok := m.data[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (m *memoryKV) SetValue(ctx context.Context, key, value string) error {
	return m.SetValueWithTTL(ctx, key, value, 0)
}

func (m *memoryKV) ListKeys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memoryKV) SetValueWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memoryKV) DeleteValue(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryKV) Close() error { return nil }

type countingSource struct {
	calls  int32
	stats  vulnfeed.Stats
	err    error
	delay  time.Duration
	during func()
}

func (c *countingSource) Stats(ctx context.Context) (vulnfeed.Stats, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.during != nil {
		c.during()
	}
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return vulnfeed.Stats{}, ctx.Err()
		case <-time.After(c.delay):
		}
	}
	return c.stats, c.err
}

func sampleStats() vulnfeed.Stats {
	return Aggregate([]models.SeverityVendor{
		{Severity: "high", Vendor: "Dell"},
		{Severity: "medium", Vendor: "Multiple"},
		{Severity: "high", Vendor: "Multiple"},
	})
}

func TestAggregate(t *testing.T) {
	stats := sampleStats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[string]int{"high": 2, "medium": 1}, stats.SeverityCounts)
	assert.Equal(t, map[string]int{"Dell": 1, "Multiple": 2}, stats.VendorCounts)

	empty := Aggregate(nil)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.SeverityCounts)
}

func TestStatsServiceCachesResult(t *testing.T) {
	kv := newMemoryKV()
	source := &countingSource{stats: sampleStats()}
	svc := NewStatsService(source, kv, time.Minute)

	first, err := svc.Stats(context.Background())
	require.NoError(t, err)
	second, err := svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.calls))
	assert.Equal(t, time.Minute, kv.ttls[CacheKeyStats])

	svc.Invalidate(context.Background())
	_, err = svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&source.calls))
}

func TestStatsServiceFallsBackWhenCacheFails(t *testing.T) {
	kv := newMemoryKV()
	kv.failGet = true
	source := &countingSource{stats: sampleStats()}

	stats, err := NewStatsService(source, kv, 0).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
}

func TestStatsServiceWithoutCache(t *testing.T) {
	source := &countingSource{stats: sampleStats()}
	svc := NewStatsService(source, nil, 0)

	for i := 0; i < 2; i++ {
		_, err := svc.Stats(context.Background())
		require.NoError(t, err)
	}
	svc.Invalidate(context.Background())
	assert.Equal(t, int32(2), atomic.LoadInt32(&source.calls))
}

func TestStatsServicePropagatesSourceError(t *testing.T) {
	kv := newMemoryKV()
	source := &countingSource{err: &StoreError{Op: "stats", Err: errors.New("boom")}}

	_, err := NewStatsService(source, kv, 0).Stats(context.Background())
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	_, cached := kv.data[CacheKeyStats]
	assert.False(t, cached)
}

func TestStatsServiceCollapsesConcurrentMisses(t *testing.T) {
	source := &countingSource{stats: sampleStats(), delay: 50 * time.Millisecond}
	svc := NewStatsService(source, nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := svc.Stats(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 3, stats.Total)
		}()
	}
	wg.Wait()

	assert.Less(t, atomic.LoadInt32(&source.calls), int32(8))
}

func TestStatsServiceSharedComputationOutlivesCancelledCaller(t *testing.T) {
	kv := newMemoryKV()
	source := &countingSource{stats: sampleStats(), delay: 100 * time.Millisecond}
	svc := NewStatsService(source, kv, time.Minute)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Stats(first)
		firstErr <- err
	}()

	// let the first caller own the flight before the second joins it
	time.Sleep(20 * time.Millisecond)
	secondDone := make(chan struct{})
	var second vulnfeed.Stats
	var secondErr error
	go func() {
		defer close(secondDone)
		second, secondErr = svc.Stats(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	<-secondDone
	require.NoError(t, secondErr)
	assert.Equal(t, 3, second.Total)
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.calls))

	kv.mu.Lock()
	_, cached := kv.data[CacheKeyStats]
	kv.mu.Unlock()
	assert.True(t, cached)
}

func TestStatsServiceSkipsCacheWriteAfterInvalidate(t *testing.T) {
	kv := newMemoryKV()
	source := &countingSource{stats: sampleStats()}
	svc := NewStatsService(source, kv, time.Minute)
	source.during = func() { svc.Invalidate(context.Background()) }

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)

	kv.mu.Lock()
	_, cached := kv.data[CacheKeyStats]
	kv.mu.Unlock()
	assert.False(t, cached)

	source.during = nil
	_, err = svc.Stats(context.Background())
	require.NoError(t, err)

	kv.mu.Lock()
	_, cached = kv.data[CacheKeyStats]
	kv.mu.Unlock()
	assert.True(t, cached)
	assert.Equal(t, int32(2), atomic.LoadInt32(&source.calls))
}
