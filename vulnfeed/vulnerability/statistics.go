package vulnerability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/SiriusScan/go-vulnfeed/vulnfeed"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/store"
)

const (
	// CacheKeyStats is the key the corpus statistics are cached under
	CacheKeyStats = "vulnfeed:stats"
	// DefaultStatsTTL is the cache time-to-live (5 minutes)
	DefaultStatsTTL = 5 * time.Minute
	// computeTimeout bounds a shared recomputation, which no single
	// caller's context owns.
	computeTimeout = 30 * time.Second
)

// StatsSource computes fresh statistics, normally the Repository.
type StatsSource interface {
	Stats(ctx context.Context) (vulnfeed.Stats, error)
}

// StatsService serves corpus statistics through a Valkey cache. Concurrent
// misses share one computation. A nil KVStore disables caching.
type StatsService struct {
	source StatsSource
	kv     store.KVStore
	ttl    time.Duration
	group  singleflight.Group
	// generation is bumped by Invalidate; a computation that overlapped an
	// invalidation does not write the cache.
	generation atomic.Uint64
}

// NewStatsService creates a StatsService.
func NewStatsService(source StatsSource, kv store.KVStore, ttl time.Duration) *StatsService {
	if ttl <= 0 {
		ttl = DefaultStatsTTL
	}
	return &StatsService{source: source, kv: kv, ttl: ttl}
}

// Stats returns cached statistics when available, else computes and caches
// them. Cache failures are logged and never fail the call.
func (s *StatsService) Stats(ctx context.Context) (vulnfeed.Stats, error) {
	if cached, ok := s.cached(ctx); ok {
		return cached, nil
	}

	ch := s.group.DoChan(CacheKeyStats, func() (interface{}, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()

		gen := s.generation.Load()
		stats, err := s.source.Stats(workCtx)
		if err != nil {
			return nil, err
		}
		if s.generation.Load() == gen {
			s.store(workCtx, stats)
		}
		return stats, nil
	})

	select {
	case <-ctx.Done():
		return vulnfeed.Stats{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return vulnfeed.Stats{}, res.Err
		}
		return res.Val.(vulnfeed.Stats), nil
	}
}

// Invalidate drops the cached statistics so the next call recomputes them.
func (s *StatsService) Invalidate(ctx context.Context) {
	s.generation.Add(1)
	if s.kv == nil {
		return
	}
	if err := s.kv.DeleteValue(ctx, CacheKeyStats); err != nil {
		slog.Warn("Failed to invalidate stats cache", "key", CacheKeyStats, "error", err)
	}
}

func (s *StatsService) cached(ctx context.Context) (vulnfeed.Stats, bool) {
	if s.kv == nil {
		return vulnfeed.Stats{}, false
	}

	raw, err := s.kv.GetValue(ctx, CacheKeyStats)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Stats cache read failed", "key", CacheKeyStats, "error", err)
		}
		return vulnfeed.Stats{}, false
	}

	stats := vulnfeed.NewStats()
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		slog.Warn("Discarding unreadable stats cache entry", "key", CacheKeyStats, "error", err)
		return vulnfeed.Stats{}, false
	}
	return stats, true
}

func (s *StatsService) store(ctx context.Context, stats vulnfeed.Stats) {
	if s.kv == nil {
		return
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		slog.Warn("Failed to serialize stats for cache", "error", err)
		return
	}
	if err := s.kv.SetValueWithTTL(ctx, CacheKeyStats, string(payload), s.ttl); err != nil {
		slog.Warn("Stats cache write failed", "key", CacheKeyStats, "error", err)
	}
}
