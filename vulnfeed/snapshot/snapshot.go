// Package snapshot keeps a short history of corpus statistics in Valkey so
// trends can be shown without rescanning past data.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/SiriusScan/go-vulnfeed/vulnfeed"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/store"
)

const (
	KeyPrefix = "vulnfeed:snapshot:"
	// MaxSnapshots is the number of snapshots kept; older ones are deleted.
	MaxSnapshots = 10
	// idLayout is fixed width so ids sort lexically in time order. The
	// microsecond part keeps runs in the same second apart.
	idLayout = "2006-01-02-150405.000000"
)

var ErrNoSnapshots = errors.New("no snapshots available")

// Snapshot is the stats view at one point in time.
type Snapshot struct {
	SnapshotID string         `json:"snapshot_id"`
	Timestamp  time.Time      `json:"timestamp"`
	RunID      string         `json:"run_id,omitempty"`
	Stats      vulnfeed.Stats `json:"stats"`
	DurationMs int64          `json:"duration_ms"`
}

// Source computes fresh statistics. It must not be a cached view.
type Source interface {
	Stats(ctx context.Context) (vulnfeed.Stats, error)
}

// Manager creates, lists and prunes snapshots.
type Manager struct {
	kv     store.KVStore
	source Source
	now    func() time.Time
}

func NewManager(kv store.KVStore, source Source) *Manager {
	return &Manager{kv: kv, source: source, now: time.Now}
}

// Capture records a snapshot for runID. It satisfies the ingest hook.
func (m *Manager) Capture(ctx context.Context, runID string) error {
	_, err := m.Create(ctx, runID)
	return err
}

// Create computes, stores and returns a new snapshot, then prunes old ones.
func (m *Manager) Create(ctx context.Context, runID string) (*Snapshot, error) {
	start := m.now()

	stats, err := m.source.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate snapshot: %w", err)
	}

	now := start.UTC()
	snap := &Snapshot{
		SnapshotID: now.Format(idLayout),
		Timestamp:  now,
		RunID:      runID,
		Stats:      stats,
		DurationMs: m.now().Sub(start).Milliseconds(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := m.kv.SetValue(ctx, KeyPrefix+snap.SnapshotID, string(data)); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	if err := m.Cleanup(ctx); err != nil {
		slog.Warn("Failed to cleanup old snapshots", "error", err)
	}
	return snap, nil
}

// Get loads one snapshot by id.
func (m *Manager) Get(ctx context.Context, snapshotID string) (*Snapshot, error) {
	raw, err := m.kv.GetValue(ctx, KeyPrefix+snapshotID)
	if err != nil {
		return nil, fmt.Errorf("snapshot not found for ID %s: %w", snapshotID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// List returns snapshot ids, most recent first.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	keys, err := m.kv.ListKeys(ctx, KeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id := strings.TrimPrefix(key, KeyPrefix); id != key && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Trend returns up to limit snapshots, most recent first. Snapshots that
// fail to load are skipped.
func (m *Manager) Trend(ctx context.Context, limit int) ([]*Snapshot, error) {
	if limit <= 0 || limit > MaxSnapshots {
		limit = MaxSnapshots
	}

	ids, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	snaps := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := m.Get(ctx, id)
		if err != nil {
			slog.Debug("Skipping unreadable snapshot", "snapshot_id", id, "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Latest returns the most recent snapshot.
func (m *Manager) Latest(ctx context.Context) (*Snapshot, error) {
	ids, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoSnapshots
	}
	return m.Get(ctx, ids[0])
}

// Cleanup deletes all but the MaxSnapshots most recent snapshots.
func (m *Manager) Cleanup(ctx context.Context) error {
	ids, err := m.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) <= MaxSnapshots {
		return nil
	}

	for _, id := range ids[MaxSnapshots:] {
		key := KeyPrefix + id
		if err := m.kv.DeleteValue(ctx, key); err != nil {
			slog.Warn("Failed to delete old snapshot", "key", key, "error", err)
		}
	}
	return nil
}
