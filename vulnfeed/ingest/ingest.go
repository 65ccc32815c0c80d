// Package ingest runs the fetch → normalize → upsert pipeline.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SiriusScan/go-vulnfeed/cvefeed"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/normalize"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/postgres/models"
)

// Fetcher retrieves one batch of raw advisories.
type Fetcher interface {
	FetchLatest(ctx context.Context) ([]cvefeed.Item, error)
}

// Upserter persists normalized records.
type Upserter interface {
	Upsert(ctx context.Context, records []vulnfeed.Vulnerability) (int, error)
}

// RunRecorder stores the outcome of each run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.IngestRun) error
}

// Invalidator drops derived data (the stats cache) after a write.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Snapshotter records a point-in-time view of the corpus after a run.
type Snapshotter interface {
	Capture(ctx context.Context, runID string) error
}

// Result summarises a successful run.
type Result struct {
	RunID   string
	Fetched int
	Stored  int
	Skipped []*normalize.RecordError
}

// Message is the human-readable summary returned to callers.
func (r Result) Message() string {
	msg := fmt.Sprintf("Fetched and stored %d latest vulnerabilities", r.Stored)
	if len(r.Skipped) > 0 {
		msg += fmt.Sprintf(" (%d skipped)", len(r.Skipped))
	}
	return msg
}

// Service wires the fetcher, normalizer and store together. It keeps no
// state between runs.
type Service struct {
	fetcher    Fetcher
	normalizer *normalize.Normalizer
	store      Upserter
	runs       RunRecorder
	stats      Invalidator
	snapshots  Snapshotter
	feedURL    string
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithRunRecorder records every run through r.
func WithRunRecorder(r RunRecorder) Option {
	return func(s *Service) { s.runs = r }
}

// WithInvalidator calls i after every successful upsert.
func WithInvalidator(i Invalidator) Option {
	return func(s *Service) { s.stats = i }
}

// WithSnapshots captures a snapshot after every run that stored records.
func WithSnapshots(sn Snapshotter) Option {
	return func(s *Service) { s.snapshots = sn }
}

// WithFeedURL stores the feed endpoint on recorded runs.
func WithFeedURL(url string) Option {
	return func(s *Service) { s.feedURL = url }
}

// NewService creates an ingest Service.
func NewService(fetcher Fetcher, normalizer *normalize.Normalizer, store Upserter, opts ...Option) *Service {
	s := &Service{
		fetcher:    fetcher,
		normalizer: normalizer,
		store:      store,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one ingest. A fetch or store failure aborts the run and is
// returned unchanged; records that fail normalization are reported in
// Result.Skipped and do not fail the run.
func (s *Service) Run(ctx context.Context, trigger string) (Result, error) {
	run := &models.IngestRun{
		RunID:     uuid.NewString(),
		Source:    s.normalizer.SourceName(),
		FeedURL:   s.feedURL,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	logger := slog.With("run_id", run.RunID, "trigger", trigger)
	result := Result{RunID: run.RunID}

	items, err := s.fetcher.FetchLatest(ctx)
	if err != nil {
		logger.Error("Fetch failed", "error", err)
		s.finish(ctx, run, result, err)
		return result, err
	}
	result.Fetched = len(items)
	logger.Info("Fetched vulnerabilities from CVE feed", "count", len(items))

	records, skipped := s.normalizer.Batch(items)
	result.Skipped = skipped

	stored, err := s.store.Upsert(ctx, records)
	if err != nil {
		logger.Error("Upsert failed", "records", len(records), "error", err)
		s.finish(ctx, run, result, err)
		return result, err
	}
	result.Stored = stored

	if stored > 0 {
		if s.stats != nil {
			s.stats.Invalidate(ctx)
		}
		if s.snapshots != nil {
			if err := s.snapshots.Capture(ctx, run.RunID); err != nil {
				logger.Warn("Failed to capture stats snapshot", "error", err)
			}
		}
	}

	logger.Info("Stored vulnerabilities", "fetched", result.Fetched, "stored", stored, "skipped", len(skipped))
	s.finish(ctx, run, result, nil)
	return result, nil
}

func (s *Service) finish(ctx context.Context, run *models.IngestRun, result Result, runErr error) {
	if s.runs == nil {
		return
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Fetched = result.Fetched
	run.Stored = result.Stored
	run.Skipped = len(result.Skipped)
	run.Status = models.RunStatusSucceeded
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Error = runErr.Error()
	}

	// A cancelled request context must not lose the run record.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.runs.RecordRun(recordCtx, run); err != nil {
		slog.Warn("Failed to record ingest run", "run_id", run.RunID, "error", err)
	}
}
