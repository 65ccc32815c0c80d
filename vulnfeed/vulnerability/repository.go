package vulnerability

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SiriusScan/go-vulnfeed/vulnfeed"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/postgres/models"
)

const (
	// DefaultSearchLimit caps search results when the caller passes no limit.
	DefaultSearchLimit = 50

	upsertBatchSize = 500
)

// Store is the persistence boundary the ingest pipeline and the query
// handlers depend on.
type Store interface {
	// Upsert inserts or replaces records keyed by external id and returns
	// how many were written.
	Upsert(ctx context.Context, records []vulnfeed.Vulnerability) (int, error)
	// Search returns records matching term, newest first, at most limit.
	Search(ctx context.Context, term string, limit int) ([]vulnfeed.Vulnerability, error)
	// Stats aggregates severity and vendor counts over every record.
	Stats(ctx context.Context) (vulnfeed.Stats, error)
}

// Repository implements Store on top of gorm.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Upsert writes records in one transaction with
// INSERT ... ON CONFLICT (cve_id) DO UPDATE, so each key is replaced
// atomically by the database rather than read and rewritten here. Repeated
// ids within the batch collapse to their last occurrence.
func (r *Repository) Upsert(ctx context.Context, records []vulnfeed.Vulnerability) (int, error) {
	if r.db == nil {
		return 0, &StoreError{Op: "upsert", Err: ErrNoConnection}
	}
	if len(records) == 0 {
		return 0, nil
	}

	rows := dedupe(records)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cve_id"}},
			DoUpdates: clause.AssignmentColumns(models.ReplaceColumns),
		}).CreateInBatches(&rows, upsertBatchSize).Error
	})
	if err != nil {
		return 0, &StoreError{Op: "upsert", Err: err}
	}

	return len(rows), nil
}

func dedupe(records []vulnfeed.Vulnerability) []models.Vulnerability {
	rows := make([]models.Vulnerability, 0, len(records))
	index := make(map[string]int, len(records))
	for _, rec := range records {
		row := models.FromRecord(rec)
		if i, ok := index[row.CVEID]; ok {
			rows[i] = row
			continue
		}
		index[row.CVEID] = len(rows)
		rows = append(rows, row)
	}
	return rows
}

// Search matches term case-insensitively as a substring of title,
// description, cve_id or vendor. An empty term returns the newest records.
func (r *Repository) Search(ctx context.Context, term string, limit int) ([]vulnfeed.Vulnerability, error) {
	if r.db == nil {
		return nil, &StoreError{Op: "search", Err: ErrNoConnection}
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	query := r.db.WithContext(ctx).Model(&models.Vulnerability{})

	term = strings.TrimSpace(term)
	if term != "" {
		pattern := LikePattern(term)
		query = query.Where(
			"LOWER(title) LIKE ? ESCAPE '\\' OR LOWER(description) LIKE ? ESCAPE '\\' OR LOWER(cve_id) LIKE ? ESCAPE '\\' OR LOWER(vendor) LIKE ? ESCAPE '\\'",
			pattern, pattern, pattern, pattern,
		)
	}

	var rows []models.Vulnerability
	err := query.Order("published_date DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, &StoreError{Op: "search", Err: err}
	}

	results := make([]vulnfeed.Vulnerability, 0, len(rows))
	for _, row := range rows {
		results = append(results, row.ToRecord())
	}
	return results, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern lower-cases term, escapes LIKE wildcards and wraps it for a
// substring match.
func LikePattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
}

// Stats reads the severity and vendor of every record in one statement and
// aggregates them, so both breakdowns always sum to the same total.
func (r *Repository) Stats(ctx context.Context) (vulnfeed.Stats, error) {
	if r.db == nil {
		return vulnfeed.Stats{}, &StoreError{Op: "stats", Err: ErrNoConnection}
	}

	var rows []models.SeverityVendor
	err := r.db.WithContext(ctx).
		Model(&models.Vulnerability{}).
		Select("severity", "vendor").
		Find(&rows).Error
	if err != nil {
		return vulnfeed.Stats{}, &StoreError{Op: "stats", Err: err}
	}

	return Aggregate(rows), nil
}

// Aggregate counts rows per severity and per vendor.
func Aggregate(rows []models.SeverityVendor) vulnfeed.Stats {
	stats := vulnfeed.NewStats()
	for _, row := range rows {
		stats.Add(row.Severity, row.Vendor)
	}
	return stats
}

// RecordRun stores the outcome of an ingest run.
func (r *Repository) RecordRun(ctx context.Context, run *models.IngestRun) error {
	if r.db == nil {
		return &StoreError{Op: "record run", Err: ErrNoConnection}
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return &StoreError{Op: "record run", Err: err}
	}
	return nil
}

// Runs returns the most recent ingest runs, newest first.
func (r *Repository) Runs(ctx context.Context, limit int) ([]models.IngestRun, error) {
	if r.db == nil {
		return nil, &StoreError{Op: "list runs", Err: ErrNoConnection}
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	var runs []models.IngestRun
	err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, &StoreError{Op: "list runs", Err: fmt.Errorf("failed to query ingest runs: %w", err)}
	}
	return runs, nil
}
