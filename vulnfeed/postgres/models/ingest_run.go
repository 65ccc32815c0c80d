// File: ingest_run.go
package models

import (
	"time"
)

// IngestRun records the outcome of one fetch → normalize → upsert cycle.
type IngestRun struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID      string     `gorm:"uniqueIndex;not null;size:64" json:"run_id"`
	Source     string     `gorm:"size:255;not null" json:"source"`
	FeedURL    string     `gorm:"column:feed_url;type:text" json:"feed_url"`
	Trigger    string     `gorm:"column:triggered_by;size:32;not null" json:"trigger"`
	Status     string     `gorm:"size:16;not null;index:idx_ingest_runs_status" json:"status"`
	Fetched    int        `gorm:"not null;default:0" json:"fetched"`
	Stored     int        `gorm:"not null;default:0" json:"stored"`
	Skipped    int        `gorm:"not null;default:0" json:"skipped"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt  time.Time  `gorm:"not null;index:idx_ingest_runs_started,sort:desc" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TableName specifies the table name for the IngestRun model
func (IngestRun) TableName() string {
	return "ingest_runs"
}

// IngestRun status values
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// IngestRun trigger values
const (
	TriggerAPI   = "api"
	TriggerCLI   = "cli"
	TriggerQueue = "queue"
)
