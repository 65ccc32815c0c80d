// File: vulnerability.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SiriusScan/go-vulnfeed/vulnfeed"
)

// Vulnerability is the persisted advisory row. cve_id is the only conflict
// key; every other column is replaced on re-ingest.
type Vulnerability struct {
	CVEID            string     `gorm:"column:cve_id;primaryKey;size:64" json:"cve_id"`
	Title            string     `gorm:"column:title;type:text;not null" json:"title"`
	Description      string     `gorm:"column:description;type:text" json:"description"`
	Severity         string     `gorm:"column:severity;size:16;not null;index:idx_vulnerabilities_severity" json:"severity"`
	CVSSScore        *float64   `gorm:"column:cvss_score" json:"cvss_score"`
	PublishedDate    time.Time  `gorm:"column:published_date;not null;index:idx_vulnerabilities_published,sort:desc" json:"published_date"`
	ModifiedDate     *time.Time `gorm:"column:modified_date" json:"modified_date"`
	Vendor           string     `gorm:"column:vendor;size:255;not null;index:idx_vulnerabilities_vendor" json:"vendor"`
	AffectedProducts StringList `gorm:"column:affected_products;type:text" json:"affected_products"`
	Source           string     `gorm:"column:source;size:255" json:"source"`
	SourceURL        string     `gorm:"column:source_url;type:text" json:"source_url"`
	ReferenceURLs    StringList `gorm:"column:reference_urls;type:text" json:"reference_urls"`
	CWEIDs           StringList `gorm:"column:cwe_ids;type:text" json:"cwe_ids"`
	Tags             StringList `gorm:"column:tags;type:text" json:"tags"`
	CreatedAt        time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for the Vulnerability model
func (Vulnerability) TableName() string {
	return "vulnerabilities"
}

// ReplaceColumns are the columns overwritten when an upsert hits an existing
// cve_id. created_at is kept from the first insert.
var ReplaceColumns = []string{
	"title",
	"description",
	"severity",
	"cvss_score",
	"published_date",
	"modified_date",
	"vendor",
	"affected_products",
	"source",
	"source_url",
	"reference_urls",
	"cwe_ids",
	"tags",
	"updated_at",
}

// FromRecord converts a canonical record into its row form.
func FromRecord(r vulnfeed.Vulnerability) Vulnerability {
	return Vulnerability{
		CVEID:            r.ExternalID,
		Title:            r.Title,
		Description:      r.Description,
		Severity:         r.Severity.String(),
		CVSSScore:        r.CVSSScore,
		PublishedDate:    r.PublishedDate.UTC(),
		ModifiedDate:     utcPtr(r.ModifiedDate),
		Vendor:           r.Vendor,
		AffectedProducts: StringList(r.AffectedProducts),
		Source:           r.Source,
		SourceURL:        r.SourceURL,
		ReferenceURLs:    StringList(r.ReferenceURLs),
		CWEIDs:           StringList(r.WeaknessIDs),
		Tags:             StringList(r.Tags),
	}
}

// ToRecord converts a row back into the canonical record.
func (v Vulnerability) ToRecord() vulnfeed.Vulnerability {
	return vulnfeed.Vulnerability{
		ExternalID:       v.CVEID,
		Title:            v.Title,
		Description:      v.Description,
		Severity:         vulnfeed.NormalizeSeverity(v.Severity),
		CVSSScore:        v.CVSSScore,
		PublishedDate:    v.PublishedDate.UTC(),
		ModifiedDate:     utcPtr(v.ModifiedDate),
		Vendor:           v.Vendor,
		AffectedProducts: v.AffectedProducts.Strings(),
		Source:           v.Source,
		SourceURL:        v.SourceURL,
		ReferenceURLs:    v.ReferenceURLs.Strings(),
		WeaknessIDs:      v.CWEIDs.Strings(),
		Tags:             v.Tags.Strings(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// StringList stores an ordered list of strings as a JSON array so the same
// column works on postgres and sqlite.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}

	if len(raw) == 0 {
		*l = StringList{}
		return nil
	}

	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to unmarshal string list: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

// Strings returns the list as a non-nil slice.
func (l StringList) Strings() []string {
	if l == nil {
		return []string{}
	}
	return []string(l)
}

// SeverityVendor is the projection the stats aggregation reads.
type SeverityVendor struct {
	Severity string `gorm:"column:severity"`
	Vendor   string `gorm:"column:vendor"`
}
