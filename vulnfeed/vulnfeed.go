package vulnfeed

import (
	"strings"
	"time"
)

// DefaultVendor is stored when a source does not attribute an advisory to a
// single vendor.
const DefaultVendor = "Multiple"

// ========================= Severity =========================

// Severity is the coarse four-level risk classification of a record.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every valid severity from least to most severe.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity maps a source label onto a Severity, ignoring case and
// surrounding whitespace.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, true
	case SeverityMedium:
		return SeverityMedium, true
	case SeverityHigh:
		return SeverityHigh, true
	case SeverityCritical:
		return SeverityCritical, true
	default:
		return "", false
	}
}

// NormalizeSeverity is ParseSeverity with the medium fallback applied to
// unknown or empty labels.
func NormalizeSeverity(s string) Severity {
	if sev, ok := ParseSeverity(s); ok {
		return sev
	}
	return SeverityMedium
}

// SeverityFromScore applies the CVSS v3 qualitative rating bands. A score of
// 0.0 ("none") is reported as low since there is no lower bucket.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Weight returns a numeric weight for sorting (higher = more severe).
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func (s Severity) String() string {
	return string(s)
}

// ========================= Vulnerability =========================

// Vulnerability is the canonical advisory record shared by ingest, search and
// stats. JSON names match the columns the front-end reads.
type Vulnerability struct {
	ExternalID       string     `json:"cve_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Severity         Severity   `json:"severity"`
	CVSSScore        *float64   `json:"cvss_score"`
	PublishedDate    time.Time  `json:"published_date"`
	ModifiedDate     *time.Time `json:"modified_date"`
	Vendor           string     `json:"vendor"`
	AffectedProducts []string   `json:"affected_products"`
	Source           string     `json:"source"`
	SourceURL        string     `json:"source_url"`
	ReferenceURLs    []string   `json:"reference_urls"`
	WeaknessIDs      []string   `json:"cwe_ids"`
	Tags             []string   `json:"tags"`
}

// ========================= Stats =========================

// Stats is the aggregate view over the whole stored corpus.
type Stats struct {
	Total          int            `json:"total"`
	SeverityCounts map[string]int `json:"severityCounts"`
	VendorCounts   map[string]int `json:"vendorCounts"`
}

// NewStats returns an empty aggregate with non-nil maps.
func NewStats() Stats {
	return Stats{
		SeverityCounts: map[string]int{},
		VendorCounts:   map[string]int{},
	}
}

// Add counts one record.
func (s *Stats) Add(severity, vendor string) {
	s.Total++
	s.SeverityCounts[severity]++
	s.VendorCounts[vendor]++
}
