// Package normalize maps raw feed advisories onto the canonical
// vulnfeed.Vulnerability record.
package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/SiriusScan/go-vulnfeed/cvefeed"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed"
)

const (
	DefaultSourceName        = "CVE Feed"
	DefaultSourceURLTemplate = "https://cvefeed.io/vuln/%s"
	DefaultTitleLength       = 100

	// NoDescription replaces a missing English description.
	NoDescription = "No description available"

	titleEllipsis = "..."
)

var (
	ErrMissingID        = errors.New("record has no identifier")
	ErrMissingPublished = errors.New("record has no published date")
)

// RecordError is a per-record normalization failure. The record is skipped
// and the rest of the batch continues.
type RecordError struct {
	Index      int
	ExternalID string
	Err        error
}

func (e *RecordError) Error() string {
	id := e.ExternalID
	if id == "" {
		id = fmt.Sprintf("#%d", e.Index)
	}
	return fmt.Sprintf("normalize %s: %v", id, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Options configures a Normalizer. Zero values fall back to the defaults.
type Options struct {
	SourceName string
	// SourceURLTemplate must contain one %s verb for the external id.
	SourceURLTemplate string
	// TitleLength is the number of description runes kept in the title.
	TitleLength int
}

// Normalizer converts feed items into canonical records.
type Normalizer struct {
	sourceName  string
	urlTemplate string
	titleLength int
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	if opts.SourceName == "" {
		opts.SourceName = DefaultSourceName
	}
	if opts.SourceURLTemplate == "" {
		opts.SourceURLTemplate = DefaultSourceURLTemplate
	}
	if opts.TitleLength <= 0 {
		opts.TitleLength = DefaultTitleLength
	}
	return &Normalizer{
		sourceName:  opts.SourceName,
		urlTemplate: opts.SourceURLTemplate,
		titleLength: opts.TitleLength,
	}
}

// SourceName is the human-readable origin stamped on every record.
func (n *Normalizer) SourceName() string {
	return n.sourceName
}

// Batch normalizes every item, collecting failures instead of stopping at
// the first one. Successful records keep their input order.
func (n *Normalizer) Batch(items []cvefeed.Item) ([]vulnfeed.Vulnerability, []*RecordError) {
	records := make([]vulnfeed.Vulnerability, 0, len(items))
	var failures []*RecordError

	for i, item := range items {
		record, err := n.Record(item)
		if err != nil {
			recErr := &RecordError{Index: i, ExternalID: item.ID, Err: err}
			slog.Warn("Skipping advisory", "index", i, "id", item.ID, "error", err)
			failures = append(failures, recErr)
			continue
		}
		records = append(records, record)
	}

	return records, failures
}

// Record normalizes a single item.
func (n *Normalizer) Record(item cvefeed.Item) (vulnfeed.Vulnerability, error) {
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return vulnfeed.Vulnerability{}, ErrMissingID
	}

	published, err := ParseTimestamp(item.Published)
	if err != nil {
		return vulnfeed.Vulnerability{}, fmt.Errorf("published date: %w", err)
	}

	var modified *time.Time
	if item.LastModified != "" {
		if t, err := ParseTimestamp(item.LastModified); err == nil {
			modified = &t
		} else {
			slog.Debug("Ignoring unparseable lastModified", "id", id, "value", item.LastModified)
		}
	}

	description := englishDescription(item.Descriptions)
	score, severity := scoreAndSeverity(id, item.Metrics)
	vendor, products := attribution(item.Configurations)

	return vulnfeed.Vulnerability{
		ExternalID:       id,
		Title:            n.Title(id, description),
		Description:      description,
		Severity:         severity,
		CVSSScore:        score,
		PublishedDate:    published,
		ModifiedDate:     modified,
		Vendor:           vendor,
		AffectedProducts: products,
		Source:           n.sourceName,
		SourceURL:        fmt.Sprintf(n.urlTemplate, id),
		ReferenceURLs:    referenceURLs(item.References),
		WeaknessIDs:      weaknessIDs(item.Weaknesses),
		Tags:             tags(item),
	}, nil
}

// Title joins the id with the first TitleLength runes of the description.
// The ellipsis is always appended, even for short descriptions.
func (n *Normalizer) Title(id, description string) string {
	runes := []rune(description)
	if len(runes) > n.titleLength {
		runes = runes[:n.titleLength]
	}
	return id + " - " + string(runes) + titleEllipsis
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts RFC3339 and the zone-less layouts NVD uses. Zone-less
// values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrMissingPublished
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func englishDescription(descriptions []cvefeed.LangString) string {
	for _, d := range descriptions {
		if d.Lang == "en" && d.Value != "" {
			return d.Value
		}
	}
	return NoDescription
}

// scoreAndSeverity reads the first entry of the first CVSS version present,
// in order v3.1, v3.0, v4.0, v2.
func scoreAndSeverity(id string, metrics *cvefeed.Metrics) (*float64, vulnfeed.Severity) {
	if metrics == nil {
		return nil, vulnfeed.SeverityMedium
	}

	var (
		data  cvefeed.CvssData
		label string
	)
	switch {
	case len(metrics.CvssMetricV31) > 0:
		data = metrics.CvssMetricV31[0].CvssData
		label = data.BaseSeverity
	case len(metrics.CvssMetricV30) > 0:
		data = metrics.CvssMetricV30[0].CvssData
		label = data.BaseSeverity
	case len(metrics.CvssMetricV40) > 0:
		data = metrics.CvssMetricV40[0].CvssData
		label = data.BaseSeverity
	case len(metrics.CvssMetricV2) > 0:
		data = metrics.CvssMetricV2[0].CvssData
		label = metrics.CvssMetricV2[0].BaseSeverity
		if label == "" {
			label = data.BaseSeverity
		}
	default:
		return nil, vulnfeed.SeverityMedium
	}

	score := data.BaseScore
	if score == nil && data.VectorString != "" {
		if computed, err := ScoreFromVector(data.VectorString); err == nil {
			score = &computed
		} else {
			slog.Debug("Failed to score CVSS vector", "id", id, "vector", data.VectorString, "error", err)
		}
	}
	if score != nil && !validScore(*score) {
		slog.Warn("Dropping out of range CVSS score", "id", id, "score", *score)
		score = nil
	}
	if score != nil {
		// detach from the raw item
		s := *score
		score = &s
	}

	switch {
	case label != "":
		return score, vulnfeed.NormalizeSeverity(label)
	case score != nil:
		return score, vulnfeed.SeverityFromScore(*score)
	default:
		return score, vulnfeed.SeverityMedium
	}
}

func validScore(score float64) bool {
	return !math.IsNaN(score) && score >= 0 && score <= 10
}

func weaknessIDs(weaknesses []cvefeed.Weakness) []string {
	ids := []string{}
	for _, w := range weaknesses {
		for _, d := range w.Description {
			if d.Lang == "en" {
				ids = append(ids, d.Value)
			}
		}
	}
	return ids
}

func referenceURLs(references []cvefeed.Reference) []string {
	urls := make([]string, 0, len(references))
	for _, r := range references {
		if r.URL != "" {
			urls = append(urls, r.URL)
		}
	}
	return urls
}

func tags(item cvefeed.Item) []string {
	out := []string{}
	seen := map[string]bool{}
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		out = append(out, tag)
	}

	add(item.VulnStatus)
	for _, t := range item.CveTags {
		for _, tag := range t.Tags {
			add(tag)
		}
	}
	return out
}
