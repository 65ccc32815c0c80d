package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/SiriusScan/go-vulnfeed/vulnfeed"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/normalize"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/postgres/models"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/snapshot"
)

const titleWidth = 60

var severityColor = map[vulnfeed.Severity]func(a ...interface{}) string{
	vulnfeed.SeverityLow:      color.New(color.FgCyan).SprintFunc(),
	vulnfeed.SeverityMedium:   color.New(color.FgYellow).SprintFunc(),
	vulnfeed.SeverityHigh:     color.New(color.FgHiRed).SprintFunc(),
	vulnfeed.SeverityCritical: color.New(color.FgRed, color.Bold).SprintFunc(),
}

func colorizeSeverity(s vulnfeed.Severity) string {
	if fn, ok := severityColor[s]; ok {
		return fn(s.String())
	}
	return s.String()
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.Off}},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
	)
}

func renderVulnerabilities(w io.Writer, records []vulnfeed.Vulnerability) error {
	if len(records) == 0 {
		fmt.Fprintln(w, color.GreenString("No vulnerabilities found"))
		return nil
	}

	table := newTable(w)
	table.Header("CVE", "Severity", "Score", "Vendor", "Published", "Title")
	for _, r := range records {
		score := "-"
		if r.CVSSScore != nil {
			score = strconv.FormatFloat(*r.CVSSScore, 'f', 1, 64)
		}
		if err := table.Append([]string{
			r.ExternalID,
			colorizeSeverity(r.Severity),
			score,
			r.Vendor,
			r.PublishedDate.Format("2006-01-02"),
			truncate(r.Title, titleWidth),
		}); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\n Found %d vulnerabilities:\n", len(records))
	return table.Render()
}

func renderStats(w io.Writer, stats vulnfeed.Stats) error {
	fmt.Fprintf(w, "\n Total vulnerabilities: %d\n\n", stats.Total)

	severities := newTable(w)
	severities.Header("Severity", "Count")
	for i := len(vulnfeed.Severities) - 1; i >= 0; i-- {
		sev := vulnfeed.Severities[i]
		if err := severities.Append([]string{colorizeSeverity(sev), strconv.Itoa(stats.SeverityCounts[sev.String()])}); err != nil {
			return err
		}
	}
	if err := severities.Render(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	vendors := newTable(w)
	vendors.Header("Vendor", "Count")
	for _, vc := range sortedCounts(stats.VendorCounts) {
		if err := vendors.Append([]string{vc.name, strconv.Itoa(vc.count)}); err != nil {
			return err
		}
	}
	return vendors.Render()
}

func renderRuns(w io.Writer, runs []models.IngestRun) error {
	table := newTable(w)
	table.Header("Run", "Trigger", "Status", "Fetched", "Stored", "Skipped", "Started", "Duration", "Error")
	for _, run := range runs {
		status := color.GreenString(run.Status)
		if run.Status != models.RunStatusSucceeded {
			status = color.RedString(run.Status)
		}
		duration := "-"
		if run.FinishedAt != nil {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		if err := table.Append([]string{
			truncate(run.RunID, 8),
			run.Trigger,
			status,
			strconv.Itoa(run.Fetched),
			strconv.Itoa(run.Stored),
			strconv.Itoa(run.Skipped),
			run.StartedAt.Format(time.RFC3339),
			duration,
			truncate(run.Error, 40),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderTrend(w io.Writer, snaps []*snapshot.Snapshot) error {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No stats snapshots recorded")
		return nil
	}

	header := []any{"Snapshot", "Total"}
	for i := len(vulnfeed.Severities) - 1; i >= 0; i-- {
		header = append(header, colorizeSeverity(vulnfeed.Severities[i]))
	}

	table := newTable(w)
	table.Header(header...)
	for _, snap := range snaps {
		row := []string{snap.SnapshotID, strconv.Itoa(snap.Stats.Total)}
		for i := len(vulnfeed.Severities) - 1; i >= 0; i-- {
			row = append(row, strconv.Itoa(snap.Stats.SeverityCounts[vulnfeed.Severities[i].String()]))
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderSkipped(w io.Writer, skipped []*normalize.RecordError) error {
	fmt.Fprint(w, color.YellowString("\n Skipped %d records:\n", len(skipped)))
	table := newTable(w)
	table.Header("Index", "CVE", "Reason")
	for _, s := range skipped {
		if err := table.Append([]string{strconv.Itoa(s.Index), s.ExternalID, s.Err.Error()}); err != nil {
			return err
		}
	}
	return table.Render()
}

type namedCount struct {
	name  string
	count int
}

// sortedCounts orders by count descending, then name.
func sortedCounts(m map[string]int) []namedCount {
	out := make([]namedCount, 0, len(m))
	for name, count := range m {
		out = append(out, namedCount{name: name, count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return out
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
