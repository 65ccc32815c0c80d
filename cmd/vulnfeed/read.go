package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search [term...]",
	Short: "search stored advisories by id, title, description or vendor",
	Long: `search prints stored advisories newest first. Without a term the most
recently published advisories are listed.`,
	RunE: runSearch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "print totals by severity and vendor",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "list recent ingest runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.Search.Limit
	}

	records, err := a.repo.Search(cmd.Context(), strings.Join(args, " "), limit)
	if err != nil {
		return err
	}
	return renderVulnerabilities(cmd.OutOrStdout(), records)
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if trend, _ := cmd.Flags().GetInt("trend"); trend > 0 {
		if a.snapshots == nil {
			return errors.New("stats trend needs valkey.addr to be configured")
		}
		snaps, err := a.snapshots.Trend(cmd.Context(), trend)
		if err != nil {
			return err
		}
		return renderTrend(cmd.OutOrStdout(), snaps)
	}

	stats, err := a.stats.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return renderStats(cmd.OutOrStdout(), stats)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := a.repo.Runs(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No ingest runs recorded")
		return nil
	}
	return renderRuns(cmd.OutOrStdout(), runs)
}

func init() {
	searchCmd.Flags().IntP("limit", "l", 0, "maximum number of results (default search.limit)")
	statsCmd.Flags().IntP("trend", "t", 0, "show the last N stats snapshots instead of current totals")
	historyCmd.Flags().IntP("limit", "l", 20, "number of runs to list")

	rootCmd.AddCommand(searchCmd, statsCmd, historyCmd)
}
