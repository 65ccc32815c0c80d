package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/SiriusScan/go-vulnfeed/vulnfeed/postgres/models"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "verify the database connection and schema",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checking %s database connection...\n", cfg.Database.Driver)

	a, err := openApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to establish database connection: %w", err)
	}
	defer a.Close()

	db := a.db.WithContext(cmd.Context())

	var one int
	if err := db.Raw("SELECT 1").Scan(&one).Error; err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}

	var records, runs int64
	if err := db.Model(&models.Vulnerability{}).Count(&records).Error; err != nil {
		return fmt.Errorf("failed to count vulnerabilities: %w", err)
	}
	if err := db.Model(&models.IngestRun{}).Count(&runs).Error; err != nil {
		return fmt.Errorf("failed to count ingest runs: %w", err)
	}

	fmt.Fprintln(out, color.GreenString("Database is connected and migrated"))
	fmt.Fprintf(out, "  vulnerabilities: %d\n  ingest runs:     %d\n", records, runs)
	if a.kv != nil {
		fmt.Fprintln(out, color.GreenString("Stats cache is connected (%s)", cfg.Valkey.Addr))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
