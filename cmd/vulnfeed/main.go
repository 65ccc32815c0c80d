// Command vulnfeed ingests the latest CVE advisories into a relational store
// and serves search and statistics over HTTP and the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/SiriusScan/go-vulnfeed/vulnfeed/config"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/slogger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vulnfeed",
	Short: "ingest, search and summarise CVE advisories",
	Long: `vulnfeed pulls the latest advisories from the CVE feed, normalises
them into a single record shape and keeps them in a relational store.

Run 'serve' for the HTTP API, 'worker' to ingest on queue messages, or use
'ingest', 'search', 'stats' and 'history' directly from the terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		slogger.Init(loaded.Log.Level, loaded.Log.Format)
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		fmt.Sprintf("configuration file (default %s when present)", config.DefaultFilePath))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %s", err))
		os.Exit(1)
	}
}
