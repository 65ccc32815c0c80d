package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/SiriusScan/go-vulnfeed/vulnfeed/postgres/models"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/queue"
)

var enqueueFlag bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "fetch the latest advisories and store them",
	Long: `ingest runs one fetch, normalise and upsert pass against the CVE feed.

With --enqueue the run is handed to a worker over RabbitMQ instead.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, _ []string) error {
	if enqueueFlag {
		return enqueueIngest()
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Server.IngestTimeout)
	defer cancel()

	result, err := a.ingestService().Run(ctx, models.TriggerCLI)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, color.GreenString(result.Message()))
	if len(result.Skipped) > 0 {
		return renderSkipped(out, result.Skipped)
	}
	return nil
}

func enqueueIngest() error {
	req := queue.NewIngestRequest()
	body, err := req.Encode()
	if err != nil {
		return err
	}
	if err := queue.NewClient(cfg.RabbitMQ.URL).Send(cfg.RabbitMQ.Queue, body); err != nil {
		return err
	}
	fmt.Println(color.GreenString("Queued ingest request %s on %s", req.RequestID, cfg.RabbitMQ.Queue))
	return nil
}

func init() {
	ingestCmd.Flags().BoolVarP(&enqueueFlag, "enqueue", "q", false, "publish an ingest request instead of running it")
	rootCmd.AddCommand(ingestCmd)
}
