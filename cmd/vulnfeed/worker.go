package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/SiriusScan/go-vulnfeed/vulnfeed/ingest"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/postgres/models"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "run an ingest for every request on the queue",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	process := ingestProcessor(ctx, a.ingestService())

	slog.Info("Starting ingest worker", "queue", cfg.RabbitMQ.Queue)
	queue.NewClient(cfg.RabbitMQ.URL).ListenWithRetry(ctx, cfg.RabbitMQ.Queue, process)
	return nil
}

// ingestProcessor runs one ingest per valid message. Deliveries arrive on
// their own goroutines; runs are serialised so they do not fetch the same
// batch twice in parallel.
func ingestProcessor(ctx context.Context, svc *ingest.Service) queue.MessageProcessor {
	var mu sync.Mutex

	return func(msg string) {
		req, err := queue.DecodeIngestRequest(msg)
		if err != nil {
			slog.Warn("Ignoring queue message", "error", err)
			return
		}

		mu.Lock()
		defer mu.Unlock()

		runCtx, cancel := context.WithTimeout(ctx, cfg.Server.IngestTimeout)
		defer cancel()

		result, err := svc.Run(runCtx, models.TriggerQueue)
		if err != nil {
			slog.Error("Queued ingest failed", "request_id", req.RequestID, "error", err)
			return
		}
		slog.Info("Queued ingest finished", "request_id", req.RequestID, "run_id", result.RunID, "stored", result.Stored)
	}
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
