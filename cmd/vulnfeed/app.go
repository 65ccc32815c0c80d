package main

import (
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"github.com/SiriusScan/go-vulnfeed/cvefeed"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/config"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/ingest"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/normalize"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/postgres"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/snapshot"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/store"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/vulnerability"
)

// app holds the components every command builds from configuration.
type app struct {
	cfg       *config.Config
	db        *gorm.DB
	repo      *vulnerability.Repository
	kv        store.KVStore
	stats     *vulnerability.StatsService
	// snapshots is nil when no Valkey address is configured.
	snapshots *snapshot.Manager
}

func openApp(cfg *config.Config) (*app, error) {
	db, err := postgres.Connect(postgres.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		Debug:           cfg.Database.Debug,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, db: db, repo: vulnerability.NewRepository(db)}

	if cfg.Valkey.Addr != "" {
		kv, err := store.NewValkeyStore(cfg.Valkey.Addr)
		if err != nil {
			slog.Warn("Stats cache unavailable, continuing without it", "addr", cfg.Valkey.Addr, "error", err)
		} else {
			a.kv = kv
			a.snapshots = snapshot.NewManager(kv, a.repo)
		}
	}
	a.stats = vulnerability.NewStatsService(a.repo, a.kv, cfg.Valkey.StatsTTL)

	return a, nil
}

func (a *app) ingestService() *ingest.Service {
	client := cvefeed.NewClient(cvefeed.Options{
		URL:       a.cfg.Feed.URL,
		BatchSize: a.cfg.Feed.BatchSize,
		Timeout:   a.cfg.Feed.Timeout,
		UserAgent: a.cfg.Feed.UserAgent,
	})
	normalizer := normalize.New(normalize.Options{
		SourceName:        a.cfg.Feed.SourceName,
		SourceURLTemplate: a.cfg.Feed.SourceURLTemplate,
	})

	opts := []ingest.Option{
		ingest.WithRunRecorder(a.repo),
		ingest.WithInvalidator(a.stats),
		ingest.WithFeedURL(client.URL()),
	}
	if a.snapshots != nil {
		opts = append(opts, ingest.WithSnapshots(a.snapshots))
	}
	return ingest.NewService(client, normalizer, a.repo, opts...)
}

func (a *app) Close() error {
	var errs []error
	if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	errs = append(errs, postgres.Close(a.db))
	return errors.Join(errs...)
}
