package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"tariffsync/internal/classifier"
	"tariffsync/internal/config"
	"tariffsync/internal/db"
	"tariffsync/internal/documents"
	"tariffsync/internal/jobs"
	"tariffsync/internal/logger"
	"tariffsync/internal/podio"
	"tariffsync/internal/processor"
	"tariffsync/internal/storage"
	"tariffsync/internal/writeback"

	"gorm.io/gorm"
)

type app struct {
	cfg    config.Config
	db     *gorm.DB
	repo   *jobs.Repo
	podio  *podio.Client
	proc   *processor.Processor
	worker *jobs.Worker
}

// loadConfig reads the environment. needDB makes a missing DATABASE_URL fatal.
func loadConfig(needDB bool) (config.Config, error) {
	cfg, err := config.Load()
	logger.Configure(cfg.LogLevel)
	if err != nil && (needDB || !errors.Is(err, config.ErrMissingDatabaseURL)) {
		return cfg, err
	}
	return cfg, nil
}

func newPodio(cfg config.Config) *podio.Client {
	return podio.NewClient(podio.Config{
		BaseURL:      cfg.Podio.BaseURL,
		ClientID:     cfg.Podio.ClientID,
		ClientSecret: cfg.Podio.ClientSecret,
		AppID:        cfg.Podio.AppID,
		AppToken:     cfg.Podio.AppToken,
		AccessToken:  cfg.Podio.AccessToken,
		Timeout:      cfg.HTTPClientTimeout,

		MaxDownloadBytes: int64(cfg.Podio.MaxFileMB) << 20,
	})
}

func newStore(cfg config.Config) (storage.Store, error) {
	switch {
	case cfg.Supabase.Configured():
		return storage.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey, cfg.Supabase.Bucket, cfg.HTTPClientTimeout), nil
	case cfg.Storage.Dir != "":
		return storage.NewFilesystemStore(cfg.Storage.Dir, cfg.Storage.PublicURL)
	default:
		logger.Warnf("no object storage configured, images are sent inline")
		return nil, nil
	}
}

// newApp connects the database and wires the job processor.
func newApp() (*app, error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, err
	}
	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		return nil, err
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	pc := newPodio(cfg)
	repo := &jobs.Repo{DB: gdb}

	proc := &processor.Processor{
		Podio: pc,
		Repo:  repo,
		Documents: &documents.Pipeline{
			Source:       pc,
			Store:        store,
			Extractor:    documents.NewExtractor(cfg.PDF.MaxPages, cfg.PDF.MaxChars, cfg.PDF.Timeout),
			Concurrency:  cfg.DownloadConcurrency,
			InlineMaxDim: cfg.InlineMaxDimension,
		},
		Classifier: &classifier.Orchestrator{Model: classifier.NewOpenAI(classifier.Config{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.OpenAI.Timeout,
		})},
		Writer:       &writeback.Writer{Target: pc, Comment: cfg.Podio.PostComment},
		DefaultAppID: cfg.Podio.AppID,
	}

	w := &jobs.Worker{
		ID:      cfg.Worker.ID,
		Repo:    repo,
		Handler: proc,
		Poll:    cfg.Worker.PollInterval,
		Lease:   cfg.Worker.Lease,
	}
	return &app{cfg: cfg, db: gdb, repo: repo, podio: pc, proc: proc, worker: w}, nil
}

// listen attaches a LISTEN wake channel to the worker when enabled and the
// database is Postgres.
func (a *app) listen(ctx context.Context) {
	if !a.cfg.Worker.Listen || a.db.Dialector.Name() != "postgres" {
		return
	}
	wake, err := jobs.Listen(ctx, a.cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Warn("worker.listen unavailable, polling only")
		return
	}
	a.worker.Wake = wake
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
