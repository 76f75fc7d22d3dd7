package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"replay-orchestration/internal/api"
	"replay-orchestration/internal/config"
	"replay-orchestration/internal/jobs"
	"replay-orchestration/internal/journal"
	"replay-orchestration/internal/replay"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "orchestrator.yaml", "Path to configuration file")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	logrus.SetLevel(cfg.Level())

	catalog, err := replay.Load(cfg.ReplayConfigPath)
	if err != nil {
		logrus.Fatalf("failed to load replay config: %v", err)
	}
	logrus.Infof("loaded %d replay slices from %s", catalog.Len(), catalog.Path())

	// Cancel on Ctrl+C / SIGTERM so the HTTP server drains.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store jobs.Store
	switch cfg.Store.Type {
	case config.StoreBolt:
		bs, err := jobs.OpenBoltStore(cfg.Store.Bolt.Path)
		if err != nil {
			logrus.Fatalf("failed to open job store: %v", err)
		}
		store = bs
	default:
		store = jobs.NewMemoryStore()
	}
	defer store.Close()

	registry, err := jobs.NewRegistry(ctx, store, catalog)
	if err != nil {
		logrus.Fatalf("failed to build job registry: %v", err)
	}

	var sk journal.Sink
	if cfg.Journal.OutputDir != "" {
		csvSink, err := journal.NewCSVSink(cfg.Journal.OutputDir)
		if err != nil {
			logrus.Fatalf("failed to initialise journal: %v", err)
		}
		defer csvSink.Close()
		sk = journal.NewRetrySink(csvSink, cfg.Retry.Attempts, cfg.Retry.DelayMS)
	}

	srv := api.NewServer(registry, catalog, sk)
	if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
		logrus.Errorf("server stopped with error: %v", err)
		return
	}
	logrus.Info("shutdown complete")
}
