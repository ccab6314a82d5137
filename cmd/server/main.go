package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/agentops/agentops-core/internal/api"
	"github.com/agentops/agentops-core/internal/config"
	"github.com/agentops/agentops-core/internal/rca"
	"github.com/agentops/agentops-core/internal/search"
	"github.com/agentops/agentops-core/internal/storage"
	"github.com/agentops/agentops-core/internal/storage/memory"
	"github.com/agentops/agentops-core/internal/storage/postgres"
	"github.com/agentops/agentops-core/pkg/cache"
	"github.com/agentops/agentops-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg := logger.New(cfg.LogLevel)
	logg.Info("Starting AGENTOPS-CORE", "environment", cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logg.Info("Shutdown signal received")
		cancel()
	}()

	// Valkey backs progress pub/sub, latest-status snapshots and the job
	// queue. Without it the service still runs, single-replica only.
	var valkey cache.Valkey
	if cfg.Cache.Addr != "" {
		valkey, err = cache.NewValkey(cfg.Cache.Addr, cfg.Cache.DB, cfg.Cache.Password, cfg.Cache.DefaultTTL(), logg)
		if err != nil {
			logg.Warn("Valkey unavailable, falling back to in-process broker", "addr", cfg.Cache.Addr, "error", err)
			valkey = cache.NewNoopValkey(logg)
		} else {
			logg.Info("Valkey connected", "addr", cfg.Cache.Addr)
		}
	} else {
		logg.Warn("No Valkey address configured, using in-process broker")
		valkey = cache.NewNoopValkey(logg)
	}

	var store storage.Store
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database, logg)
		if err != nil {
			logg.Fatal("Failed to open durable store", "error", err)
		}
		store = postgres.NewStore(db, logg)
		logg.Info("Durable store ready")
	} else {
		logg.Warn("No database configured, using in-memory store; jobs will not survive restarts")
		store = memory.NewStore()
	}
	defer store.Close()

	strategies := rca.NewLibrary(logg)
	if path := cfg.Strategy.TemplatesPath; path != "" {
		if err := strategies.LoadOverrides(path); err != nil {
			logg.Error("Failed to load strategy overrides", "path", path, "error", err)
		}
		if err := config.Watch(ctx, path, logg, func() {
			if err := strategies.LoadOverrides(path); err != nil {
				logg.Error("Failed to reload strategy overrides", "path", path, "error", err)
			}
		}); err != nil {
			logg.Warn("Strategy override watcher unavailable", "path", path, "error", err)
		}
	}

	var reports *search.ReportIndex
	if cfg.Search.Enabled {
		reports, err = search.OpenReportIndex(cfg.Search.DataPath, logg)
		if err != nil {
			logg.Error("Report search unavailable", "path", cfg.Search.DataPath, "error", err)
			reports = nil
		} else {
			defer reports.Close()
		}
	}

	progress := rca.NewProgressPublisher(valkey, cfg.Cache.DefaultTTL(), logg)

	var indexer rca.ReportIndexer
	if reports != nil {
		indexer = reports
	}
	orchestrator := rca.NewOrchestrator(store, progress, strategies, indexer, logg)
	pool := rca.NewWorkerPool(valkey, orchestrator, cfg.Queue.Name, cfg.Queue.Workers, cfg.Queue.PollInterval(), logg)

	apiServer := api.NewServer(cfg, logg, store, valkey, progress, reports)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return apiServer.Start(ctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		logg.Fatal("AGENTOPS-CORE exited with error", "error", err)
	}
	logg.Info("AGENTOPS-CORE shutdown complete")
}
