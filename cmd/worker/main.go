// Standalone RCA worker: consumes the job queue without serving the REST API.
// Lets analysis capacity scale independently of the ingestion/read surface.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentops/agentops-core/internal/config"
	"github.com/agentops/agentops-core/internal/rca"
	"github.com/agentops/agentops-core/internal/search"
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
	logg.Info("Starting AGENTOPS-CORE worker", "environment", cfg.Environment, "workers", cfg.Queue.Workers)

	if cfg.Cache.Addr == "" {
		logg.Fatal("Worker requires a Valkey address; the job queue lives there")
	}
	if cfg.Database.URL == "" {
		logg.Fatal("Worker requires a database URL; jobs must be durable across processes")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logg.Info("Shutdown signal received")
		cancel()
	}()

	valkey, err := cache.NewValkey(cfg.Cache.Addr, cfg.Cache.DB, cfg.Cache.Password, cfg.Cache.DefaultTTL(), logg)
	if err != nil {
		logg.Fatal("Failed to connect to Valkey", "addr", cfg.Cache.Addr, "error", err)
	}

	db, err := postgres.Open(ctx, cfg.Database, logg)
	if err != nil {
		logg.Fatal("Failed to open durable store", "error", err)
	}
	store := postgres.NewStore(db, logg)
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

	var indexer rca.ReportIndexer
	if cfg.Search.Enabled {
		reports, err := search.OpenReportIndex(cfg.Search.DataPath, logg)
		if err != nil {
			logg.Error("Report search unavailable", "path", cfg.Search.DataPath, "error", err)
		} else {
			defer reports.Close()
			indexer = reports
		}
	}

	progress := rca.NewProgressPublisher(valkey, cfg.Cache.DefaultTTL(), logg)
	orchestrator := rca.NewOrchestrator(store, progress, strategies, indexer, logg)
	pool := rca.NewWorkerPool(valkey, orchestrator, cfg.Queue.Name, cfg.Queue.Workers, cfg.Queue.PollInterval(), logg)

	if err := pool.Run(ctx); err != nil && err != context.Canceled {
		logg.Fatal("Worker pool exited with error", "error", err)
	}
	logg.Info("AGENTOPS-CORE worker shutdown complete")
}
