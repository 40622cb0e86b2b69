package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/ghcn-station-etl/internal/adapter/filestore"
	"github.com/couchcryptid/ghcn-station-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/ghcn-station-etl/internal/adapter/kafka"
	"github.com/couchcryptid/ghcn-station-etl/internal/adapter/noaa"
	"github.com/couchcryptid/ghcn-station-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/ghcn-station-etl/internal/config"
	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
	"github.com/couchcryptid/ghcn-station-etl/internal/observability"
	"github.com/couchcryptid/ghcn-station-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Raw files are read from disk; missing ones are downloaded when FETCH_ENABLED is set.
	local := filestore.Source{
		StationsFile:  cfg.StationsFile,
		InventoryFile: cfg.InventoryFile,
		DailyDir:      cfg.DailyDir,
	}
	var source pipeline.Source = local
	if cfg.FetchEnabled {
		client := noaa.NewClient(cfg.NOAABaseURL, cfg.FetchTimeout, cfg.FetchRetries, logger, metrics)
		source = noaa.NewSource(local, client)
		logger.Info("noaa fetch enabled", "base_url", cfg.NOAABaseURL, "retries", cfg.FetchRetries)
	}

	store := filestore.New(cfg.OutputDir)

	var mirror pipeline.Mirror
	if cfg.SQLitePath != "" {
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			logger.Error("failed to open sqlite mirror", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		mirror = db
		logger.Info("sqlite mirror enabled", "path", cfg.SQLitePath)
	}

	var publisher pipeline.StationPublisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("kafka station publishing enabled", "topic", cfg.KafkaStationsTopic)
	}

	table := domain.NewStationTable()
	ref := pipeline.NewReference(source, store, table, mirror, publisher, pipeline.ReferenceOptions{
		InventoryFormat: cfg.InventoryFormat,
		DedupPolicy:     cfg.DedupPolicy,
	}, logger, metrics)
	batch := pipeline.NewBatch(source, store, mirror, pipeline.BatchOptions{
		Workers:           cfg.Workers,
		DropQualityFailed: cfg.DropQCFailed,
	}, logger, metrics)
	p := pipeline.New(ref, batch, source, cfg.StationIDs, logger, metrics)

	// Serve the table from the previous run while the new one is built.
	if stations, err := store.ReadStations(); err == nil {
		p.Preload(stations)
	} else if !errors.Is(err, filestore.ErrNotFound) {
		logger.Warn("could not preload station table", "error", err)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, table, store, cfg.QueryCacheSize, logger, metrics)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Run the ETL once; the query API keeps serving afterwards.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
