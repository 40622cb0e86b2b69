package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
	"github.com/couchcryptid/ghcn-station-etl/internal/observability"
)

// Source opens the raw GHCN files.
type Source interface {
	OpenRegistry(ctx context.Context) (io.ReadCloser, error)
	OpenInventory(ctx context.Context) (io.ReadCloser, error)
	OpenDaily(ctx context.Context, stationID string) (io.ReadCloser, error)
	ListDailyIDs(ctx context.Context) ([]string, error)
}

// ReferenceStore persists the canonical inventory and station tables.
type ReferenceStore interface {
	WriteInventory(entries []domain.InventoryEntry) error
	WriteStations(stations []domain.Station) error
}

// StationStore persists per-station tables and their cache stamps.
type StationStore interface {
	WriteObservations(stationID string, obs []domain.Observation) error
	WriteMonthly(stationID string, monthly []domain.MonthlyAverage) error
	WriteYearly(stationID string, yearly []domain.YearlyAverage) error
	ReadStamp(stationID string) (string, error)
	WriteStamp(stationID, stamp string) error
	RemoveStamp(stationID string) error
}

// Mirror receives a copy of every table written, for example a SQL database.
type Mirror interface {
	ReplaceReference(ctx context.Context, entries []domain.InventoryEntry, stations []domain.Station) error
	ReplaceStationAggregates(ctx context.Context, stationID string, monthly []domain.MonthlyAverage, yearly []domain.YearlyAverage) error
}

// StationPublisher announces a new station table downstream.
type StationPublisher interface {
	PublishStations(ctx context.Context, stations []domain.Station) error
}

// Pipeline runs a reference ingestion followed by a per-station batch.
type Pipeline struct {
	reference  *Reference
	batch      *Batch
	source     Source
	stationIDs []string
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
	lastBatch  atomic.Pointer[BatchReport]
}

// New creates a Pipeline. An empty stationIDs processes every daily file the
// source lists.
func New(ref *Reference, batch *Batch, src Source, stationIDs []string, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		reference:  ref,
		batch:      batch,
		source:     src,
		stationIDs: stationIDs,
		logger:     logger,
		metrics:    metrics,
	}
}

// Preload installs a previously persisted station table so queries can be
// served before the first reference run completes.
func (p *Pipeline) Preload(stations []domain.Station) {
	p.reference.table.Swap(stations)
	p.metrics.StationsInTable.Set(float64(len(stations)))
	p.ready.Store(true)
	p.logger.Info("station table preloaded", "stations", len(stations))
}

// CheckReadiness returns nil once a station table is available to queries.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("station table has not been loaded yet")
	}
	return nil
}

// Ready reports whether a station table is loaded.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// LastBatch returns the report of the most recent batch run, or nil.
func (p *Pipeline) LastBatch() *BatchReport {
	return p.lastBatch.Load()
}

// Run executes one reference run and then the station batch. A failed
// reference run stops the pipeline; per-station failures do not.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started")
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	ref, err := p.reference.Run(ctx)
	if err != nil {
		return fmt.Errorf("reference run: %w", err)
	}
	p.ready.Store(true)
	p.logger.Info("reference run complete",
		"stations", ref.Stations,
		"entries", ref.Entries,
		"inventory_skipped", ref.Inventory.Skipped,
		"registry_skipped", ref.Registry.Skipped,
		"generation", ref.Generation,
	)

	ids := p.stationIDs
	if len(ids) == 0 {
		ids, err = p.source.ListDailyIDs(ctx)
		if err != nil {
			p.logger.Warn("no daily files to process", "error", err)
			return nil
		}
	}

	report, err := p.batch.Run(ctx, ids)
	p.lastBatch.Store(&report)
	p.logger.Info("station batch complete",
		"stations", len(report.Results),
		"processed", report.Count(OutcomeProcessed),
		"cached", report.Count(OutcomeCached),
		"failed", report.Count(OutcomeFailed),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	if err != nil {
		if ctx.Err() != nil {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}
		return err
	}
	return nil
}
