package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
	"github.com/couchcryptid/ghcn-station-etl/internal/observability"
)

// ReferenceOptions controls how the inventory is decoded and deduplicated.
type ReferenceOptions struct {
	InventoryFormat domain.InventoryFormat
	DedupPolicy     domain.DedupPolicy
}

// Reference builds the canonical inventory and station tables from the
// registry and inventory files and swaps the result into the query table.
type Reference struct {
	source    Source
	store     ReferenceStore
	table     *domain.StationTable
	mirror    Mirror
	publisher StationPublisher
	opts      ReferenceOptions
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewReference creates a Reference. mirror and publisher may be nil.
func NewReference(src Source, store ReferenceStore, table *domain.StationTable, mirror Mirror, publisher StationPublisher, opts ReferenceOptions, logger *slog.Logger, metrics *observability.Metrics) *Reference {
	if opts.InventoryFormat == "" {
		opts.InventoryFormat = domain.InventoryFormatWhitespace
	}
	return &Reference{
		source:    src,
		store:     store,
		table:     table,
		mirror:    mirror,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run performs one reference ingestion. A missing or unreadable source file
// fails the run; the previous station table stays in place.
func (r *Reference) Run(ctx context.Context) (ReferenceReport, error) {
	report := ReferenceReport{StartedAt: domain.Now()}

	registry, err := r.readRegistry(ctx, &report)
	if err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	normalizer := domain.NewInventoryNormalizer(registry, r.opts.DedupPolicy)
	if err := r.readInventory(ctx, normalizer, &report); err != nil {
		return report, err
	}

	entries := normalizer.Entries()
	stations := domain.AggregateStations(entries)
	report.Normalize = normalizer.Stats()
	report.Entries = len(entries)
	report.Stations = len(stations)

	if err := r.store.WriteInventory(entries); err != nil {
		return report, fmt.Errorf("write inventory table: %w", err)
	}
	if err := r.store.WriteStations(stations); err != nil {
		return report, fmt.Errorf("write station table: %w", err)
	}

	r.table.Swap(stations)
	_, report.Generation = r.table.Snapshot()
	r.metrics.InventoryRows.Set(float64(len(entries)))
	r.metrics.StationsInTable.Set(float64(len(stations)))

	if r.mirror != nil {
		if err := r.mirror.ReplaceReference(ctx, entries, stations); err != nil {
			r.logger.Error("mirror reference tables failed", "error", err)
			report.Warnings = append(report.Warnings, fmt.Sprintf("mirror: %v", err))
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishStations(ctx, stations); err != nil {
			r.logger.Error("publish stations failed", "error", err, "stations", len(stations))
			report.Warnings = append(report.Warnings, fmt.Sprintf("publish: %v", err))
		}
	}

	report.FinishedAt = domain.Now()
	return report, nil
}

func (r *Reference) readRegistry(ctx context.Context, report *ReferenceReport) (*domain.Registry, error) {
	rc, err := r.source.OpenRegistry(ctx)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer rc.Close()

	registry, stats, err := domain.ReadRegistry(rc)
	report.Registry = stats
	r.observeScan("registry", stats)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if stats.Skipped > 0 {
		r.logger.Warn("registry lines skipped", "skipped", stats.Skipped, "rows", stats.Read)
	}
	return registry, nil
}

func (r *Reference) readInventory(ctx context.Context, n *domain.InventoryNormalizer, report *ReferenceReport) error {
	rc, err := r.source.OpenInventory(ctx)
	if err != nil {
		return fmt.Errorf("open inventory: %w", err)
	}
	defer rc.Close()

	stats, err := domain.ScanLines(rc, func(_ int, line string) error {
		rec, err := domain.ParseInventoryLine(line, r.opts.InventoryFormat)
		if err != nil {
			return err
		}
		n.Add(rec)
		return nil
	})
	report.Inventory = stats
	r.observeScan("inventory", stats)
	if err != nil {
		return fmt.Errorf("read inventory: %w", err)
	}
	if stats.Skipped > 0 {
		r.logger.Warn("inventory lines skipped", "skipped", stats.Skipped, "rows", stats.Read)
	}
	return nil
}

func (r *Reference) observeScan(file string, stats domain.ScanStats) {
	r.metrics.LinesRead.WithLabelValues(file).Add(float64(stats.Read))
	r.metrics.LinesSkipped.WithLabelValues(file).Add(float64(stats.Skipped))
}
