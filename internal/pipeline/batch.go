package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
	"github.com/couchcryptid/ghcn-station-etl/internal/observability"
)

// SchemaVersion is part of every cache stamp. Bump it whenever cleaning or
// aggregation semantics change so existing artifacts are recomputed.
const SchemaVersion = "v1"

// BatchOptions controls the per-station batch.
type BatchOptions struct {
	Workers           int
	DropQualityFailed bool
	// Force ignores cache stamps and recomputes every station.
	Force bool
}

// Batch cleans and aggregates many stations concurrently. Each worker owns
// one station at a time; a failing station never affects the others.
type Batch struct {
	source  Source
	store   StationStore
	mirror  Mirror
	opts    BatchOptions
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewBatch creates a Batch. mirror may be nil.
func NewBatch(src Source, store StationStore, mirror Mirror, opts BatchOptions, logger *slog.Logger, metrics *observability.Metrics) *Batch {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Batch{
		source:  src,
		store:   store,
		mirror:  mirror,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Run processes every station in ids with a bounded worker pool. The report
// always holds one result per id, in order. The returned error is non-nil
// only when ctx is cancelled; stations not started by then are reported as
// failed with the context error.
func (b *Batch) Run(ctx context.Context, ids []string) (BatchReport, error) {
	report := BatchReport{
		StartedAt: domain.Now(),
		Results:   make([]StationResult, len(ids)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)

	for i, id := range ids {
		if gctx.Err() != nil {
			report.Results[i] = StationResult{StationID: id, Outcome: OutcomeFailed, Err: gctx.Err()}
			continue
		}
		g.Go(func() error {
			report.Results[i] = b.processStation(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = domain.Now()
	return report, ctx.Err()
}

// Stamp returns the cache stamp for a daily file's content under the
// current options.
func (b *Batch) Stamp(content []byte) string {
	sum := sha256.Sum256(content)
	return b.stampFromSum(sum[:])
}

func (b *Batch) stampFromSum(sum []byte) string {
	return fmt.Sprintf("%s;qc=%t;sha256=%s", SchemaVersion, b.opts.DropQualityFailed, hex.EncodeToString(sum))
}

func (b *Batch) processStation(ctx context.Context, id string) StationResult {
	start := time.Now()
	res := StationResult{StationID: id, Outcome: OutcomeFailed}

	defer func() {
		res.Duration = time.Since(start)
		b.metrics.StationResults.WithLabelValues(string(res.Outcome)).Inc()
		if res.Outcome == OutcomeProcessed {
			b.metrics.StationDuration.Observe(res.Duration.Seconds())
		}
		if res.Err != nil {
			b.logger.Warn("station failed, skipping", "station_id", id, "error", res.Err)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	stamp, err := b.hashDaily(ctx, id)
	if err != nil {
		res.Err = err
		return res
	}

	if !b.opts.Force {
		if prev, err := b.store.ReadStamp(id); err == nil && prev == stamp {
			res.Outcome = OutcomeCached
			b.logger.Debug("station unchanged, using cached tables", "station_id", id)
			return res
		}
	}

	// A stale stamp must not outlive a partial rewrite.
	if err := b.store.RemoveStamp(id); err != nil {
		res.Err = fmt.Errorf("invalidate cache: %w", err)
		return res
	}

	rc, err := b.source.OpenDaily(ctx, id)
	if err != nil {
		res.Err = fmt.Errorf("open daily file: %w", err)
		return res
	}
	obs, clean, err := domain.ReadObservations(rc, domain.CleanOptions{
		StationID:         id,
		DropQualityFailed: b.opts.DropQualityFailed,
	})
	_ = rc.Close()
	res.Clean = clean
	b.metrics.LinesRead.WithLabelValues("daily").Add(float64(clean.Lines))
	b.metrics.LinesSkipped.WithLabelValues("daily").Add(float64(clean.SkippedLines))
	if err != nil {
		res.Err = fmt.Errorf("clean daily file: %w", err)
		return res
	}

	monthly := domain.MonthlyAverages(id, obs)
	yearly := domain.YearlyAverages(monthly)
	res.MonthlyRows = len(monthly)
	res.YearlyRows = len(yearly)

	if err := b.store.WriteObservations(id, obs); err != nil {
		res.Err = fmt.Errorf("write daily table: %w", err)
		return res
	}
	if err := b.store.WriteMonthly(id, monthly); err != nil {
		res.Err = fmt.Errorf("write monthly table: %w", err)
		return res
	}
	if err := b.store.WriteYearly(id, yearly); err != nil {
		res.Err = fmt.Errorf("write yearly table: %w", err)
		return res
	}
	if b.mirror != nil {
		if err := b.mirror.ReplaceStationAggregates(ctx, id, monthly, yearly); err != nil {
			res.Err = fmt.Errorf("mirror aggregates: %w", err)
			return res
		}
	}
	if err := b.store.WriteStamp(id, stamp); err != nil {
		res.Err = fmt.Errorf("write cache stamp: %w", err)
		return res
	}

	res.Outcome = OutcomeProcessed
	return res
}

// hashDaily streams the station's daily file through SHA-256 and returns its
// cache stamp. The file is never held in memory.
func (b *Batch) hashDaily(ctx context.Context, id string) (string, error) {
	rc, err := b.source.OpenDaily(ctx, id)
	if err != nil {
		return "", fmt.Errorf("open daily file: %w", err)
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("read daily file: %w", err)
	}
	return b.stampFromSum(h.Sum(nil)), nil
}
