package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ghcn-station-etl/internal/adapter/filestore"
	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
	"github.com/couchcryptid/ghcn-station-etl/internal/observability"
	"github.com/couchcryptid/ghcn-station-etl/internal/pipeline"
)

// --- mocks ---

type memSource struct {
	registry  string
	inventory string
	daily     map[string]string
	opened    sync.Map
}

func (m *memSource) OpenRegistry(_ context.Context) (io.ReadCloser, error) {
	if m.registry == "" {
		return nil, errors.New("open ghcnd-stations.txt: no such file")
	}
	return io.NopCloser(strings.NewReader(m.registry)), nil
}

func (m *memSource) OpenInventory(_ context.Context) (io.ReadCloser, error) {
	if m.inventory == "" {
		return nil, errors.New("open ghcnd-inventory.txt: no such file")
	}
	return io.NopCloser(strings.NewReader(m.inventory)), nil
}

func (m *memSource) OpenDaily(_ context.Context, id string) (io.ReadCloser, error) {
	content, ok := m.daily[id]
	if !ok {
		return nil, fmt.Errorf("open %s.dly: no such file", id)
	}
	n, _ := m.opened.LoadOrStore(id, new(atomic.Int32))
	n.(*atomic.Int32).Add(1)
	return io.NopCloser(strings.NewReader(content)), nil
}

func (m *memSource) opens(id string) int {
	n, ok := m.opened.Load(id)
	if !ok {
		return 0
	}
	return int(n.(*atomic.Int32).Load())
}

func (m *memSource) ListDailyIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(m.daily))
	for id := range m.daily {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type recordingPublisher struct {
	published []domain.Station
	err       error
}

func (p *recordingPublisher) PublishStations(_ context.Context, stations []domain.Station) error {
	p.published = append(p.published, stations...)
	return p.err
}

type failingStore struct {
	*filestore.Store
	failYearlyFor string
}

func (s *failingStore) WriteYearly(id string, yearly []domain.YearlyAverage) error {
	if id == s.failYearlyFor {
		return errors.New("disk full")
	}
	return s.Store.WriteYearly(id, yearly)
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

// --- fixtures ---

func registryFixture() string {
	return strings.Join([]string{
		domain.FormatRegistryLine(domain.RegistryEntry{ID: "AAA00000001", Latitude: 47.6, Longitude: 9.2, State: "", Name: "ALPHA"}),
		domain.FormatRegistryLine(domain.RegistryEntry{ID: "BBB00000002", Latitude: 47.7, Longitude: 9.3, Name: "BRAVO"}),
		"short",
	}, "\n")
}

func inventoryFixture() string {
	return strings.Join([]string{
		domain.FormatInventoryLine(domain.RawInventoryRecord{StationID: "AAA00000001", Latitude: 47.6, Longitude: 9.2, Element: "TMAX", FirstYear: 1950, LastYear: 2020}),
		domain.FormatInventoryLine(domain.RawInventoryRecord{StationID: "AAA00000001", Latitude: 47.6, Longitude: 9.2, Element: "TMIN", FirstYear: 1955, LastYear: 2015}),
		domain.FormatInventoryLine(domain.RawInventoryRecord{StationID: "AAA00000001", Latitude: 47.6, Longitude: 9.2, Element: "PRCP", FirstYear: 1900, LastYear: 2024}),
		domain.FormatInventoryLine(domain.RawInventoryRecord{StationID: "BBB00000002", Latitude: 47.7, Longitude: 9.3, Element: "TMAX", FirstYear: 1990, LastYear: 2010}),
		domain.FormatInventoryLine(domain.RawInventoryRecord{StationID: "CCC00000003", Latitude: 48.0, Longitude: 9.0, Element: "TMIN", FirstYear: 2000, LastYear: 2024}),
		"CCC00000003 48.0 9.0 TMIN",
	}, "\n")
}

func dailyFixture(id string) string {
	day := func(d, raw int) domain.DailyValue { return domain.DailyValue{Day: d, Raw: raw, Present: true} }
	return strings.Join([]string{
		domain.FormatDailyLine(domain.DailyRecord{StationID: id, Year: 2020, Month: 1, Element: "TMAX", Days: []domain.DailyValue{day(1, 200), day(2, 220), day(3, 210)}}),
		domain.FormatDailyLine(domain.DailyRecord{StationID: id, Year: 2020, Month: 2, Element: "TMAX", Days: []domain.DailyValue{day(1, 180)}}),
		domain.FormatDailyLine(domain.DailyRecord{StationID: id, Year: 2020, Month: 1, Element: "TMIN", Days: []domain.DailyValue{day(1, -15)}}),
		domain.FormatDailyLine(domain.DailyRecord{StationID: id, Year: 2020, Month: 1, Element: "PRCP", Days: []domain.DailyValue{day(1, 33)}}),
	}, "\n")
}

type harness struct {
	source    *memSource
	store     *filestore.Store
	table     *domain.StationTable
	publisher *recordingPublisher
	metrics   *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		source: &memSource{
			registry:  registryFixture(),
			inventory: inventoryFixture(),
			daily: map[string]string{
				"AAA00000001": dailyFixture("AAA00000001"),
				"BBB00000002": dailyFixture("BBB00000002"),
			},
		},
		store:     filestore.New(t.TempDir()),
		table:     domain.NewStationTable(),
		publisher: &recordingPublisher{},
		metrics:   newTestMetrics(),
	}
}

func (h *harness) reference() *pipeline.Reference {
	return pipeline.NewReference(h.source, h.store, h.table, nil, h.publisher, pipeline.ReferenceOptions{}, slog.Default(), h.metrics)
}

func (h *harness) batch(opts pipeline.BatchOptions) *pipeline.Batch {
	return pipeline.NewBatch(h.source, h.store, nil, opts, slog.Default(), h.metrics)
}

// --- tests ---

func TestReference_Run_BuildsTables(t *testing.T) {
	h := newHarness(t)

	report, err := h.reference().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Registry.Skipped)
	assert.Equal(t, 1, report.Inventory.Skipped)
	assert.Equal(t, 4, report.Entries)
	assert.Equal(t, 3, report.Stations)
	assert.Equal(t, 1, report.Normalize.NonTemperature)
	assert.Equal(t, 1, report.Normalize.Unnamed)
	assert.Empty(t, report.Warnings)

	stations, gen := h.table.Snapshot()
	assert.Equal(t, report.Generation, gen)
	require.Len(t, stations, 3)
	assert.Equal(t, "AAA00000001", stations[0].ID)
	assert.Equal(t, 1955, stations[0].FirstYear)
	assert.Equal(t, 2015, stations[0].LastYear)
	assert.Equal(t, "ALPHA", stations[0].DisplayName())
	assert.Nil(t, stations[2].Name, "CCC has no registry entry")

	persisted, err := h.store.ReadStations()
	require.NoError(t, err)
	assert.Equal(t, stations, persisted)

	inventory, err := h.store.ReadInventory()
	require.NoError(t, err)
	assert.Len(t, inventory, 4)

	assert.Equal(t, stations, h.publisher.published)
}

func TestReference_Run_MissingFileKeepsPreviousTable(t *testing.T) {
	h := newHarness(t)
	previous := []domain.Station{{ID: "OLD", FirstYear: 1, LastYear: 2}}
	h.table.Swap(previous)
	h.source.inventory = ""

	_, err := h.reference().Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghcnd-inventory.txt")

	stations, _ := h.table.Snapshot()
	assert.Equal(t, previous, stations)
}

func TestReference_Run_PublishFailureIsAWarning(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broker down")

	report, err := h.reference().Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "broker down")
	assert.Equal(t, 3, h.table.Len())
}

func TestBatch_Run_WritesStationTables(t *testing.T) {
	h := newHarness(t)

	report, err := h.batch(pipeline.BatchOptions{Workers: 2}).Run(context.Background(), []string{"AAA00000001", "BBB00000002"})
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Count(pipeline.OutcomeProcessed))
	assert.Empty(t, report.Failed())
	assert.Equal(t, "AAA00000001", report.Results[0].StationID)
	assert.Equal(t, 2, report.Results[0].MonthlyRows)
	assert.Equal(t, 1, report.Results[0].YearlyRows)
	assert.Equal(t, 5, report.Results[0].Clean.Observations)

	yearly, err := h.store.ReadYearly("AAA00000001")
	require.NoError(t, err)
	require.Len(t, yearly, 1)
	assert.Equal(t, 19.5, *yearly[0].TMax)
	assert.Equal(t, -1.5, *yearly[0].TMin)

	monthly, err := h.store.ReadMonthly("AAA00000001")
	require.NoError(t, err)
	require.Len(t, monthly, 2)
	assert.Equal(t, 21.0, *monthly[0].TMax)
	assert.Nil(t, monthly[1].TMin)
}

func TestBatch_Run_FailuresAreIsolated(t *testing.T) {
	h := newHarness(t)
	store := &failingStore{Store: h.store, failYearlyFor: "BBB00000002"}
	b := pipeline.NewBatch(h.source, store, nil, pipeline.BatchOptions{Workers: 3}, slog.Default(), h.metrics)

	report, err := b.Run(context.Background(), []string{"AAA00000001", "BBB00000002", "ZZZ00000009"})
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomeProcessed, report.Results[0].Outcome)
	assert.Equal(t, pipeline.OutcomeFailed, report.Results[1].Outcome)
	assert.Contains(t, report.Results[1].Err.Error(), "disk full")
	assert.Equal(t, pipeline.OutcomeFailed, report.Results[2].Outcome)
	assert.Contains(t, report.Results[2].Err.Error(), "ZZZ00000009")
	assert.Len(t, report.Failed(), 2)

	_, err = h.store.ReadStamp("BBB00000002")
	assert.ErrorIs(t, err, filestore.ErrNotFound, "failed station must not be stamped")
}

func TestBatch_Run_UnchangedInputsAreCached(t *testing.T) {
	h := newHarness(t)
	b := h.batch(pipeline.BatchOptions{Workers: 1})
	ids := []string{"AAA00000001"}

	first, err := b.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeProcessed, first.Results[0].Outcome)

	second, err := b.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeCached, second.Results[0].Outcome)

	h.source.daily["AAA00000001"] += "\n" + domain.FormatDailyLine(domain.DailyRecord{
		StationID: "AAA00000001", Year: 2021, Month: 1, Element: "TMAX",
		Days: []domain.DailyValue{{Day: 1, Raw: 100, Present: true}},
	})
	third, err := b.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeProcessed, third.Results[0].Outcome)
	assert.Equal(t, 2, third.Results[0].YearlyRows)

	forced, err := h.batch(pipeline.BatchOptions{Force: true}).Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeProcessed, forced.Results[0].Outcome)
}

func TestBatch_Run_CachedStationIsNotParsed(t *testing.T) {
	h := newHarness(t)
	b := h.batch(pipeline.BatchOptions{Workers: 1})
	ids := []string{"AAA00000001"}

	_, err := b.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 2, h.source.opens("AAA00000001"), "hash pass then parse pass")

	stamp, err := h.store.ReadStamp("AAA00000001")
	require.NoError(t, err)
	assert.Equal(t, b.Stamp([]byte(h.source.daily["AAA00000001"])), stamp)

	linesRead := testutil.ToFloat64(h.metrics.LinesRead.WithLabelValues("daily"))
	second, err := b.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeCached, second.Results[0].Outcome)
	assert.Equal(t, 3, h.source.opens("AAA00000001"), "cached run only hashes")
	assert.Equal(t, linesRead, testutil.ToFloat64(h.metrics.LinesRead.WithLabelValues("daily")))
}

func TestBatch_Stamp_DependsOnOptions(t *testing.T) {
	h := newHarness(t)
	content := []byte("same bytes")

	plain := h.batch(pipeline.BatchOptions{}).Stamp(content)
	qc := h.batch(pipeline.BatchOptions{DropQualityFailed: true}).Stamp(content)

	assert.NotEqual(t, plain, qc)
	assert.True(t, strings.HasPrefix(plain, pipeline.SchemaVersion+";"))
	assert.Equal(t, plain, h.batch(pipeline.BatchOptions{}).Stamp(content))
}

func TestBatch_Run_CancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.batch(pipeline.BatchOptions{Workers: 1}).Run(ctx, []string{"AAA00000001", "BBB00000002"})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.Equal(t, pipeline.OutcomeFailed, res.Outcome)
	}
}

func TestBatch_Run_ReportTimestampsUseClock(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	h := newHarness(t)
	report, err := h.batch(pipeline.BatchOptions{}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, fake.Now(), report.StartedAt)
	assert.Equal(t, fake.Now(), report.FinishedAt)
	assert.Empty(t, report.Results)
}

func TestPipeline_Run_ReferenceThenBatch(t *testing.T) {
	h := newHarness(t)
	p := pipeline.New(h.reference(), h.batch(pipeline.BatchOptions{Workers: 2}), h.source, nil, slog.Default(), h.metrics)

	require.Error(t, p.CheckReadiness(context.Background()))

	require.NoError(t, p.Run(context.Background()))
	assert.True(t, p.Ready())
	require.NoError(t, p.CheckReadiness(context.Background()))

	last := p.LastBatch()
	require.NotNil(t, last)
	assert.Equal(t, 2, last.Count(pipeline.OutcomeProcessed))
}

func TestPipeline_Run_ExplicitStationIDs(t *testing.T) {
	h := newHarness(t)
	p := pipeline.New(h.reference(), h.batch(pipeline.BatchOptions{}), h.source, []string{"BBB00000002"}, slog.Default(), h.metrics)

	require.NoError(t, p.Run(context.Background()))
	require.Len(t, p.LastBatch().Results, 1)
	_, opened := h.source.opened.Load("AAA00000001")
	assert.False(t, opened)
}

func TestPipeline_Run_ReferenceFailureStops(t *testing.T) {
	h := newHarness(t)
	h.source.registry = ""
	p := pipeline.New(h.reference(), h.batch(pipeline.BatchOptions{}), h.source, nil, slog.Default(), h.metrics)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference run")
	assert.False(t, p.Ready())
	assert.Nil(t, p.LastBatch())
}

func TestPipeline_Preload(t *testing.T) {
	h := newHarness(t)
	p := pipeline.New(h.reference(), h.batch(pipeline.BatchOptions{}), h.source, nil, slog.Default(), h.metrics)

	p.Preload([]domain.Station{{ID: "S1", FirstYear: 1900, LastYear: 2000}})
	assert.True(t, p.Ready())
	assert.Equal(t, 1, h.table.Len())
}

func TestReference_Run_IsIdempotent(t *testing.T) {
	h := newHarness(t)

	_, err := h.reference().Run(context.Background())
	require.NoError(t, err)
	stations1, err := os.ReadFile(h.store.StationsPath())
	require.NoError(t, err)
	inventory1, err := os.ReadFile(h.store.InventoryPath())
	require.NoError(t, err)

	_, err = h.reference().Run(context.Background())
	require.NoError(t, err)
	stations2, err := os.ReadFile(h.store.StationsPath())
	require.NoError(t, err)
	inventory2, err := os.ReadFile(h.store.InventoryPath())
	require.NoError(t, err)

	assert.Equal(t, stations1, stations2)
	assert.Equal(t, inventory1, inventory2)
}
