//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ghcn-station-etl/internal/adapter/filestore"
	"github.com/couchcryptid/ghcn-station-etl/internal/adapter/kafka"
	"github.com/couchcryptid/ghcn-station-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/ghcn-station-etl/internal/config"
	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
	"github.com/couchcryptid/ghcn-station-etl/internal/observability"
	"github.com/couchcryptid/ghcn-station-etl/internal/pipeline"
)

// publishedStation holds a deserialized message read from the stations topic.
type publishedStation struct {
	Station domain.Station
	Key     string
	Headers map[string]string
}

// readStation reads a single message from the consumer and deserializes it.
func readStation(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedStation {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from stations topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var station domain.Station
	require.NoError(t, json.Unmarshal(msg.Value, &station), "unmarshal station message")

	return publishedStation{
		Station: station,
		Key:     string(msg.Key),
		Headers: headers,
	}
}

func newConsumer(broker, topic string) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    1e6,
	})
}

// TestKafkaWriter verifies that the writer round-trips station records.
func TestKafkaWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	const topic = "test-stations-writer"
	createTopic(t, broker, topic)

	writer := kafka.NewWriter(&config.Config{KafkaBrokers: []string{broker}, KafkaStationsTopic: topic}, discardLogger())
	defer writer.Close()

	name := "VILLINGEN"
	station := domain.Station{ID: "GME00000001", Latitude: 48.05, Longitude: 8.46, Name: &name, FirstYear: 1947, LastYear: 2023}
	require.NoError(t, writer.PublishStations(ctx, []domain.Station{station}))

	consumer := newConsumer(broker, topic)
	defer consumer.Close()

	got := readStation(ctx, t, consumer)
	assert.Equal(t, "GME00000001", got.Key)
	assert.Equal(t, station, got.Station)
	assert.Equal(t, "1947-2023", got.Headers["coverage"])
	assert.NotEmpty(t, got.Headers["published_at"])
}

// TestPipelineEndToEnd runs the reference ingestion and the station batch
// against raw files on disk, with SQLite and Kafka sinks enabled.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	const topic = "test-stations-e2e"
	createTopic(t, broker, topic)

	dir := t.TempDir()
	src := writeRawFiles(t, filepath.Join(dir, "raw"))
	store := filestore.New(filepath.Join(dir, "out"))
	table := domain.NewStationTable()
	metrics := observability.NewMetricsForTesting()
	logger := discardLogger()

	mirror, err := sqlite.Open(ctx, filepath.Join(dir, "ghcn.db"), logger)
	require.NoError(t, err)
	defer mirror.Close()

	writer := kafka.NewWriter(&config.Config{KafkaBrokers: []string{broker}, KafkaStationsTopic: topic}, logger)
	defer writer.Close()

	ref := pipeline.NewReference(src, store, table, mirror, writer, pipeline.ReferenceOptions{
		InventoryFormat: domain.InventoryFormatWhitespace,
		DedupPolicy:     domain.DedupKeepFirst,
	}, logger, metrics)
	batch := pipeline.NewBatch(src, store, mirror, pipeline.BatchOptions{Workers: 2}, logger, metrics)
	p := pipeline.New(ref, batch, src, nil, logger, metrics)

	require.NoError(t, p.Run(ctx))
	require.True(t, p.Ready())

	report := p.LastBatch()
	require.NotNil(t, report)
	require.Len(t, report.Results, 1)
	assert.Equal(t, pipeline.OutcomeProcessed, report.Results[0].Outcome)

	// Stations are published in id order.
	consumer := newConsumer(broker, topic)
	defer consumer.Close()
	first := readStation(ctx, t, consumer)
	second := readStation(ctx, t, consumer)
	assert.Equal(t, "GME00000001", first.Key)
	assert.Equal(t, "1947-2023", first.Headers["coverage"])
	assert.Equal(t, "GME00000002", second.Key)
	assert.Equal(t, "KONSTANZ", second.Station.DisplayName())

	yearly, err := store.ReadYearly("GME00000001")
	require.NoError(t, err)
	require.Len(t, yearly, 1)
	require.NotNil(t, yearly[0].TMax)
	assert.Equal(t, 25.7, *yearly[0].TMax)

	mirrored, err := mirror.YearlyAverages(ctx, "GME00000001")
	require.NoError(t, err)
	assert.Equal(t, yearly, mirrored)

	stations, err := mirror.ListStations(ctx)
	require.NoError(t, err)
	assert.Len(t, stations, 2)
}
