//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/ghcn-station-etl/internal/adapter/filestore"
	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
)

// startKafka runs a single-node Kafka container and returns its broker address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("ghcn-etl-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// writeRawFiles lays out a small GHCN snapshot under dir and returns a source for it.
func writeRawFiles(t *testing.T, dir string) filestore.Source {
	t.Helper()
	src := filestore.Source{
		StationsFile:  filepath.Join(dir, "ghcnd-stations.txt"),
		InventoryFile: filepath.Join(dir, "ghcnd-inventory.txt"),
		DailyDir:      filepath.Join(dir, "daily"),
	}
	require.NoError(t, os.MkdirAll(src.DailyDir, 0o755))

	registry := []string{
		domain.FormatRegistryLine(domain.RegistryEntry{ID: "GME00000001", Latitude: 48.05, Longitude: 8.46, Name: "VILLINGEN"}),
		domain.FormatRegistryLine(domain.RegistryEntry{ID: "GME00000002", Latitude: 47.68, Longitude: 9.19, Name: "KONSTANZ"}),
	}
	inventory := []string{
		domain.FormatInventoryLine(domain.RawInventoryRecord{StationID: "GME00000001", Latitude: 48.05, Longitude: 8.46, Element: "TMAX", FirstYear: 1947, LastYear: 2023}),
		domain.FormatInventoryLine(domain.RawInventoryRecord{StationID: "GME00000001", Latitude: 48.05, Longitude: 8.46, Element: "TMIN", FirstYear: 1947, LastYear: 2023}),
		domain.FormatInventoryLine(domain.RawInventoryRecord{StationID: "GME00000002", Latitude: 47.68, Longitude: 9.19, Element: "TMAX", FirstYear: 1972, LastYear: 2024}),
	}
	day := func(d, raw int) domain.DailyValue { return domain.DailyValue{Day: d, Raw: raw, Present: true} }
	daily := []string{
		domain.FormatDailyLine(domain.DailyRecord{StationID: "GME00000001", Year: 2020, Month: 7, Element: "TMAX", Days: []domain.DailyValue{day(1, 251), day(2, 263)}}),
		domain.FormatDailyLine(domain.DailyRecord{StationID: "GME00000001", Year: 2020, Month: 7, Element: "TMIN", Days: []domain.DailyValue{day(1, 120)}}),
	}

	writeLines(t, src.StationsFile, registry)
	writeLines(t, src.InventoryFile, inventory)
	writeLines(t, src.DailyPath("GME00000001"), daily)
	return src
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
