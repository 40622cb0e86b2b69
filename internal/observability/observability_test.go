package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "json")

	logger.Debug("hidden")
	logger.Info("station processed", "station_id", "GME00121150")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "station processed", entry["msg"])
	assert.Equal(t, "GME00121150", entry["station_id"])
	assert.Equal(t, "ghcn-etl", entry["app"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "text")

	logger.Debug("reading inventory", "path", "ghcnd-inventory.txt")
	assert.Contains(t, buf.String(), "reading inventory")
	assert.Contains(t, buf.String(), "ghcnd-inventory.txt")
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.StationResults.WithLabelValues("processed").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.StationResults.WithLabelValues("processed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StationResults.WithLabelValues("processed")))
}
