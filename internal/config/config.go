package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DataDir         string
	StationsFile    string
	InventoryFile   string
	DailyDir        string
	OutputDir       string
	InventoryFormat domain.InventoryFormat
	DedupPolicy     domain.DedupPolicy
	Workers         int
	DropQCFailed    bool
	StationIDs      []string

	// Raw-file fetching from the NOAA archive.
	FetchEnabled bool
	NOAABaseURL  string
	FetchTimeout time.Duration
	FetchRetries int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	QueryCacheSize  int

	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaStationsTopic string

	// SQLitePath is empty when the SQLite copy is disabled.
	SQLitePath string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("FETCH_TIMEOUT", "30s"))
	if err != nil || fetchTimeout <= 0 {
		return nil, errors.New("invalid FETCH_TIMEOUT")
	}

	format, err := domain.ParseInventoryFormat(sharedcfg.EnvOrDefault("INVENTORY_FORMAT", string(domain.InventoryFormatWhitespace)))
	if err != nil {
		return nil, fmt.Errorf("invalid INVENTORY_FORMAT: %w", err)
	}

	policy, err := domain.ParseDedupPolicy(sharedcfg.EnvOrDefault("DEDUP_POLICY", string(domain.DedupKeepFirst)))
	if err != nil {
		return nil, fmt.Errorf("invalid DEDUP_POLICY: %w", err)
	}

	workers, err := parsePositiveInt("WORKERS", runtime.NumCPU())
	if err != nil {
		return nil, err
	}
	retries, err := parseNonNegativeInt("FETCH_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	dataDir := sharedcfg.EnvOrDefault("DATA_DIR", "./data")

	cfg := &Config{
		DataDir:         dataDir,
		StationsFile:    sharedcfg.EnvOrDefault("STATIONS_FILE", filepath.Join(dataDir, "ghcnd-stations.txt")),
		InventoryFile:   sharedcfg.EnvOrDefault("INVENTORY_FILE", filepath.Join(dataDir, "ghcnd-inventory.txt")),
		DailyDir:        sharedcfg.EnvOrDefault("DAILY_DIR", filepath.Join(dataDir, "daily")),
		OutputDir:       sharedcfg.EnvOrDefault("OUTPUT_DIR", filepath.Join(dataDir, "out")),
		InventoryFormat: format,
		DedupPolicy:     policy,
		Workers:         workers,
		DropQCFailed:    os.Getenv("DROP_QC_FAILED") == "true",
		StationIDs:      splitList(os.Getenv("STATION_IDS")),

		FetchEnabled: os.Getenv("FETCH_ENABLED") == "true",
		NOAABaseURL:  strings.TrimRight(sharedcfg.EnvOrDefault("NOAA_BASE_URL", "https://www.ncei.noaa.gov/pub/data/ghcn/daily"), "/"),
		FetchTimeout: fetchTimeout,
		FetchRetries: retries,

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		QueryCacheSize:  parseCacheSize(),

		KafkaEnabled:       os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaStationsTopic: sharedcfg.EnvOrDefault("KAFKA_STATIONS_TOPIC", "ghcn-stations"),

		SQLitePath: os.Getenv("SQLITE_PATH"),
	}

	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaStationsTopic == "" {
			return nil, errors.New("KAFKA_STATIONS_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	if cfg.FetchEnabled && cfg.NOAABaseURL == "" {
		return nil, errors.New("NOAA_BASE_URL is required when FETCH_ENABLED is true")
	}

	return cfg, nil
}

func parsePositiveInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", name)
	}
	return n, nil
}

func parseNonNegativeInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: must be a non-negative integer", name)
	}
	return n, nil
}

func parseCacheSize() int {
	if s := os.Getenv("QUERY_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
