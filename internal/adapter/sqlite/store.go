// Package sqlite mirrors the canonical and aggregate tables into a SQLite
// database for ad-hoc SQL access. The CSV tables stay authoritative.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS stations (
    station_id TEXT PRIMARY KEY,
    station_name TEXT,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    first_year INTEGER NOT NULL,
    last_year INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stations_inventory (
    station_id TEXT NOT NULL,
    element TEXT NOT NULL,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    first_year INTEGER NOT NULL,
    last_year INTEGER NOT NULL,
    station_name TEXT,
    PRIMARY KEY (station_id, element)
);

CREATE TABLE IF NOT EXISTS monthly_averages (
    station_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    month INTEGER NOT NULL,
    tmax REAL,
    tmin REAL,
    PRIMARY KEY (station_id, year, month)
);

CREATE TABLE IF NOT EXISTS yearly_averages (
    station_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    tmax REAL,
    tmin REAL,
    PRIMARY KEY (station_id, year)
);
`,
	},
}

// Store writes tables to a SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. Call Migrate before use.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at DATETIME NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		s.logger.Info("applying migration", "version", m.Version, "description", m.Description)

		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("execute migration %d: %w", m.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
				m.Version, m.Description, domain.Now(),
			); err != nil {
				return fmt.Errorf("record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ReplaceReference replaces the station and inventory tables in one transaction.
func (s *Store) ReplaceReference(ctx context.Context, entries []domain.InventoryEntry, stations []domain.Station) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM stations_inventory`); err != nil {
			return fmt.Errorf("clear inventory: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM stations`); err != nil {
			return fmt.Errorf("clear stations: %w", err)
		}

		invStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stations_inventory (station_id, element, lat, lon, first_year, last_year, station_name)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer invStmt.Close()
		for _, e := range entries {
			if _, err := invStmt.ExecContext(ctx, e.StationID, e.Element, e.Latitude, e.Longitude, e.FirstYear, e.LastYear, nullString(e.Name)); err != nil {
				return fmt.Errorf("insert inventory %s/%s: %w", e.StationID, e.Element, err)
			}
		}

		stStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stations (station_id, station_name, lat, lon, first_year, last_year)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stStmt.Close()
		for _, st := range stations {
			if _, err := stStmt.ExecContext(ctx, st.ID, nullString(st.Name), st.Latitude, st.Longitude, st.FirstYear, st.LastYear); err != nil {
				return fmt.Errorf("insert station %s: %w", st.ID, err)
			}
		}
		return nil
	})
}

// ReplaceStationAggregates replaces one station's monthly and yearly rows.
func (s *Store) ReplaceStationAggregates(ctx context.Context, stationID string, monthly []domain.MonthlyAverage, yearly []domain.YearlyAverage) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM monthly_averages WHERE station_id = ?`, stationID); err != nil {
			return fmt.Errorf("clear monthly: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM yearly_averages WHERE station_id = ?`, stationID); err != nil {
			return fmt.Errorf("clear yearly: %w", err)
		}
		for _, m := range monthly {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO monthly_averages (station_id, year, month, tmax, tmin) VALUES (?, ?, ?, ?, ?)`,
				stationID, m.Year, m.Month, nullFloat(m.TMax), nullFloat(m.TMin),
			); err != nil {
				return fmt.Errorf("insert monthly %d-%02d: %w", m.Year, m.Month, err)
			}
		}
		for _, y := range yearly {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO yearly_averages (station_id, year, tmax, tmin) VALUES (?, ?, ?, ?)`,
				stationID, y.Year, nullFloat(y.TMax), nullFloat(y.TMin),
			); err != nil {
				return fmt.Errorf("insert yearly %d: %w", y.Year, err)
			}
		}
		return nil
	})
}

// ListStations returns the mirrored station table ordered by id.
func (s *Store) ListStations(ctx context.Context) ([]domain.Station, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT station_id, station_name, lat, lon, first_year, last_year
		FROM stations ORDER BY station_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Station
	for rows.Next() {
		var st domain.Station
		var name sql.NullString
		if err := rows.Scan(&st.ID, &name, &st.Latitude, &st.Longitude, &st.FirstYear, &st.LastYear); err != nil {
			return nil, err
		}
		if name.Valid {
			st.Name = &name.String
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// YearlyAverages returns one station's mirrored yearly rows ordered by year.
func (s *Store) YearlyAverages(ctx context.Context, stationID string) ([]domain.YearlyAverage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT year, tmax, tmin FROM yearly_averages
		WHERE station_id = ? ORDER BY year`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.YearlyAverage
	for rows.Next() {
		y := domain.YearlyAverage{StationID: stationID}
		var tmax, tmin sql.NullFloat64
		if err := rows.Scan(&y.Year, &tmax, &tmin); err != nil {
			return nil, err
		}
		y.TMax = floatPtr(tmax)
		y.TMin = floatPtr(tmin)
		out = append(out, y)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
