// Package filestore persists the canonical and per-station tables as CSV
// files. Every file is written to a temporary sibling and renamed into place,
// so a reader never observes a partially written table.
package filestore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
)

// ErrNotFound is returned when a requested table has not been written yet.
var ErrNotFound = domain.ErrNotFound

const (
	stationsFile  = "stations.csv"
	inventoryFile = "stations_inventory.csv"
	stationsDir   = "stations"
)

var (
	stationsHeader    = []string{"station_id", "station_name", "lat", "lon", "first_year", "last_year"}
	inventoryHeader   = []string{"station_id", "lat", "lon", "element", "first_year", "last_year", "station_name"}
	observationHeader = []string{"station_id", "year", "month", "day", "element", "value"}
	monthlyHeader     = []string{"station_id", "year", "month", "tmax", "tmin"}
	yearlyHeader      = []string{"station_id", "year", "tmax", "tmin"}
)

// Store reads and writes tables under a root directory.
type Store struct {
	root string
}

// New returns a Store rooted at dir. The directory is created on first write.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the output directory.
func (s *Store) Root() string { return s.root }

// StationsPath is the location of the canonical station table.
func (s *Store) StationsPath() string { return filepath.Join(s.root, stationsFile) }

// InventoryPath is the location of the canonical inventory table.
func (s *Store) InventoryPath() string { return filepath.Join(s.root, inventoryFile) }

func (s *Store) stationPath(id, suffix string) (string, error) {
	if !domain.ValidStationID(id) {
		return "", fmt.Errorf("invalid station id %q", id)
	}
	return filepath.Join(s.root, stationsDir, id+suffix), nil
}

// WriteStations replaces stations.csv.
func (s *Store) WriteStations(stations []domain.Station) error {
	rows := make([][]string, 0, len(stations))
	for _, st := range stations {
		rows = append(rows, []string{
			st.ID,
			optString(st.Name),
			formatFloat(st.Latitude),
			formatFloat(st.Longitude),
			strconv.Itoa(st.FirstYear),
			strconv.Itoa(st.LastYear),
		})
	}
	return writeTable(s.StationsPath(), stationsHeader, rows)
}

// WriteInventory replaces stations_inventory.csv.
func (s *Store) WriteInventory(entries []domain.InventoryEntry) error {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.StationID,
			formatFloat(e.Latitude),
			formatFloat(e.Longitude),
			e.Element,
			strconv.Itoa(e.FirstYear),
			strconv.Itoa(e.LastYear),
			optString(e.Name),
		})
	}
	return writeTable(s.InventoryPath(), inventoryHeader, rows)
}

// WriteObservations replaces the cleaned daily table of one station.
func (s *Store) WriteObservations(id string, obs []domain.Observation) error {
	path, err := s.stationPath(id, ".csv")
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, []string{
			o.StationID,
			strconv.Itoa(o.Year),
			strconv.Itoa(o.Month),
			strconv.Itoa(o.Day),
			o.Element,
			formatFloat(o.Value),
		})
	}
	return writeTable(path, observationHeader, rows)
}

// WriteMonthly replaces the monthly averages of one station.
func (s *Store) WriteMonthly(id string, monthly []domain.MonthlyAverage) error {
	path, err := s.stationPath(id, "_monthly.csv")
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(monthly))
	for _, m := range monthly {
		rows = append(rows, []string{
			m.StationID,
			strconv.Itoa(m.Year),
			strconv.Itoa(m.Month),
			optFloat(m.TMax),
			optFloat(m.TMin),
		})
	}
	return writeTable(path, monthlyHeader, rows)
}

// WriteYearly replaces the yearly averages of one station.
func (s *Store) WriteYearly(id string, yearly []domain.YearlyAverage) error {
	path, err := s.stationPath(id, "_yearly.csv")
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(yearly))
	for _, y := range yearly {
		rows = append(rows, []string{
			y.StationID,
			strconv.Itoa(y.Year),
			optFloat(y.TMax),
			optFloat(y.TMin),
		})
	}
	return writeTable(path, yearlyHeader, rows)
}

// ReadStations loads stations.csv.
func (s *Store) ReadStations() ([]domain.Station, error) {
	rows, err := readTable(s.StationsPath(), stationsHeader)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Station, 0, len(rows))
	for i, r := range rows {
		var p rowParser
		st := domain.Station{
			ID:        r[0],
			Name:      parseOptString(r[1]),
			Latitude:  p.float(r[2]),
			Longitude: p.float(r[3]),
			FirstYear: p.int(r[4]),
			LastYear:  p.int(r[5]),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s row %d: %w", stationsFile, i+2, p.err)
		}
		out = append(out, st)
	}
	return out, nil
}

// ReadInventory loads stations_inventory.csv.
func (s *Store) ReadInventory() ([]domain.InventoryEntry, error) {
	rows, err := readTable(s.InventoryPath(), inventoryHeader)
	if err != nil {
		return nil, err
	}
	out := make([]domain.InventoryEntry, 0, len(rows))
	for i, r := range rows {
		var p rowParser
		e := domain.InventoryEntry{
			StationID: r[0],
			Latitude:  p.float(r[1]),
			Longitude: p.float(r[2]),
			Element:   r[3],
			FirstYear: p.int(r[4]),
			LastYear:  p.int(r[5]),
			Name:      parseOptString(r[6]),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s row %d: %w", inventoryFile, i+2, p.err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ReadObservations loads the cleaned daily table of one station.
func (s *Store) ReadObservations(id string) ([]domain.Observation, error) {
	path, err := s.stationPath(id, ".csv")
	if err != nil {
		return nil, err
	}
	rows, err := readTable(path, observationHeader)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Observation, 0, len(rows))
	for i, r := range rows {
		var p rowParser
		o := domain.Observation{
			StationID: r[0],
			Year:      p.int(r[1]),
			Month:     p.int(r[2]),
			Day:       p.int(r[3]),
			Element:   r[4],
			Value:     p.float(r[5]),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s row %d: %w", filepath.Base(path), i+2, p.err)
		}
		out = append(out, o)
	}
	return out, nil
}

// ReadMonthly loads the monthly averages of one station.
func (s *Store) ReadMonthly(id string) ([]domain.MonthlyAverage, error) {
	path, err := s.stationPath(id, "_monthly.csv")
	if err != nil {
		return nil, err
	}
	rows, err := readTable(path, monthlyHeader)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MonthlyAverage, 0, len(rows))
	for i, r := range rows {
		var p rowParser
		m := domain.MonthlyAverage{
			StationID: r[0],
			Year:      p.int(r[1]),
			Month:     p.int(r[2]),
			TMax:      p.optFloat(r[3]),
			TMin:      p.optFloat(r[4]),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s row %d: %w", filepath.Base(path), i+2, p.err)
		}
		out = append(out, m)
	}
	return out, nil
}

// ReadYearly loads the yearly averages of one station.
func (s *Store) ReadYearly(id string) ([]domain.YearlyAverage, error) {
	path, err := s.stationPath(id, "_yearly.csv")
	if err != nil {
		return nil, err
	}
	rows, err := readTable(path, yearlyHeader)
	if err != nil {
		return nil, err
	}
	out := make([]domain.YearlyAverage, 0, len(rows))
	for i, r := range rows {
		var p rowParser
		y := domain.YearlyAverage{
			StationID: r[0],
			Year:      p.int(r[1]),
			TMax:      p.optFloat(r[2]),
			TMin:      p.optFloat(r[3]),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s row %d: %w", filepath.Base(path), i+2, p.err)
		}
		out = append(out, y)
	}
	return out, nil
}

// ReadStamp returns the cache stamp of a station's artifacts, or ErrNotFound.
func (s *Store) ReadStamp(id string) (string, error) {
	path, err := s.stationPath(id, ".stamp")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteStamp records the cache stamp of a station's artifacts. It must be
// called after the artifacts themselves are in place.
func (s *Store) WriteStamp(id, stamp string) error {
	path, err := s.stationPath(id, ".stamp")
	if err != nil {
		return err
	}
	return writeAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, stamp+"\n")
		return err
	})
}

// RemoveStamp invalidates a station's cached artifacts.
func (s *Store) RemoveStamp(id string) error {
	path, err := s.stationPath(id, ".stamp")
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func writeTable(path string, header []string, rows [][]string) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	})
}

func writeAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := fill(tmp); err != nil {
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func readTable(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("read %s: missing header", path)
	}
	for i, h := range header {
		if rows[0][i] != h {
			return nil, fmt.Errorf("read %s: unexpected column %q at %d, want %q", path, rows[0][i], i, h)
		}
	}
	return rows[1:], nil
}

// rowParser collects the first conversion error of a row.
type rowParser struct {
	err error
}

func (p *rowParser) int(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return n
}

func (p *rowParser) float(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *rowParser) optFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v := p.float(s)
	return &v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func optString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseOptString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
