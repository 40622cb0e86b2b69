package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// ErrInvalidQuery is returned by Nearest when the radius or result cap is not positive.
var ErrInvalidQuery = errors.New("invalid query")

// HaversineKm returns the great-circle distance in kilometres between two
// points given in decimal degrees.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180
	phi1 := lat1 * rad
	phi2 := lat2 * rad
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// NearestQuery is the input of Nearest. YearFrom > YearTo is not rejected
// here; callers normalise the window before querying.
type NearestQuery struct {
	Lat      float64
	Lon      float64
	RadiusKm float64
	YearFrom int
	YearTo   int
	MaxCount int
}

// Validate checks the parameters Nearest refuses to run with.
func (q NearestQuery) Validate() error {
	if !(q.RadiusKm > 0) {
		return fmt.Errorf("%w: radius_km must be > 0, got %v", ErrInvalidQuery, q.RadiusKm)
	}
	if q.MaxCount <= 0 {
		return fmt.Errorf("%w: max_count must be > 0, got %d", ErrInvalidQuery, q.MaxCount)
	}
	return nil
}

// Match is one station returned by Nearest. DistanceKm is rounded to two decimals.
type Match struct {
	Station    Station
	DistanceKm float64
}

// Nearest returns up to q.MaxCount stations whose coverage overlaps
// [q.YearFrom, q.YearTo] and that lie within q.RadiusKm of the query point,
// closest first. Equal distances keep table order. The table is only read.
// An empty result is not an error.
func Nearest(table []Station, q NearestQuery) ([]Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	type candidate struct {
		idx  int
		dist float64
	}
	candidates := make([]candidate, 0)
	for i := range table {
		s := &table[i]
		if s.FirstYear > q.YearTo || s.LastYear < q.YearFrom {
			continue
		}
		d := HaversineKm(q.Lat, q.Lon, s.Latitude, s.Longitude)
		if d <= q.RadiusKm {
			candidates = append(candidates, candidate{idx: i, dist: d})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].dist < candidates[b].dist
	})
	if len(candidates) > q.MaxCount {
		candidates = candidates[:q.MaxCount]
	}

	out := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Match{Station: table[c.idx], DistanceKm: Round2(c.dist)})
	}
	return out, nil
}

// StationTable holds the current station snapshot for concurrent readers.
// Snapshots are replaced whole and never modified after Swap.
type StationTable struct {
	current atomic.Pointer[tableSnapshot]
	gen     atomic.Uint64
}

type tableSnapshot struct {
	stations   []Station
	generation uint64
}

// NewStationTable returns a table holding an empty snapshot.
func NewStationTable() *StationTable {
	t := &StationTable{}
	t.current.Store(&tableSnapshot{})
	return t
}

// Swap installs stations as the new snapshot. The caller must not modify the
// slice afterwards.
func (t *StationTable) Swap(stations []Station) {
	t.current.Store(&tableSnapshot{stations: stations, generation: t.gen.Add(1)})
}

// Snapshot returns the current stations and their generation number.
func (t *StationTable) Snapshot() ([]Station, uint64) {
	s := t.current.Load()
	return s.stations, s.generation
}

// Nearest runs Nearest against the current snapshot.
func (t *StationTable) Nearest(q NearestQuery) ([]Match, error) {
	stations, _ := t.Snapshot()
	return Nearest(stations, q)
}

// Len returns the size of the current snapshot.
func (t *StationTable) Len() int {
	stations, _ := t.Snapshot()
	return len(stations)
}
