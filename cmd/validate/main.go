// Command validate performs integrity checks on the tables an ETL run left in
// the output directory. It re-derives the station table from the canonical
// inventory, recomputes every station's monthly and yearly aggregates from its
// cleaned observations, and checks that each station can find itself through
// the nearest-station query.
//
// Usage:
//
//	go run ./cmd/validate -out data/out
package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/couchcryptid/ghcn-station-etl/internal/adapter/filestore"
	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
)

// maxErrorsPerPhase caps the detail printed for one failing phase.
const maxErrorsPerPhase = 50

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	out := flag.String("out", "", "ETL output directory (OUTPUT_DIR)")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*out); code != 0 {
		os.Exit(code)
	}
}

func run(dir string) int {
	store := filestore.New(dir)

	fmt.Println("=== GHCN Output Integrity Validation ===")
	fmt.Println()

	inventory, err := store.ReadInventory()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load inventory: %v\n", err)
		return 1
	}
	stations, err := store.ReadStations()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load stations: %v\n", err)
		return 1
	}

	aggPhase, checked := validateAggregates(store, stations)
	phases := []*phase{
		validateInventory(inventory),
		validateStations(stations, inventory),
		aggPhase,
		validateQueries(stations),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d inventory rows, %d stations, %d stations with aggregates\n",
		len(inventory), len(stations), checked)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxErrorsPerPhase {
				fmt.Printf("  ... %d more\n", len(p.errors)-maxErrorsPerPhase)
				break
			}
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Inventory ──
// Only temperature elements, one row per (station, element).

func validateInventory(inventory []domain.InventoryEntry) *phase {
	p := &phase{name: "Phase 1: Canonical Inventory"}

	seen := make(map[string]bool, len(inventory))
	for i, e := range inventory {
		if !domain.IsTemperatureElement(e.Element) {
			p.errorf("row %d (%s): element %q is not TMAX/TMIN", i, e.StationID, e.Element)
		}
		if !domain.ValidStationID(e.StationID) {
			p.errorf("row %d: invalid station id %q", i, e.StationID)
		}
		key := e.StationID + "|" + e.Element
		if seen[key] {
			p.errorf("row %d: duplicate (station, element) %s", i, key)
		}
		seen[key] = true
	}
	return p
}

// ── Phase 2: Station Table ──
// The persisted station table must equal the aggregation of the inventory.

func validateStations(stations []domain.Station, inventory []domain.InventoryEntry) *phase {
	p := &phase{name: "Phase 2: Station Table (vs inventory)"}

	if !sort.SliceIsSorted(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID }) {
		p.errorf("station table is not ordered by id")
	}

	expected := domain.AggregateStations(inventory)
	if diff := cmp.Diff(expected, stations, cmpopts.EquateEmpty()); diff != "" {
		p.errorf("station table differs from aggregated inventory (-want +got):\n%s", diff)
	}
	return p
}

// ── Phase 3: Aggregates ──
// Monthly rows must match a recomputation from the cleaned observations and
// yearly rows must match a recomputation from the monthly rows.

func validateAggregates(store *filestore.Store, stations []domain.Station) (*phase, int) {
	p := &phase{name: "Phase 3: Aggregates (recomputed)"}
	checked := 0

	for _, st := range stations {
		obs, err := store.ReadObservations(st.ID)
		if errors.Is(err, filestore.ErrNotFound) {
			continue
		}
		if err != nil {
			p.errorf("%s: read observations: %v", st.ID, err)
			continue
		}
		monthly, err := store.ReadMonthly(st.ID)
		if err != nil {
			p.errorf("%s: read monthly: %v", st.ID, err)
			continue
		}
		yearly, err := store.ReadYearly(st.ID)
		if err != nil {
			p.errorf("%s: read yearly: %v", st.ID, err)
			continue
		}
		checked++

		if diff := cmp.Diff(domain.MonthlyAverages(st.ID, obs), monthly, cmpopts.EquateEmpty()); diff != "" {
			p.errorf("%s: monthly averages differ (-want +got):\n%s", st.ID, diff)
		}
		if diff := cmp.Diff(domain.YearlyAverages(monthly), yearly, cmpopts.EquateEmpty()); diff != "" {
			p.errorf("%s: yearly averages differ (-want +got):\n%s", st.ID, diff)
		}
		checkMonthlyRows(p, st.ID, monthly)
	}
	return p, checked
}

func checkMonthlyRows(p *phase, id string, monthly []domain.MonthlyAverage) {
	for _, m := range monthly {
		if m.Month < 1 || m.Month > 12 {
			p.errorf("%s %d: month %d out of range", id, m.Year, m.Month)
		}
		if m.TMax == nil && m.TMin == nil {
			p.errorf("%s %d-%02d: row has neither TMAX nor TMIN", id, m.Year, m.Month)
		}
		for _, v := range []*float64{m.TMax, m.TMin} {
			if v != nil && *v != domain.Round2(*v) {
				p.errorf("%s %d-%02d: value %v is not rounded to two decimals", id, m.Year, m.Month, *v)
			}
		}
	}
}

// ── Phase 4: Queries ──
// Every station with a coverage window finds itself at distance zero.

func validateQueries(stations []domain.Station) *phase {
	p := &phase{name: "Phase 4: Nearest-Station Self Lookup"}

	for _, st := range stations {
		if !st.HasCoverage() || math.IsNaN(st.Latitude) || math.IsNaN(st.Longitude) {
			continue
		}
		matches, err := domain.Nearest(stations, domain.NearestQuery{
			Lat:      st.Latitude,
			Lon:      st.Longitude,
			RadiusKm: 1,
			YearFrom: st.FirstYear,
			YearTo:   st.LastYear,
			MaxCount: len(stations),
		})
		if err != nil {
			p.errorf("%s: query failed: %v", st.ID, err)
			continue
		}
		found := false
		for _, m := range matches {
			if m.Station.ID == st.ID {
				found = true
				if m.DistanceKm != 0 {
					p.errorf("%s: distance to itself is %v", st.ID, m.DistanceKm)
				}
				break
			}
		}
		if !found {
			p.errorf("%s: not returned by a query at its own coordinates", st.ID)
		}
	}
	return p
}
