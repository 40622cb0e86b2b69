// Command genmock writes a small synthetic GHCN-Daily snapshot (station
// registry, inventory and per-station .dly files) for local runs and
// end-to-end checks. Output is deterministic for a given seed and uses the
// domain formatters, so the files round-trip through the real decoders.
//
// Usage:
//
//	go run ./cmd/genmock -out data -stations 40 -seed 7
//
// Point the ETL at the result with DATA_DIR=data.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
)

// dailyYears is how many trailing years of daily data each station gets.
const dailyYears = 3

type stats struct {
	stations       int
	unnamed        int
	inventoryRows  int
	duplicateRows  int
	otherElements  int
	dailyLines     int
	missingValues  int
	qualityFlagged int
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for the raw GHCN files")
	count := flag.Int("stations", 40, "number of stations to generate")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	if *out == "" || *count <= 0 {
		flag.Usage()
		return fmt.Errorf("missing required flags: -out, -stations > 0")
	}

	// Fix the clock so coverage windows do not drift with the calendar.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	g := &generator{rng: rng, currentYear: domain.Now().Year()}

	dailyDir := filepath.Join(*out, "daily")
	if err := os.MkdirAll(dailyDir, 0o755); err != nil {
		return err
	}

	var registry, inventory []string
	var s stats
	for i := range *count {
		st := g.station(i)
		s.stations++

		// Every eleventh station is absent from the registry and stays unnamed.
		if i%11 == 10 {
			s.unnamed++
		} else {
			registry = append(registry, domain.FormatRegistryLine(st.entry))
		}

		for _, rec := range st.inventory {
			inventory = append(inventory, domain.FormatInventoryLine(rec))
			s.inventoryRows++
			if !domain.IsTemperatureElement(rec.Element) {
				s.otherElements++
			}
		}
		s.duplicateRows += st.duplicates

		lines := g.daily(st, &s)
		if err := writeLines(filepath.Join(dailyDir, st.entry.ID+".dly"), lines); err != nil {
			return err
		}
	}

	// One malformed line per file exercises the skip counters.
	registry = append(registry, "GMX")
	inventory = append(inventory, "GMX00000000 45.0000")

	if err := writeLines(filepath.Join(*out, "ghcnd-stations.txt"), registry); err != nil {
		return err
	}
	if err := writeLines(filepath.Join(*out, "ghcnd-inventory.txt"), inventory); err != nil {
		return err
	}

	log.Printf("wrote snapshot to %s", *out)
	printStats(s)
	return nil
}

type generator struct {
	rng         *rand.Rand
	currentYear int
}

type mockStation struct {
	entry      domain.RegistryEntry
	inventory  []domain.RawInventoryRecord
	duplicates int
	firstYear  int
	lastYear   int
}

func (g *generator) station(i int) mockStation {
	lat := 45 + float64(i/10)*0.25
	lon := 5 + float64(i%10)*0.25
	elev := float64(200 + g.rng.IntN(1500))
	entry := domain.RegistryEntry{
		ID:        fmt.Sprintf("GMX%08d", i+1),
		Latitude:  lat,
		Longitude: lon,
		Elevation: &elev,
		Name:      fmt.Sprintf("MOCK STATION %03d", i+1),
	}

	first := 1950 + g.rng.IntN(50)
	last := g.currentYear - g.rng.IntN(4)
	st := mockStation{entry: entry, firstYear: first, lastYear: last}

	row := func(element string, first, last int) domain.RawInventoryRecord {
		return domain.RawInventoryRecord{
			StationID: entry.ID, Latitude: lat, Longitude: lon,
			Element: element, FirstYear: first, LastYear: last,
		}
	}
	st.inventory = []domain.RawInventoryRecord{
		row(domain.ElementTMAX, first, last),
		row(domain.ElementTMIN, first+g.rng.IntN(3), last),
		row("PRCP", first-10, g.currentYear),
	}
	// Every seventh station repeats its TMAX row with a different window.
	if i%7 == 6 {
		st.inventory = append(st.inventory, row(domain.ElementTMAX, first-5, last-1))
		st.duplicates++
	}
	return st
}

func (g *generator) daily(st mockStation, s *stats) []string {
	var lines []string
	for year := st.lastYear - dailyYears + 1; year <= st.lastYear; year++ {
		for month := 1; month <= 12; month++ {
			days := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
			// Seasonal baseline in tenths of a degree, warmest in July.
			base := 90 - int(math.Round(100*math.Cos(2*math.Pi*float64(month-1)/12)))

			tmax := domain.DailyRecord{StationID: st.entry.ID, Year: year, Month: month, Element: domain.ElementTMAX}
			tmin := domain.DailyRecord{StationID: st.entry.ID, Year: year, Month: month, Element: domain.ElementTMIN}
			for day := 1; day <= days; day++ {
				tmax.Days = append(tmax.Days, g.value(day, base+50+g.rng.IntN(60), s))
				tmin.Days = append(tmin.Days, g.value(day, base-60+g.rng.IntN(60), s))
			}
			lines = append(lines, domain.FormatDailyLine(tmax), domain.FormatDailyLine(tmin))
			s.dailyLines += 2
		}
	}
	return lines
}

func (g *generator) value(day, raw int, s *stats) domain.DailyValue {
	dv := domain.DailyValue{Day: day, Raw: raw, Present: true, SourceFlag: "E"}
	switch r := g.rng.IntN(100); {
	case r < 4:
		dv.Present = false
		s.missingValues++
	case r < 5:
		dv.QualityFlag = "X"
		s.qualityFlagged++
	}
	return dv
}

func writeLines(path string, lines []string) error {
	data := strings.Join(lines, "\n") + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

func printStats(s stats) {
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Stations: %d (%d without registry entry)\n", s.stations, s.unnamed)
	fmt.Printf("Inventory rows: %d (%d non-temperature, %d duplicate)\n", s.inventoryRows, s.otherElements, s.duplicateRows)
	fmt.Printf("Expected canonical rows: %d\n", s.inventoryRows-s.otherElements-s.duplicateRows)
	fmt.Printf("Daily lines: %d\n", s.dailyLines)
	fmt.Printf("Missing values: %d, quality flagged: %d\n", s.missingValues, s.qualityFlagged)
}
