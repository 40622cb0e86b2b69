package domain

import (
	"fmt"
	"io"
	"strconv"
	"time"
)

const (
	dailyHeaderWidth = 21
	daySlotWidth     = 8
	daysPerLine      = 31
)

// DailyLayout decodes a .dly line: the header plus 31 day slots of
// VALUE(5) MFLAG(1) QFLAG(1) SFLAG(1). A line must hold the header and at
// least the first slot; slots past the end of the line are absent.
var DailyLayout = newDailyLayout()

func newDailyLayout() Layout {
	cols := []Column{
		{Name: "id", Start: 0, End: 11, Kind: KindString},
		{Name: "year", Start: 11, End: 15, Kind: KindInt},
		{Name: "month", Start: 15, End: 17, Kind: KindInt},
		{Name: "element", Start: 17, End: 21, Kind: KindString},
	}
	for d := 1; d <= daysPerLine; d++ {
		base := dailyHeaderWidth + (d-1)*daySlotWidth
		cols = append(cols,
			Column{Name: dayColumn("value", d), Start: base, End: base + 5, Kind: KindInt},
			Column{Name: dayColumn("mflag", d), Start: base + 5, End: base + 6, Kind: KindString},
			Column{Name: dayColumn("qflag", d), Start: base + 6, End: base + 7, Kind: KindString},
			Column{Name: dayColumn("sflag", d), Start: base + 7, End: base + 8, Kind: KindString},
		)
	}
	return Layout{MinWidth: dailyHeaderWidth + daySlotWidth, Columns: cols}
}

func dayColumn(field string, day int) string {
	return field + strconv.Itoa(day)
}

// ParseDailyLine decodes one .dly line. Day slots holding the missing-value
// sentinel, unparseable values, or days past the end of the month are
// returned with Present set to false.
func ParseDailyLine(line string) (DailyRecord, error) {
	rec, err := DailyLayout.Decode(line)
	if err != nil {
		return DailyRecord{}, err
	}

	id, okID := rec.String("id")
	year, okYear := rec.Int("year")
	month, okMonth := rec.Int("month")
	element, okEl := rec.String("element")
	if !okID || !okYear || !okMonth || !okEl {
		return DailyRecord{}, fmt.Errorf("%w: daily header", ErrMalformedLine)
	}
	if month < 1 || month > 12 {
		return DailyRecord{}, fmt.Errorf("%w: month %d", ErrMalformedLine, month)
	}

	monthDays := daysIn(year, month)
	out := DailyRecord{
		StationID: id,
		Year:      year,
		Month:     month,
		Element:   element,
		Days:      make([]DailyValue, 0, daysPerLine),
	}
	for d := 1; d <= daysPerLine; d++ {
		dv := DailyValue{Day: d}
		dv.MeasurementFlag, _ = rec.String(dayColumn("mflag", d))
		dv.QualityFlag, _ = rec.String(dayColumn("qflag", d))
		dv.SourceFlag, _ = rec.String(dayColumn("sflag", d))
		if raw, ok := rec.Int(dayColumn("value", d)); ok && raw != MissingValue && d <= monthDays {
			dv.Raw = raw
			dv.Present = true
		}
		out.Days = append(out.Days, dv)
	}
	return out, nil
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// CleanOptions tunes the observation cleaner.
type CleanOptions struct {
	// StationID, when set, rejects lines that belong to another station.
	StationID string
	// DropQualityFailed discards values whose quality flag is set.
	DropQualityFailed bool
}

// CleanStats counts what the cleaner saw for one station.
type CleanStats struct {
	Lines          int
	SkippedLines   int
	OtherElements  int
	MissingValues  int
	QualityDropped int
	Observations   int
}

// TenthsToCelsius converts a raw GHCN temperature to degrees Celsius rounded
// to two decimals.
func TenthsToCelsius(raw int) float64 {
	return Round2(float64(raw) / 10.0)
}

// CleanDailyRecord turns one decoded line into cleaned observations. Lines for
// elements other than TMAX/TMIN produce nothing. Flags are consulted here and
// dropped.
func CleanDailyRecord(rec DailyRecord, opts CleanOptions, stats *CleanStats) []Observation {
	if stats == nil {
		stats = &CleanStats{}
	}
	if !IsTemperatureElement(rec.Element) {
		stats.OtherElements++
		return nil
	}

	out := make([]Observation, 0, len(rec.Days))
	for _, dv := range rec.Days {
		if !dv.Present {
			stats.MissingValues++
			continue
		}
		if opts.DropQualityFailed && dv.QualityFlag != "" {
			stats.QualityDropped++
			continue
		}
		out = append(out, Observation{
			StationID: rec.StationID,
			Year:      rec.Year,
			Month:     rec.Month,
			Day:       dv.Day,
			Element:   rec.Element,
			Value:     TenthsToCelsius(dv.Raw),
		})
	}
	stats.Observations += len(out)
	return out
}

// ReadObservations streams a station's .dly content and returns its cleaned
// observations in file order. Malformed lines are skipped and counted.
func ReadObservations(r io.Reader, opts CleanOptions) ([]Observation, CleanStats, error) {
	var stats CleanStats
	var obs []Observation

	scan, err := ScanLines(r, func(_ int, line string) error {
		rec, err := ParseDailyLine(line)
		if err != nil {
			return err
		}
		if opts.StationID != "" && rec.StationID != opts.StationID {
			return fmt.Errorf("%w: station %s in file for %s", ErrMalformedLine, rec.StationID, opts.StationID)
		}
		obs = append(obs, CleanDailyRecord(rec, opts, &stats)...)
		return nil
	})
	stats.Lines = scan.Read
	stats.SkippedLines = scan.Skipped
	if err != nil {
		return nil, stats, err
	}
	return obs, stats, nil
}
