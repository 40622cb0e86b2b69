package domain

import (
	"fmt"
	"strings"
)

// FormatRegistryLine renders an entry in ghcnd-stations.txt column layout.
func FormatRegistryLine(e RegistryEntry) string {
	elev := -999.9
	if e.Elevation != nil {
		elev = *e.Elevation
	}
	return strings.TrimRight(fmt.Sprintf("%-11s %8.4f %9.4f %6.1f %-2s %-30s",
		e.ID, e.Latitude, e.Longitude, elev, e.State, e.Name), " ")
}

// FormatInventoryLine renders a record in the fixed-width inventory layout,
// which is also valid whitespace-delimited input.
func FormatInventoryLine(r RawInventoryRecord) string {
	return fmt.Sprintf("%-11s %8.4f %9.4f %-4s %4d %4d",
		r.StationID, r.Latitude, r.Longitude, r.Element, r.FirstYear, r.LastYear)
}

// FormatDailyLine renders a .dly line. Days not present in rec, or present
// with Present=false, are written as the missing-value sentinel.
func FormatDailyLine(rec DailyRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-11s%04d%02d%-4s", rec.StationID, rec.Year, rec.Month, rec.Element)

	byDay := make(map[int]DailyValue, len(rec.Days))
	for _, dv := range rec.Days {
		byDay[dv.Day] = dv
	}
	for d := 1; d <= daysPerLine; d++ {
		dv, ok := byDay[d]
		if !ok || !dv.Present {
			fmt.Fprintf(&b, "%5d   ", MissingValue)
			continue
		}
		fmt.Fprintf(&b, "%5d%1s%1s%1s", dv.Raw, flagOrBlank(dv.MeasurementFlag), flagOrBlank(dv.QualityFlag), flagOrBlank(dv.SourceFlag))
	}
	return b.String()
}

func flagOrBlank(f string) string {
	if f == "" {
		return " "
	}
	return f[:1]
}
