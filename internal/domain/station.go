package domain

import "errors"

// ErrNotFound is returned by stores when a requested table or stamp does not exist.
var ErrNotFound = errors.New("not found")

// Element codes retained by the pipeline.
const (
	ElementTMAX = "TMAX"
	ElementTMIN = "TMIN"
)

// MissingValue is the GHCN sentinel for a day/element that was not observed.
const MissingValue = -9999

// IsTemperatureElement reports whether element is TMAX or TMIN.
func IsTemperatureElement(element string) bool {
	return element == ElementTMAX || element == ElementTMIN
}

// RegistryEntry is one station from the registry file.
type RegistryEntry struct {
	ID        string
	Latitude  float64
	Longitude float64
	Elevation *float64
	State     string
	Name      string
}

// RawInventoryRecord is one decoded inventory row before filtering.
type RawInventoryRecord struct {
	StationID string
	Latitude  float64
	Longitude float64
	Element   string
	FirstYear int
	LastYear  int
}

// InventoryEntry is a canonical (station, element) row. Name is nil when the
// registry has no entry for the station.
type InventoryEntry struct {
	StationID string  `json:"station_id"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Element   string  `json:"element"`
	FirstYear int     `json:"first_year"`
	LastYear  int     `json:"last_year"`
	Name      *string `json:"station_name,omitempty"`
}

// Station is the per-station summary used by geospatial queries.
type Station struct {
	ID        string  `json:"station_id"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Name      *string `json:"station_name,omitempty"`
	FirstYear int     `json:"first_year"`
	LastYear  int     `json:"last_year"`
}

// HasCoverage reports whether the station has a non-degenerate coverage window.
func (s Station) HasCoverage() bool {
	return s.FirstYear <= s.LastYear
}

// DisplayName returns the station name or an empty string when unknown.
func (s Station) DisplayName() string {
	if s.Name == nil {
		return ""
	}
	return *s.Name
}

// DailyValue is one day slot of a .dly line. Present is false for the
// missing-value sentinel; Raw is then meaningless.
type DailyValue struct {
	Day             int
	Raw             int
	Present         bool
	MeasurementFlag string
	QualityFlag     string
	SourceFlag      string
}

// DailyRecord is one decoded .dly line.
type DailyRecord struct {
	StationID string
	Year      int
	Month     int
	Element   string
	Days      []DailyValue
}

// Observation is a cleaned daily temperature in degrees Celsius. Flags are
// not carried past decoding.
type Observation struct {
	StationID string
	Year      int
	Month     int
	Day       int
	Element   string
	Value     float64
}

// MonthlyAverage holds the mean TMAX and TMIN for one station-month. A nil
// pointer means the element had no observations that month.
type MonthlyAverage struct {
	StationID string   `json:"station_id"`
	Year      int      `json:"year"`
	Month     int      `json:"month"`
	TMax      *float64 `json:"tmax"`
	TMin      *float64 `json:"tmin"`
}

// YearlyAverage holds the mean of a year's monthly means.
type YearlyAverage struct {
	StationID string   `json:"station_id"`
	Year      int      `json:"year"`
	TMax      *float64 `json:"tmax"`
	TMin      *float64 `json:"tmin"`
}

// ValidStationID reports whether id looks like a GHCN station identifier:
// one to eleven ASCII letters or digits. It is used to keep ids safe as
// file names and URL path segments.
func ValidStationID(id string) bool {
	if id == "" || len(id) > 11 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
