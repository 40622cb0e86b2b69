package pipeline

import (
	"time"

	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
)

// Outcome labels a per-station result.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeCached    Outcome = "cached"
	OutcomeFailed    Outcome = "failed"
)

// StationResult is the result of processing one station's daily file.
type StationResult struct {
	StationID   string
	Outcome     Outcome
	Err         error
	Clean       domain.CleanStats
	MonthlyRows int
	YearlyRows  int
	Duration    time.Duration
}

// BatchReport aggregates the per-station results of one batch run.
// Results are in the order the station ids were given.
type BatchReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []StationResult
}

// Count returns the number of results with the given outcome.
func (r BatchReport) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Failed returns the results that carry an error.
func (r BatchReport) Failed() []StationResult {
	var out []StationResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// ReferenceReport summarises one reference ingestion run.
type ReferenceReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Registry   domain.ScanStats
	Inventory  domain.ScanStats
	Normalize  domain.NormalizeStats
	Entries    int
	Stations   int
	Generation uint64
	// Warnings holds failures of optional sinks that did not stop the run.
	Warnings []string
}
