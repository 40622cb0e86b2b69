package domain

import "sort"

type monthKey struct {
	year  int
	month int
}

// MonthlyAverages groups a station's cleaned observations by (year, month,
// element), averages each group, rounds with Round2 and pivots TMAX/TMIN into
// columns. Rows are ordered by year then month. An element with no
// observations in a month is left nil.
func MonthlyAverages(stationID string, obs []Observation) []MonthlyAverage {
	tmax := make(map[monthKey][]float64)
	tmin := make(map[monthKey][]float64)
	keys := make(map[monthKey]struct{})

	for _, o := range obs {
		k := monthKey{year: o.Year, month: o.Month}
		switch o.Element {
		case ElementTMAX:
			tmax[k] = append(tmax[k], o.Value)
		case ElementTMIN:
			tmin[k] = append(tmin[k], o.Value)
		default:
			continue
		}
		keys[k] = struct{}{}
	}

	ordered := make([]monthKey, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(a, b int) bool {
		if ordered[a].year != ordered[b].year {
			return ordered[a].year < ordered[b].year
		}
		return ordered[a].month < ordered[b].month
	})

	out := make([]MonthlyAverage, 0, len(ordered))
	for _, k := range ordered {
		out = append(out, MonthlyAverage{
			StationID: stationID,
			Year:      k.year,
			Month:     k.month,
			TMax:      roundedMean(tmax[k]),
			TMin:      roundedMean(tmin[k]),
		})
	}
	return out
}

// YearlyAverages averages the monthly means of each year, ignoring months
// where the element is absent. The result is not re-derived from daily values.
// Rows are ordered by year; the station id is taken from the first month of
// each year.
func YearlyAverages(monthly []MonthlyAverage) []YearlyAverage {
	type acc struct {
		stationID string
		tmax      []float64
		tmin      []float64
	}
	years := make(map[int]*acc)
	order := make([]int, 0)

	for _, m := range monthly {
		a, ok := years[m.Year]
		if !ok {
			a = &acc{stationID: m.StationID}
			years[m.Year] = a
			order = append(order, m.Year)
		}
		if m.TMax != nil {
			a.tmax = append(a.tmax, *m.TMax)
		}
		if m.TMin != nil {
			a.tmin = append(a.tmin, *m.TMin)
		}
	}
	sort.Ints(order)

	out := make([]YearlyAverage, 0, len(order))
	for _, y := range order {
		a := years[y]
		out = append(out, YearlyAverage{
			StationID: a.stationID,
			Year:      y,
			TMax:      roundedMean(a.tmax),
			TMin:      roundedMean(a.tmin),
		})
	}
	return out
}

func roundedMean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := Round2(mean(values))
	return &v
}
