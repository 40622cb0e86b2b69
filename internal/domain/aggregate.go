package domain

import "sort"

// AggregateStations collapses the canonical inventory into one Station per id.
//
// Position comes from the first row of each group and the name from the first
// row that has one. The coverage window is the later of the per-element first
// years and the earlier of the per-element last years. Element count is not
// checked, so a group with a single element yields that element's window and
// a non-overlapping pair yields a degenerate window (see Station.HasCoverage).
//
// The result is sorted by station id.
func AggregateStations(entries []InventoryEntry) []Station {
	index := make(map[string]int)
	stations := make([]Station, 0)

	for _, e := range entries {
		i, ok := index[e.StationID]
		if !ok {
			index[e.StationID] = len(stations)
			stations = append(stations, Station{
				ID:        e.StationID,
				Latitude:  e.Latitude,
				Longitude: e.Longitude,
				Name:      e.Name,
				FirstYear: e.FirstYear,
				LastYear:  e.LastYear,
			})
			continue
		}

		s := &stations[i]
		if s.Name == nil && e.Name != nil {
			s.Name = e.Name
		}
		if e.FirstYear > s.FirstYear {
			s.FirstYear = e.FirstYear
		}
		if e.LastYear < s.LastYear {
			s.LastYear = e.LastYear
		}
	}

	sort.SliceStable(stations, func(a, b int) bool {
		return stations[a].ID < stations[b].ID
	})
	return stations
}
