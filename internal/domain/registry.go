package domain

import (
	"errors"
	"fmt"
	"io"
)

// ErrMalformedLine marks a line whose required columns are missing or not numeric.
var ErrMalformedLine = errors.New("malformed line")

// RegistryLayout decodes ghcnd-stations.txt. A line must reach the end of the
// longitude column; the name and trailing columns are optional.
var RegistryLayout = Layout{
	MinWidth: 30,
	Columns: []Column{
		{Name: "id", Start: 0, End: 11, Kind: KindString},
		{Name: "lat", Start: 12, End: 20, Kind: KindFloat},
		{Name: "lon", Start: 21, End: 30, Kind: KindFloat},
		{Name: "elev", Start: 31, End: 37, Kind: KindFloat},
		{Name: "state", Start: 38, End: 40, Kind: KindString},
		{Name: "name", Start: 41, End: 71, Kind: KindString},
	},
}

// ParseRegistryLine decodes one station registry line.
func ParseRegistryLine(line string) (RegistryEntry, error) {
	rec, err := RegistryLayout.Decode(line)
	if err != nil {
		return RegistryEntry{}, err
	}

	id, okID := rec.String("id")
	lat, okLat := rec.Float("lat")
	lon, okLon := rec.Float("lon")
	if !okID || !okLat || !okLon {
		return RegistryEntry{}, fmt.Errorf("%w: registry id/lat/lon", ErrMalformedLine)
	}

	entry := RegistryEntry{ID: id, Latitude: lat, Longitude: lon}
	if elev, ok := rec.Float("elev"); ok {
		entry.Elevation = &elev
	}
	entry.State, _ = rec.String("state")
	entry.Name, _ = rec.String("name")
	return entry, nil
}

// Registry indexes station registry entries by id. The first entry for an id wins.
type Registry struct {
	entries map[string]RegistryEntry
}

// NewRegistry builds a registry from already-decoded entries.
func NewRegistry(entries []RegistryEntry) *Registry {
	r := &Registry{entries: make(map[string]RegistryEntry, len(entries))}
	for _, e := range entries {
		if _, exists := r.entries[e.ID]; !exists {
			r.entries[e.ID] = e
		}
	}
	return r
}

// ReadRegistry streams a registry file, skipping malformed lines.
func ReadRegistry(src io.Reader) (*Registry, ScanStats, error) {
	r := &Registry{entries: make(map[string]RegistryEntry)}
	stats, err := ScanLines(src, func(_ int, line string) error {
		entry, err := ParseRegistryLine(line)
		if err != nil {
			return err
		}
		if _, exists := r.entries[entry.ID]; !exists {
			r.entries[entry.ID] = entry
		}
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return r, stats, nil
}

// Lookup returns the registry entry for id.
func (r *Registry) Lookup(id string) (RegistryEntry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Name returns the display name for id, or nil when the registry has no
// entry or the entry has an empty name.
func (r *Registry) Name(id string) *string {
	if r == nil {
		return nil
	}
	e, ok := r.entries[id]
	if !ok || e.Name == "" {
		return nil
	}
	name := e.Name
	return &name
}

// Len returns the number of distinct stations.
func (r *Registry) Len() int {
	return len(r.entries)
}
