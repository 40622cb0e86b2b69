package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// InventoryFormat selects how inventory lines are split into fields.
type InventoryFormat string

const (
	// InventoryFormatWhitespace splits on runs of whitespace and reads the first six fields.
	InventoryFormatWhitespace InventoryFormat = "whitespace"
	// InventoryFormatFixed decodes with InventoryLayout.
	InventoryFormatFixed InventoryFormat = "fixed"
)

// ParseInventoryFormat validates a format name.
func ParseInventoryFormat(s string) (InventoryFormat, error) {
	switch f := InventoryFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case InventoryFormatWhitespace, InventoryFormatFixed:
		return f, nil
	default:
		return "", fmt.Errorf("unknown inventory format %q", s)
	}
}

// InventoryLayout decodes the fixed-width variant of ghcnd-inventory.txt.
var InventoryLayout = Layout{
	MinWidth: 45,
	Columns: []Column{
		{Name: "id", Start: 0, End: 11, Kind: KindString},
		{Name: "lat", Start: 12, End: 20, Kind: KindFloat},
		{Name: "lon", Start: 21, End: 30, Kind: KindFloat},
		{Name: "element", Start: 31, End: 35, Kind: KindString},
		{Name: "first", Start: 36, End: 40, Kind: KindInt},
		{Name: "last", Start: 41, End: 45, Kind: KindInt},
	},
}

// ParseInventoryLine decodes one inventory line in the given format.
func ParseInventoryLine(line string, format InventoryFormat) (RawInventoryRecord, error) {
	if format == InventoryFormatFixed {
		return parseFixedInventory(line)
	}
	return parseWhitespaceInventory(line)
}

func parseFixedInventory(line string) (RawInventoryRecord, error) {
	rec, err := InventoryLayout.Decode(line)
	if err != nil {
		return RawInventoryRecord{}, err
	}
	id, okID := rec.String("id")
	lat, okLat := rec.Float("lat")
	lon, okLon := rec.Float("lon")
	element, okEl := rec.String("element")
	first, okFirst := rec.Int("first")
	last, okLast := rec.Int("last")
	if !okID || !okLat || !okLon || !okEl || !okFirst || !okLast {
		return RawInventoryRecord{}, fmt.Errorf("%w: inventory columns", ErrMalformedLine)
	}
	return RawInventoryRecord{
		StationID: id,
		Latitude:  lat,
		Longitude: lon,
		Element:   element,
		FirstYear: first,
		LastYear:  last,
	}, nil
}

func parseWhitespaceInventory(line string) (RawInventoryRecord, error) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return RawInventoryRecord{}, fmt.Errorf("%w: %d fields", ErrLineTooShort, len(fields))
	}
	lat, errLat := strconv.ParseFloat(fields[1], 64)
	lon, errLon := strconv.ParseFloat(fields[2], 64)
	first, errFirst := strconv.Atoi(fields[4])
	last, errLast := strconv.Atoi(fields[5])
	if errLat != nil || errLon != nil || errFirst != nil || errLast != nil {
		return RawInventoryRecord{}, fmt.Errorf("%w: inventory numeric fields", ErrMalformedLine)
	}
	return RawInventoryRecord{
		StationID: fields[0],
		Latitude:  lat,
		Longitude: lon,
		Element:   fields[3],
		FirstYear: first,
		LastYear:  last,
	}, nil
}

// DedupPolicy decides which of several rows sharing a (station, element) key survives.
type DedupPolicy string

const (
	// DedupKeepFirst keeps the first row in input order and discards later ones,
	// even when they carry different year ranges.
	DedupKeepFirst DedupPolicy = "first"
	// DedupKeepLast keeps the last row in input order.
	DedupKeepLast DedupPolicy = "last"
)

// ParseDedupPolicy validates a policy name.
func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch p := DedupPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DedupKeepFirst, DedupKeepLast:
		return p, nil
	default:
		return "", fmt.Errorf("unknown dedup policy %q", s)
	}
}

// NameResolver looks up a station's display name. A nil result means unknown.
type NameResolver interface {
	Name(id string) *string
}

// NormalizeStats counts what the normalizer did with its input.
type NormalizeStats struct {
	Seen           int
	NonTemperature int
	Duplicates     int
	Unnamed        int
}

type inventoryKey struct {
	station string
	element string
}

// InventoryNormalizer filters inventory rows to TMAX/TMIN, left-joins station
// names and deduplicates on (station, element). It accepts rows one at a time
// so the raw inventory never has to be held in memory.
type InventoryNormalizer struct {
	names   NameResolver
	policy  DedupPolicy
	index   map[inventoryKey]int
	entries []InventoryEntry
	removed []bool
	stats   NormalizeStats
}

// NewInventoryNormalizer creates a normalizer. A nil resolver leaves every name absent.
func NewInventoryNormalizer(names NameResolver, policy DedupPolicy) *InventoryNormalizer {
	if policy == "" {
		policy = DedupKeepFirst
	}
	return &InventoryNormalizer{
		names:  names,
		policy: policy,
		index:  make(map[inventoryKey]int),
	}
}

// Add processes one raw row and reports whether it is currently retained.
func (n *InventoryNormalizer) Add(rec RawInventoryRecord) bool {
	n.stats.Seen++
	if !IsTemperatureElement(rec.Element) {
		n.stats.NonTemperature++
		return false
	}

	key := inventoryKey{station: rec.StationID, element: rec.Element}
	prev, dup := n.index[key]
	if dup {
		n.stats.Duplicates++
		if n.policy == DedupKeepFirst {
			return false
		}
		n.removed[prev] = true
	}

	entry := InventoryEntry{
		StationID: rec.StationID,
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		Element:   rec.Element,
		FirstYear: rec.FirstYear,
		LastYear:  rec.LastYear,
	}
	if n.names != nil {
		entry.Name = n.names.Name(rec.StationID)
	}
	if entry.Name == nil && !dup {
		n.stats.Unnamed++
	}

	n.index[key] = len(n.entries)
	n.entries = append(n.entries, entry)
	n.removed = append(n.removed, false)
	return true
}

// Entries returns the canonical inventory in input order.
func (n *InventoryNormalizer) Entries() []InventoryEntry {
	out := make([]InventoryEntry, 0, len(n.index))
	for i, e := range n.entries {
		if !n.removed[i] {
			out = append(out, e)
		}
	}
	return out
}

// Stats returns the running counters.
func (n *InventoryNormalizer) Stats() NormalizeStats {
	return n.stats
}

// NormalizeInventory runs records through a fresh InventoryNormalizer.
func NormalizeInventory(records []RawInventoryRecord, names NameResolver, policy DedupPolicy) []InventoryEntry {
	n := NewInventoryNormalizer(names, policy)
	for _, rec := range records {
		n.Add(rec)
	}
	return n.Entries()
}
