package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
)

// Source opens the raw GHCN files from the local file system.
type Source struct {
	StationsFile  string
	InventoryFile string
	DailyDir      string
}

// OpenRegistry opens the station registry file.
func (s Source) OpenRegistry(_ context.Context) (io.ReadCloser, error) {
	return openRaw(s.StationsFile)
}

// OpenInventory opens the inventory file.
func (s Source) OpenInventory(_ context.Context) (io.ReadCloser, error) {
	return openRaw(s.InventoryFile)
}

// OpenDaily opens the .dly file of one station.
func (s Source) OpenDaily(_ context.Context, id string) (io.ReadCloser, error) {
	if !domain.ValidStationID(id) {
		return nil, fmt.Errorf("invalid station id %q", id)
	}
	return openRaw(s.DailyPath(id))
}

// DailyPath is the expected location of a station's .dly file.
func (s Source) DailyPath(id string) string {
	return filepath.Join(s.DailyDir, id+".dly")
}

// ListDailyIDs returns the ids of every .dly file in DailyDir, sorted.
func (s Source) ListDailyIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.DailyDir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.DailyDir, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".dly") {
			continue
		}
		id := strings.TrimSuffix(name, ".dly")
		if domain.ValidStationID(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func openRaw(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
