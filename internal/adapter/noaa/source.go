package noaa

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/ghcn-station-etl/internal/adapter/filestore"
	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
)

// Source serves raw files from a local directory and downloads any file that
// is not there yet. A file already present locally is never fetched again.
type Source struct {
	local  filestore.Source
	client *Client
}

// NewSource wraps a local source with on-demand downloads.
func NewSource(local filestore.Source, client *Client) *Source {
	return &Source{local: local, client: client}
}

// OpenRegistry opens ghcnd-stations.txt, downloading it if missing.
func (s *Source) OpenRegistry(ctx context.Context) (io.ReadCloser, error) {
	if err := s.ensure(ctx, "stations", "ghcnd-stations.txt", s.local.StationsFile); err != nil {
		return nil, err
	}
	return s.local.OpenRegistry(ctx)
}

// OpenInventory opens ghcnd-inventory.txt, downloading it if missing.
func (s *Source) OpenInventory(ctx context.Context) (io.ReadCloser, error) {
	if err := s.ensure(ctx, "inventory", "ghcnd-inventory.txt", s.local.InventoryFile); err != nil {
		return nil, err
	}
	return s.local.OpenInventory(ctx)
}

// OpenDaily opens all/<id>.dly, downloading it if missing.
func (s *Source) OpenDaily(ctx context.Context, id string) (io.ReadCloser, error) {
	if !domain.ValidStationID(id) {
		return nil, fmt.Errorf("invalid station id %q", id)
	}
	if err := s.ensure(ctx, "daily", "all/"+id+".dly", s.local.DailyPath(id)); err != nil {
		return nil, err
	}
	return s.local.OpenDaily(ctx, id)
}

// ListDailyIDs lists the daily files already present locally. The archive
// itself is not enumerated.
func (s *Source) ListDailyIDs(ctx context.Context) ([]string, error) {
	return s.local.ListDailyIDs(ctx)
}

func (s *Source) ensure(ctx context.Context, kind, remotePath, dest string) error {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		s.client.metrics.FetchRequests.WithLabelValues(kind, "cached").Inc()
		return nil
	}
	return s.client.Download(ctx, kind, remotePath, dest)
}
