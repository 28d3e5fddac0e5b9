package raster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/hazardgrid/h3-risk-service/internal/adapters"
	"github.com/hazardgrid/h3-risk-service/internal/core/model"
	"github.com/hazardgrid/h3-risk-service/internal/core/observability"
	h3mapper "github.com/hazardgrid/h3-risk-service/internal/mapper/h3"
)

const (
	// Tiles are 1x1 degree, mirroring the Copernicus DEM layout.
	demTileDeg = 1.0

	// Offset for the finite-difference slope stencil, roughly one arcsecond.
	slopeStepDeg = 1.0 / 3600.0

	metersPerDegLat = 111320.0

	decodedTileCap = 100
)

// Elevation fetches 1-degree DEM tiles on demand, caches the raw files under
// rawDir and keeps up to decodedTileCap decoded grids in memory. Slope is
// derived from a 5-point finite-difference stencil around the cell centroid.
type Elevation struct {
	baseURL string
	rawDir  string
	client  *http.Client
	mapr    *h3mapper.Mapper
	log     zerolog.Logger
	tiles   *lru.Cache[string, *Grid]

	// Set after an upstream 401/403; auth rejections are sticky for the
	// process lifetime and stop all further downloads.
	unhealthy atomic.Bool
}

func NewElevation(baseURL, rawDir string, client *http.Client, mapr *h3mapper.Mapper, log zerolog.Logger) (*Elevation, error) {
	tiles, err := lru.New[string, *Grid](decodedTileCap)
	if err != nil {
		return nil, fmt.Errorf("dem tile cache: %w", err)
	}
	return &Elevation{
		baseURL: baseURL,
		rawDir:  filepath.Join(rawDir, "dem"),
		client:  client,
		mapr:    mapr,
		log:     log.With().Str("adapter", "elevation").Logger(),
		tiles:   tiles,
	}, nil
}

func (a *Elevation) Name() string { return "elevation" }

// tileName returns the canonical name of the 1-degree tile containing a point,
// e.g. dem_N46_E010 for (46.5, 10.2).
func tileName(lat, lon float64) string {
	latDeg := int(math.Floor(lat / demTileDeg))
	lonDeg := int(math.Floor(lon / demTileDeg))
	ns, ew := "N", "E"
	if latDeg < 0 {
		ns, latDeg = "S", -latDeg
	}
	if lonDeg < 0 {
		ew, lonDeg = "W", -lonDeg
	}
	return fmt.Sprintf("dem_%s%02d_%s%03d", ns, latDeg, ew, lonDeg)
}

// EnsureCoverage downloads every tile touched by the bbox that is not already
// on disk. Download failures surface as an error; the caller treats coverage
// as best effort and sampling will simply skip the holes. An auth rejection
// marks the adapter unhealthy and later calls skip the upstream entirely.
func (a *Elevation) EnsureCoverage(ctx context.Context, area model.AreaRequest) error {
	if a.unhealthy.Load() {
		return fmt.Errorf("elevation coverage: %w", adapters.ErrUnauthorized)
	}
	names := map[string]struct{}{}
	for lat := math.Floor(area.BBox.MinLat); lat <= area.BBox.MaxLat; lat += demTileDeg {
		for lon := math.Floor(area.BBox.MinLon); lon <= area.BBox.MaxLon; lon += demTileDeg {
			names[tileName(lat, lon)] = struct{}{}
		}
	}
	var firstErr error
	for name := range names {
		err := a.ensureTileOnDisk(ctx, name)
		if err == nil {
			continue
		}
		if errors.Is(err, adapters.ErrUnauthorized) {
			a.unhealthy.Store(true)
			a.log.Error().Err(err).Msg("upstream rejected credentials, marking adapter unhealthy")
			return fmt.Errorf("elevation coverage: %w", err)
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("elevation coverage: %w", firstErr)
	}
	return nil
}

func (a *Elevation) tilePath(name string) string {
	return filepath.Join(a.rawDir, name+".grid.json")
}

func (a *Elevation) ensureTileOnDisk(ctx context.Context, name string) error {
	path := a.tilePath(name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return adapters.Retry(ctx, func() error {
		return a.downloadTile(ctx, name, path)
	})
}

func (a *Elevation) downloadTile(ctx context.Context, name, path string) error {
	url := a.baseURL + "/" + name + ".grid.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build dem request: %w", err)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	observability.ObserveUpstreamLatency("elevation", time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("fetch %s: status %d: %w", url, resp.StatusCode, adapters.ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read dem body: %w", err)
	}
	if _, err := DecodeGrid(raw); err != nil {
		return fmt.Errorf("tile %s: %w", name, err)
	}

	if err := os.MkdirAll(a.rawDir, 0o755); err != nil {
		return fmt.Errorf("mkdir raw dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write dem tile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit dem tile: %w", err)
	}
	a.log.Info().Str("tile", name).Int("bytes", len(raw)).Msg("dem tile downloaded")
	return nil
}

// tile returns the decoded grid for a point, consulting memory then disk.
// Missing tiles are not fetched here; EnsureCoverage owns downloads.
func (a *Elevation) tile(lat, lon float64) (*Grid, bool) {
	name := tileName(lat, lon)
	if g, ok := a.tiles.Get(name); ok {
		return g, true
	}
	g, err := LoadGrid(a.tilePath(name))
	if err != nil {
		return nil, false
	}
	a.tiles.Add(name, g)
	return g, true
}

func (a *Elevation) elevationAt(lat, lon float64) (float64, bool) {
	g, ok := a.tile(lat, lon)
	if !ok {
		return 0, false
	}
	return g.Sample(lat, lon)
}

// slopeAt estimates terrain slope in degrees via central differences. The
// four satellite samples may land in neighbor tiles near tile edges, which
// tile() handles transparently.
func (a *Elevation) slopeAt(lat, lon float64) (float64, bool) {
	east, okE := a.elevationAt(lat, lon+slopeStepDeg)
	west, okW := a.elevationAt(lat, lon-slopeStepDeg)
	north, okN := a.elevationAt(lat+slopeStepDeg, lon)
	south, okS := a.elevationAt(lat-slopeStepDeg, lon)
	if !okE || !okW || !okN || !okS {
		return 0, false
	}
	dxMeters := 2 * slopeStepDeg * metersPerDegLat * math.Cos(lat*math.Pi/180)
	dyMeters := 2 * slopeStepDeg * metersPerDegLat
	if dxMeters == 0 {
		return 0, false
	}
	dzdx := (east - west) / dxMeters
	dzdy := (north - south) / dyMeters
	return math.Atan(math.Hypot(dzdx, dzdy)) * 180 / math.Pi, true
}

func (a *Elevation) SampleFeatures(ctx context.Context, _ model.AreaRequest, cells model.Cells) (map[string]model.CellFeatures, error) {
	out := make(map[string]model.CellFeatures, len(cells))
	for _, cell := range cells {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		lat, lon, err := a.mapr.Centroid(cell)
		if err != nil {
			continue
		}
		elev, ok := a.elevationAt(lat, lon)
		if !ok {
			continue
		}
		f := model.CellFeatures{Elevation: model.Float(elev)}
		quality := 1.0
		if slope, ok := a.slopeAt(lat, lon); ok {
			f.Slope = model.Float(slope)
		} else {
			// Incomplete stencil near a coverage edge: elevation only.
			quality = 0.5
		}
		f.Quality = map[string]float64{a.Name(): quality}
		out[cell] = f
	}
	return out, nil
}
