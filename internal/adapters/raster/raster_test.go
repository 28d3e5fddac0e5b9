package raster

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hazardgrid/h3-risk-service/internal/adapters"
	"github.com/hazardgrid/h3-risk-service/internal/core/model"
	h3mapper "github.com/hazardgrid/h3-risk-service/internal/mapper/h3"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func writeGrid(t *testing.T, path string, g *Grid) {
	t.Helper()
	raw, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal grid: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write grid: %v", err)
	}
}

// cellAt resolves the H3 cell whose centroid is nearest a point.
func cellAt(t *testing.T, mapr *h3mapper.Mapper, lat, lon float64, res int) string {
	t.Helper()
	cells, err := mapr.CellsForBBox(model.BBox{MinLon: lon, MinLat: lat, MaxLon: lon, MaxLat: lat}, res)
	if err != nil || len(cells) == 0 {
		t.Fatalf("CellsForBBox(%f,%f): %v", lat, lon, err)
	}
	return cells[0]
}

func TestGridSample(t *testing.T) {
	nodata := -9999.0
	g := &Grid{
		Width: 2, Height: 2,
		OriginX: 10, OriginY: 47, // north-west corner
		PixelWidth: 0.5, PixelHeight: -0.5,
		NoData: &nodata,
		Values: []float64{1, 2, 3, nodata},
	}
	if err := g.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if v, ok := g.Sample(46.75, 10.25); !ok || v != 1 {
		t.Errorf("NW pixel: got %v,%v want 1,true", v, ok)
	}
	if v, ok := g.Sample(46.75, 10.75); !ok || v != 2 {
		t.Errorf("NE pixel: got %v,%v want 2,true", v, ok)
	}
	if v, ok := g.Sample(46.25, 10.25); !ok || v != 3 {
		t.Errorf("SW pixel: got %v,%v want 3,true", v, ok)
	}
	if _, ok := g.Sample(46.25, 10.75); ok {
		t.Error("no-data pixel should sample false")
	}
	if _, ok := g.Sample(48, 10.25); ok {
		t.Error("out-of-bounds should sample false")
	}
	if _, ok := g.Sample(46.75, 12); ok {
		t.Error("out-of-bounds should sample false")
	}
}

func TestGridValidateRejectsBadShapes(t *testing.T) {
	bad := &Grid{Width: 3, Height: 2, PixelWidth: 1, PixelHeight: -1, Values: []float64{1, 2, 3}}
	if err := bad.validate(); err == nil {
		t.Error("expected size mismatch error")
	}
	empty := &Grid{Width: 0, Height: 0, PixelWidth: 1, PixelHeight: -1}
	if err := empty.validate(); err == nil {
		t.Error("expected empty dimensions error")
	}
}

func TestClassAdapterSamplesCentroids(t *testing.T) {
	mapr := h3mapper.New()
	dir := t.TempDir()
	path := filepath.Join(dir, "clc.grid.json")

	// One giant pixel covering the Alps with code 312 (coniferous forest).
	writeGrid(t, path, &Grid{
		Width: 1, Height: 1,
		OriginX: 5, OriginY: 48,
		PixelWidth: 10, PixelHeight: -4,
		Values: []float64{312},
	})

	a := NewLandCover(path, mapr, testLogger())
	if err := a.EnsureCoverage(context.Background(), model.AreaRequest{}); err != nil {
		t.Fatalf("EnsureCoverage: %v", err)
	}

	inside := cellAt(t, mapr, 46.5, 10.5, 6)
	outside := cellAt(t, mapr, 60.0, 10.5, 6)

	got, err := a.SampleFeatures(context.Background(), model.AreaRequest{}, model.Cells{inside, outside})
	if err != nil {
		t.Fatalf("SampleFeatures: %v", err)
	}
	f, ok := got[inside]
	if !ok || f.CLCClass == nil || *f.CLCClass != 312 {
		t.Errorf("inside cell: got %+v", f)
	}
	if f.Quality["clc"] != 1 {
		t.Errorf("sample quality: got %+v", f.Quality)
	}
	if _, ok := got[outside]; ok {
		t.Error("cell outside the grid must be absent, not zero")
	}
}

func TestClassAdapterMissingFile(t *testing.T) {
	mapr := h3mapper.New()
	a := NewElsus(filepath.Join(t.TempDir(), "nope.grid.json"), mapr, testLogger())
	if err := a.EnsureCoverage(context.Background(), model.AreaRequest{}); err == nil {
		t.Fatal("expected error for missing grid file")
	}
	if _, err := a.SampleFeatures(context.Background(), model.AreaRequest{}, model.Cells{"x"}); err == nil {
		t.Fatal("expected sampling error for missing grid file")
	}
}

// planeTile builds a DEM tile around (lat,lon) rising eastward at a constant
// angle, pixel-aligned with the slope stencil step.
func planeTile(lat, lon, angleDeg float64) *Grid {
	const n = 64
	rise := slopeStepDeg * metersPerDegLat * math.Cos(lat*math.Pi/180) * math.Tan(angleDeg*math.Pi/180)
	g := &Grid{
		Width: n, Height: n,
		OriginX: lon - float64(n/2)*slopeStepDeg, OriginY: lat + float64(n/2)*slopeStepDeg,
		PixelWidth: slopeStepDeg, PixelHeight: -slopeStepDeg,
		Values: make([]float64, n*n),
	}
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			g.Values[row*n+col] = 1000 + float64(col)*rise
		}
	}
	return g
}

func TestElevationSampleAndSlope(t *testing.T) {
	mapr := h3mapper.New()
	rawDir := t.TempDir()
	lat, lon := 46.5004, 10.5004

	a, err := NewElevation("http://unused", rawDir, http.DefaultClient, mapr, testLogger())
	if err != nil {
		t.Fatalf("NewElevation: %v", err)
	}

	// The stencil reads around the cell centroid, not the requested point.
	cell := cellAt(t, mapr, lat, lon, 9)
	clat, clon, err := mapr.Centroid(cell)
	if err != nil {
		t.Fatalf("Centroid: %v", err)
	}
	writeGrid(t, a.tilePath(tileName(clat, clon)), planeTile(clat, clon, 30))

	got, err := a.SampleFeatures(context.Background(), model.AreaRequest{}, model.Cells{cell})
	if err != nil {
		t.Fatalf("SampleFeatures: %v", err)
	}
	f, ok := got[cell]
	if !ok {
		t.Fatal("expected a sample for the covered cell")
	}
	if f.Elevation == nil || *f.Elevation < 1000 {
		t.Errorf("elevation: got %v", f.Elevation)
	}
	if f.Slope == nil {
		t.Fatal("expected derived slope")
	}
	if math.Abs(*f.Slope-30) > 3 {
		t.Errorf("slope: got %.2f, want ~30", *f.Slope)
	}
	if f.Quality["elevation"] != 1 {
		t.Errorf("full stencil must report quality 1: %+v", f.Quality)
	}
}

func TestElevationEnsureCoverageDownloadsOnce(t *testing.T) {
	mapr := h3mapper.New()
	rawDir := t.TempDir()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(planeTile(46.5, 10.5, 10))
	}))
	defer srv.Close()

	a, err := NewElevation(srv.URL, rawDir, srv.Client(), mapr, testLogger())
	if err != nil {
		t.Fatalf("NewElevation: %v", err)
	}
	area := model.AreaRequest{BBox: model.BBox{MinLon: 10.4, MinLat: 46.4, MaxLon: 10.6, MaxLat: 46.6}, Resolution: 6}

	if err := a.EnsureCoverage(context.Background(), area); err != nil {
		t.Fatalf("EnsureCoverage: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected 1 download, got %d", got)
	}
	if _, err := os.Stat(a.tilePath(tileName(46.5, 10.5))); err != nil {
		t.Fatalf("tile not cached on disk: %v", err)
	}

	// Second call finds the file and skips the network.
	if err := a.EnsureCoverage(context.Background(), area); err != nil {
		t.Fatalf("EnsureCoverage (cached): %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected no further downloads, got %d", got)
	}
}

func TestElevationUnauthorizedStopsRetrying(t *testing.T) {
	mapr := h3mapper.New()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a, err := NewElevation(srv.URL, t.TempDir(), srv.Client(), mapr, testLogger())
	if err != nil {
		t.Fatalf("NewElevation: %v", err)
	}
	area := model.AreaRequest{BBox: model.BBox{MinLon: 10.4, MinLat: 46.4, MaxLon: 10.6, MaxLat: 46.6}, Resolution: 6}

	err = a.EnsureCoverage(context.Background(), area)
	if !errors.Is(err, adapters.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("auth failures must not retry: %d attempts", got)
	}

	// The rejection is sticky: later coverage calls skip the upstream.
	err = a.EnsureCoverage(context.Background(), area)
	if !errors.Is(err, adapters.ErrUnauthorized) {
		t.Fatalf("expected sticky ErrUnauthorized, got %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("unhealthy adapter re-contacted upstream: %d requests", got)
	}
}
