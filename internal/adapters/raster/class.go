package raster

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
	h3mapper "github.com/hazardgrid/h3-risk-service/internal/mapper/h3"
)

// GridAdapter samples one pre-loaded national/continental grid at cell
// centroids. The grid file is loaded lazily on first use and kept for the
// process lifetime (ELSUS, CLC and the seismic hazard grid each fit in
// memory whole).
type GridAdapter struct {
	name   string
	path   string
	assign func(f *model.CellFeatures, v float64)
	mapr   *h3mapper.Mapper
	log    zerolog.Logger

	once    sync.Once
	grid    *Grid
	loadErr error
}

func NewGridAdapter(name, path string, mapr *h3mapper.Mapper, log zerolog.Logger, assign func(f *model.CellFeatures, v float64)) *GridAdapter {
	return &GridAdapter{name: name, path: path, assign: assign, mapr: mapr, log: log.With().Str("adapter", name).Logger()}
}

// NewElsus samples ELSUS v2 landslide susceptibility classes (1..5).
func NewElsus(path string, mapr *h3mapper.Mapper, log zerolog.Logger) *GridAdapter {
	return NewGridAdapter("elsus", path, mapr, log, func(f *model.CellFeatures, v float64) {
		f.ElsusClass = model.Int(int(v))
	})
}

// NewLandCover samples Corine 2018 land-cover codes.
func NewLandCover(path string, mapr *h3mapper.Mapper, log zerolog.Logger) *GridAdapter {
	return NewGridAdapter("clc", path, mapr, log, func(f *model.CellFeatures, v float64) {
		f.CLCClass = model.Int(int(v))
	})
}

// NewSeismicPGA samples the 475-year return period PGA grid.
func NewSeismicPGA(path string, mapr *h3mapper.Mapper, log zerolog.Logger) *GridAdapter {
	return NewGridAdapter("pga", path, mapr, log, func(f *model.CellFeatures, v float64) {
		f.HazardPGA = model.Float(v)
	})
}

func (a *GridAdapter) Name() string { return a.name }

func (a *GridAdapter) load() error {
	a.once.Do(func() {
		a.grid, a.loadErr = LoadGrid(a.path)
		if a.loadErr == nil {
			a.log.Info().Str("path", a.path).
				Int("width", a.grid.Width).Int("height", a.grid.Height).
				Msg("grid loaded")
		}
	})
	return a.loadErr
}

// EnsureCoverage verifies the grid file is present and decodable. The grids
// are static continental products, so there is nothing area-specific to do.
func (a *GridAdapter) EnsureCoverage(_ context.Context, _ model.AreaRequest) error {
	if err := a.load(); err != nil {
		return fmt.Errorf("%s coverage: %w", a.name, err)
	}
	return nil
}

func (a *GridAdapter) SampleFeatures(ctx context.Context, _ model.AreaRequest, cells model.Cells) (map[string]model.CellFeatures, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	out := make(map[string]model.CellFeatures, len(cells))
	for _, cell := range cells {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		lat, lon, err := a.mapr.Centroid(cell)
		if err != nil {
			continue
		}
		v, ok := a.grid.Sample(lat, lon)
		if !ok {
			continue // outside coverage or no-data: simply absent
		}
		var f model.CellFeatures
		a.assign(&f, v)
		f.Quality = map[string]float64{a.name: 1}
		out[cell] = f
	}
	return out, nil
}
