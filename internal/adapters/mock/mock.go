// Package mock provides deterministic pseudo-random dataset adapters. They
// exist to stand up the orchestration pipeline without upstream credentials;
// the region heuristics below are test fixtures, not hazard models, and must
// never leak into the real adapter path.
package mock

import (
	"context"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
	h3mapper "github.com/hazardgrid/h3-risk-service/internal/mapper/h3"
)

// noise returns a deterministic value in [0,1) derived from the cell id and
// a per-layer salt.
func noise(cell, salt string) float64 {
	h := xxhash.Sum64String(salt + ":" + cell)
	return float64(h%100000) / 100000
}

func inAlps(lat, lon float64) bool {
	return lat >= 44.0 && lat <= 47.8 && lon >= 5.5 && lon <= 16.0
}

func inMediterraneanSeismicBelt(lat, lon float64) bool {
	// Italy and Greece carry the highest PGA in Europe.
	return lat >= 35.0 && lat <= 46.5 && lon >= 6.5 && lon <= 28.5
}

type base struct {
	name string
	mapr *h3mapper.Mapper
}

func (b base) Name() string { return b.name }

func (b base) EnsureCoverage(_ context.Context, _ model.AreaRequest) error {
	// Mock data is always "covered".
	return nil
}

func (b base) sample(cells model.Cells, fill func(cell string, lat, lon float64) (model.CellFeatures, bool)) map[string]model.CellFeatures {
	out := make(map[string]model.CellFeatures, len(cells))
	for _, cell := range cells {
		lat, lon, err := b.mapr.Centroid(cell)
		if err != nil {
			continue // malformed id: no data from this source
		}
		if f, ok := fill(cell, lat, lon); ok {
			out[cell] = f
		}
	}
	return out
}

// Elevation yields terrain height and a derived slope. Alpine cells skew
// high and steep.
type Elevation struct{ base }

func NewElevation(mapr *h3mapper.Mapper) *Elevation {
	return &Elevation{base{name: "mock-elevation", mapr: mapr}}
}

func (a *Elevation) SampleFeatures(_ context.Context, _ model.AreaRequest, cells model.Cells) (map[string]model.CellFeatures, error) {
	return a.sample(cells, func(cell string, lat, lon float64) (model.CellFeatures, bool) {
		n := noise(cell, "elev")
		elev := 50 + n*600
		slope := n * 12
		if inAlps(lat, lon) {
			elev = 600 + n*2800
			slope = 8 + n*38
		}
		return model.CellFeatures{
			Elevation: model.Float(math.Round(elev*10) / 10),
			Slope:     model.Float(math.Round(slope*10) / 10),
		}, true
	}), nil
}

// Elsus yields landslide-susceptibility classes 1..5 correlated with the
// mock slope.
type Elsus struct{ base }

func NewElsus(mapr *h3mapper.Mapper) *Elsus {
	return &Elsus{base{name: "mock-elsus", mapr: mapr}}
}

func (a *Elsus) SampleFeatures(_ context.Context, _ model.AreaRequest, cells model.Cells) (map[string]model.CellFeatures, error) {
	return a.sample(cells, func(cell string, lat, lon float64) (model.CellFeatures, bool) {
		n := noise(cell, "elev") // reuse the elevation noise so class tracks slope
		class := 1 + int(n*3)
		if inAlps(lat, lon) {
			class = 3 + int(n*3)
		}
		if class > 5 {
			class = 5
		}
		return model.CellFeatures{ElsusClass: model.Int(class)}, true
	}), nil
}

// SeismicPGA yields 475-year peak ground acceleration.
type SeismicPGA struct{ base }

func NewSeismicPGA(mapr *h3mapper.Mapper) *SeismicPGA {
	return &SeismicPGA{base{name: "mock-pga", mapr: mapr}}
}

func (a *SeismicPGA) SampleFeatures(_ context.Context, _ model.AreaRequest, cells model.Cells) (map[string]model.CellFeatures, error) {
	return a.sample(cells, func(cell string, lat, lon float64) (model.CellFeatures, bool) {
		n := noise(cell, "pga")
		pga := 0.02 + n*0.08
		if inMediterraneanSeismicBelt(lat, lon) {
			pga = 0.10 + n*0.35
		}
		return model.CellFeatures{HazardPGA: model.Float(math.Round(pga*1000) / 1000)}, true
	}), nil
}

// LandCover yields Corine land-cover codes from a small representative set.
type LandCover struct{ base }

func NewLandCover(mapr *h3mapper.Mapper) *LandCover {
	return &LandCover{base{name: "mock-landcover", mapr: mapr}}
}

var clcPalette = []int{112, 211, 231, 312, 313, 321, 324, 411, 512, 131}

func (a *LandCover) SampleFeatures(_ context.Context, _ model.AreaRequest, cells model.Cells) (map[string]model.CellFeatures, error) {
	return a.sample(cells, func(cell string, lat, lon float64) (model.CellFeatures, bool) {
		n := noise(cell, "clc")
		idx := int(n * float64(len(clcPalette)))
		if idx >= len(clcPalette) {
			idx = len(clcPalette) - 1
		}
		return model.CellFeatures{CLCClass: model.Int(clcPalette[idx])}, true
	}), nil
}

// Precipitation yields 24h/72h accumulations with occasional heavy events.
type Precipitation struct{ base }

func NewPrecipitation(mapr *h3mapper.Mapper) *Precipitation {
	return &Precipitation{base{name: "mock-precip", mapr: mapr}}
}

func (a *Precipitation) SampleFeatures(_ context.Context, _ model.AreaRequest, cells model.Cells) (map[string]model.CellFeatures, error) {
	return a.sample(cells, func(cell string, lat, lon float64) (model.CellFeatures, bool) {
		n := noise(cell, "rain")
		rain24 := n * 30
		if n > 0.92 {
			rain24 = 60 + (n-0.92)*800 // rare convective burst
		}
		rain72 := rain24 * (1.5 + noise(cell, "rain72"))
		return model.CellFeatures{
			Rain24h: model.Float(math.Round(rain24*10) / 10),
			Rain72h: model.Float(math.Round(rain72*10) / 10),
		}, true
	}), nil
}
