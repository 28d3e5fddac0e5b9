// Package raster holds the real dataset adapters that sample gridded
// products (Copernicus DEM, ELSUS v2, Corine land cover, ESHM20 PGA). Grids
// are consumed in a pre-flattened JSON form produced by the ingestion
// tooling; decoding the original GeoTIFFs is out of scope here.
package raster

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Grid is a single-band raster with an affine north-up geo-transform.
// PixelHeight is negative for north-up grids (row 0 is the northern edge).
type Grid struct {
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	OriginX     float64   `json:"originX"`
	OriginY     float64   `json:"originY"`
	PixelWidth  float64   `json:"pixelWidth"`
	PixelHeight float64   `json:"pixelHeight"`
	NoData      *float64  `json:"noData,omitempty"`
	Values      []float64 `json:"values"`
}

func (g *Grid) validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("grid has empty dimensions %dx%d", g.Width, g.Height)
	}
	if g.PixelWidth == 0 || g.PixelHeight == 0 {
		return fmt.Errorf("grid has zero pixel size")
	}
	if len(g.Values) != g.Width*g.Height {
		return fmt.Errorf("grid has %d values, want %d", len(g.Values), g.Width*g.Height)
	}
	return nil
}

// Sample reads the value at a geographic point using nearest-pixel lookup.
// Returns false outside the grid or on the no-data value.
func (g *Grid) Sample(lat, lon float64) (float64, bool) {
	col := int(math.Floor((lon - g.OriginX) / g.PixelWidth))
	row := int(math.Floor((lat - g.OriginY) / g.PixelHeight))
	if col < 0 || col >= g.Width || row < 0 || row >= g.Height {
		return 0, false
	}
	v := g.Values[row*g.Width+col]
	if g.NoData != nil && v == *g.NoData {
		return 0, false
	}
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// LoadGrid reads and validates a flattened JSON grid from disk.
func LoadGrid(path string) (*Grid, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read grid %s: %w", path, err)
	}
	var g Grid
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode grid %s: %w", path, err)
	}
	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("grid %s: %w", path, err)
	}
	return &g, nil
}

// DecodeGrid parses a grid from raw bytes (used for freshly downloaded tiles).
func DecodeGrid(raw []byte) (*Grid, error) {
	var g Grid
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode grid: %w", err)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return &g, nil
}
