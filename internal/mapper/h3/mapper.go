// Package h3mapper maps geographic footprints to H3 cells and back.
package h3mapper

import (
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellsForBBox enumerates the H3 cells covering a bounding box at the given
// resolution. Coverage is polyfill (centroid inside the box) widened by one
// neighbor ring so cells straddling the edge are not dropped; the edge-tie
// policy is centroid-in-inclusive-bbox. Output is sorted and duplicate-free.
func (m *Mapper) CellsForBBox(bb model.BBox, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if err := bb.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bbox: %w", err)
	}

	// Build a rectangular loop (lon,lat in EPSG:4326). v4 wants degrees.
	outer := h3.GeoLoop{
		{Lat: bb.MinLat, Lng: bb.MinLon},
		{Lat: bb.MinLat, Lng: bb.MaxLon},
		{Lat: bb.MaxLat, Lng: bb.MaxLon},
		{Lat: bb.MaxLat, Lng: bb.MinLon},
	}
	poly := h3.GeoPolygon{GeoLoop: outer}

	indexes, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	seen := make(map[h3.Cell]struct{}, len(indexes))
	for _, idx := range indexes {
		seen[idx] = struct{}{}
	}

	// Degenerate or very small boxes polyfill to nothing; anchor on the
	// center point so a request always resolves to at least one cell.
	if len(seen) == 0 {
		center, err := h3.LatLngToCell(h3.LatLng{
			Lat: (bb.MinLat + bb.MaxLat) / 2,
			Lng: (bb.MinLon + bb.MaxLon) / 2,
		}, res)
		if err != nil {
			return nil, fmt.Errorf("h3 center cell: %w", err)
		}
		seen[center] = struct{}{}
	}

	// Widen by one ring, keeping neighbors whose centroid falls inside the
	// inclusive bbox.
	candidates := make([]h3.Cell, 0, len(seen))
	for c := range seen {
		candidates = append(candidates, c)
	}
	for _, c := range candidates {
		disk, err := c.GridDisk(1)
		if err != nil {
			continue
		}
		for _, n := range disk {
			if _, ok := seen[n]; ok {
				continue
			}
			ll, err := n.LatLng()
			if err != nil {
				continue
			}
			if ll.Lat >= bb.MinLat && ll.Lat <= bb.MaxLat &&
				ll.Lng >= bb.MinLon && ll.Lng <= bb.MaxLon {
				seen[n] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out, nil
}

// Centroid returns the lat/lon of a cell's center.
func (m *Mapper) Centroid(cell string) (lat, lon float64, err error) {
	c, err := parseCell(cell)
	if err != nil {
		return 0, 0, err
	}
	ll, err := c.LatLng()
	if err != nil {
		return 0, 0, fmt.Errorf("h3 centroid: %w", err)
	}
	return ll.Lat, ll.Lng, nil
}

// Resolution recovers the resolution encoded in a cell id.
func (m *Mapper) Resolution(cell string) (int, error) {
	c, err := parseCell(cell)
	if err != nil {
		return 0, err
	}
	return c.Resolution(), nil
}

// Boundary returns the cell polygon vertices as (lat, lon) pairs.
func (m *Mapper) Boundary(cell string) ([][2]float64, error) {
	c, err := parseCell(cell)
	if err != nil {
		return nil, err
	}
	b, err := c.Boundary()
	if err != nil {
		return nil, fmt.Errorf("h3 boundary: %w", err)
	}
	out := make([][2]float64, 0, len(b))
	for _, ll := range b {
		out = append(out, [2]float64{ll.Lat, ll.Lng})
	}
	return out, nil
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func parseCell(cell string) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return 0, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("invalid h3 cell %q", cell)
	}
	return c, nil
}
