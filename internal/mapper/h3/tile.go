package h3mapper

import (
	"fmt"
	"math"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
)

// TileToBBox converts XYZ Web Mercator tile coordinates to a WGS84 bbox.
func TileToBBox(x, y, z int) (model.BBox, error) {
	if z < 0 || z > 22 {
		return model.BBox{}, fmt.Errorf("invalid zoom %d", z)
	}
	n := float64(int64(1) << uint(z))
	if x < 0 || float64(x) >= n || y < 0 || float64(y) >= n {
		return model.BBox{}, fmt.Errorf("tile %d/%d out of range at zoom %d", x, y, z)
	}
	return model.BBox{
		MinLon: tileLon(x, n),
		MaxLon: tileLon(x+1, n),
		MinLat: tileLat(y+1, n),
		MaxLat: tileLat(y, n),
	}, nil
}

func tileLon(x int, n float64) float64 {
	return float64(x)/n*360 - 180
}

func tileLat(y int, n float64) float64 {
	return math.Atan(math.Sinh(math.Pi-2*math.Pi*float64(y)/n)) * 180 / math.Pi
}

// ZoomToResolution maps a Web Mercator zoom level to the H3 resolution used
// for tile responses.
func ZoomToResolution(z int) int {
	switch {
	case z < 5:
		return 2
	case z < 7:
		return 3
	case z < 9:
		return 4
	case z < 11:
		return 5
	default:
		return 6
	}
}
