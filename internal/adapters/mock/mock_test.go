package mock

import (
	"context"
	"reflect"
	"testing"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
	h3mapper "github.com/hazardgrid/h3-risk-service/internal/mapper/h3"
)

func cellsFor(t *testing.T, bb model.BBox) model.Cells {
	t.Helper()
	mapr := h3mapper.New()
	cells, err := mapr.CellsForBBox(bb, 5)
	if err != nil {
		t.Fatalf("CellsForBBox: %v", err)
	}
	if len(cells) == 0 {
		t.Fatal("expected cells")
	}
	return cells
}

func TestMockDeterministic(t *testing.T) {
	mapr := h3mapper.New()
	area := model.AreaRequest{BBox: model.BBox{MinLon: 10, MinLat: 46, MaxLon: 10.5, MaxLat: 46.4}, Resolution: 5}
	cells := cellsFor(t, area.BBox)

	for _, a := range []interface {
		Name() string
		SampleFeatures(context.Context, model.AreaRequest, model.Cells) (map[string]model.CellFeatures, error)
	}{
		NewElevation(mapr), NewElsus(mapr), NewSeismicPGA(mapr), NewLandCover(mapr), NewPrecipitation(mapr),
	} {
		first, err := a.SampleFeatures(context.Background(), area, cells)
		if err != nil {
			t.Fatalf("%s: %v", a.Name(), err)
		}
		second, err := a.SampleFeatures(context.Background(), area, cells)
		if err != nil {
			t.Fatalf("%s: %v", a.Name(), err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%s: repeated sampling diverged", a.Name())
		}
		if len(first) != len(cells) {
			t.Errorf("%s: got %d samples for %d cells", a.Name(), len(first), len(cells))
		}
	}
}

func TestMockAlpsSteeperThanPlains(t *testing.T) {
	mapr := h3mapper.New()
	elev := NewElevation(mapr)

	alps := cellsFor(t, model.BBox{MinLon: 10, MinLat: 46.2, MaxLon: 11, MaxLat: 46.8})
	plains := cellsFor(t, model.BBox{MinLon: 4, MinLat: 52, MaxLon: 5, MaxLat: 52.6})

	avg := func(cells model.Cells) float64 {
		got, err := elev.SampleFeatures(context.Background(), model.AreaRequest{}, cells)
		if err != nil {
			t.Fatalf("SampleFeatures: %v", err)
		}
		var sum float64
		for _, f := range got {
			if f.Slope == nil {
				t.Fatal("missing slope")
			}
			sum += *f.Slope
		}
		return sum / float64(len(got))
	}

	if a, p := avg(alps), avg(plains); a <= p {
		t.Errorf("expected alpine mean slope > lowland: alps=%.2f plains=%.2f", a, p)
	}
}

func TestMockSeismicBeltHotterThanNorth(t *testing.T) {
	mapr := h3mapper.New()
	pga := NewSeismicPGA(mapr)

	italy := cellsFor(t, model.BBox{MinLon: 13, MinLat: 41.5, MaxLon: 14, MaxLat: 42.2})
	sweden := cellsFor(t, model.BBox{MinLon: 15, MinLat: 59, MaxLon: 16, MaxLat: 59.6})

	avg := func(cells model.Cells) float64 {
		got, err := pga.SampleFeatures(context.Background(), model.AreaRequest{}, cells)
		if err != nil {
			t.Fatalf("SampleFeatures: %v", err)
		}
		var sum float64
		for _, f := range got {
			sum += *f.HazardPGA
		}
		return sum / float64(len(got))
	}

	if i, s := avg(italy), avg(sweden); i <= s {
		t.Errorf("expected italian mean pga > swedish: italy=%.3f sweden=%.3f", i, s)
	}
}

func TestMockLandCoverCodesValid(t *testing.T) {
	mapr := h3mapper.New()
	lc := NewLandCover(mapr)
	cells := cellsFor(t, model.BBox{MinLon: 8, MinLat: 48, MaxLon: 9, MaxLat: 48.6})
	got, err := lc.SampleFeatures(context.Background(), model.AreaRequest{}, cells)
	if err != nil {
		t.Fatalf("SampleFeatures: %v", err)
	}
	valid := map[int]bool{}
	for _, c := range clcPalette {
		valid[c] = true
	}
	for cell, f := range got {
		if f.CLCClass == nil || !valid[*f.CLCClass] {
			t.Errorf("cell %s: unexpected clc class %v", cell, f.CLCClass)
		}
	}
}
