// Package adapters defines the uniform dataset adapter contract and the
// factory that selects mock or real implementations per layer.
package adapters

import (
	"context"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
)

// Adapter extracts per-cell features for one dataset layer.
//
// EnsureCoverage is a best-effort prefetch/validation hook; failures are
// logged by the caller and never abort a request. SampleFeatures returns a
// partial map: a cell absent from the map means "no data from this source",
// not failure.
type Adapter interface {
	Name() string
	EnsureCoverage(ctx context.Context, area model.AreaRequest) error
	SampleFeatures(ctx context.Context, area model.AreaRequest, cells model.Cells) (map[string]model.CellFeatures, error)
}

// Factory builds one adapter for a named layer.
type Factory func() (Adapter, error)

// Set is an ordered adapter collection. Merge order follows registration
// order, which keeps feature merging deterministic.
type Set struct {
	adapters []Adapter
}

func NewSet(as ...Adapter) *Set {
	return &Set{adapters: as}
}

func (s *Set) Add(a Adapter) { s.adapters = append(s.adapters, a) }

func (s *Set) All() []Adapter { return s.adapters }

func (s *Set) Names() []string {
	names := make([]string, 0, len(s.adapters))
	for _, a := range s.adapters {
		names = append(names, a.Name())
	}
	return names
}
