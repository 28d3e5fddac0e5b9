package precip

import (
	"context"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
)

// Adapter exposes the precipitation client through the dataset adapter
// contract so the orchestrator fans out to it like any other layer.
type Adapter struct {
	client *Client
}

func NewAdapter(client *Client) *Adapter { return &Adapter{client: client} }

func (a *Adapter) Name() string { return "precip" }

// EnsureCoverage is a no-op: the service aggregates on demand and cold
// starts are absorbed by the long request timeout.
func (a *Adapter) EnsureCoverage(_ context.Context, _ model.AreaRequest) error { return nil }

func (a *Adapter) SampleFeatures(ctx context.Context, _ model.AreaRequest, cells model.Cells) (map[string]model.CellFeatures, error) {
	got, live := a.client.FetchWithFallback(ctx, cells, "")
	quality := 1.0
	if !live {
		quality = 0
	}
	out := make(map[string]model.CellFeatures, len(got))
	for cell, acc := range got {
		out[cell] = model.CellFeatures{
			Rain24h: model.Float(acc.Rain24h),
			Rain72h: model.Float(acc.Rain72h),
			Quality: map[string]float64{a.Name(): quality},
		}
	}
	return out, nil
}
