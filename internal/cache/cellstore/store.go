// Package cellstore persists per-cell risk records. Two backends exist: a
// file-backed in-memory store that snapshots to JSON, and a Redis store for
// deployments that share the cache across replicas.
package cellstore

import (
	"context"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
)

// V2Store holds full-distribution records. Lookups are timestamp-scoped: a
// record computed for a different timestamp is a miss, never served stale.
type V2Store interface {
	// GetMulti returns found records keyed by cell id plus the list of
	// missing cells, preserving the input order of the misses.
	GetMulti(ctx context.Context, cells model.Cells, timestamp string) (map[string]*model.RecordV2, model.Cells, error)
	PutMulti(ctx context.Context, records []*model.RecordV2) error
	// Drop removes all records for the given cells across every timestamp.
	Drop(ctx context.Context, cells model.Cells) (int, error)
	Close() error
}

// V1Store holds legacy flat records for the v1 endpoints.
type V1Store interface {
	GetMulti(ctx context.Context, cells model.Cells) (map[string]*model.RecordV1, model.Cells, error)
	PutMulti(ctx context.Context, records []*model.RecordV1) error
	Drop(ctx context.Context, cells model.Cells) (int, error)
	Close() error
}
