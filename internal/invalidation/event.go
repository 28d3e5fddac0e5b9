// Package invalidation consumes dataset update events and drops the
// affected cells from the risk caches so the next request recomputes them.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

// DatasetEvent announces that an upstream hazard dataset changed. The
// affected footprint is given either as an explicit cell list or as a bbox
// to be enumerated at the event's resolution.
type DatasetEvent struct {
	Version    int       `json:"version"`
	Op         string    `json:"op"`
	Dataset    string    `json:"dataset"`
	DatasetRev string    `json:"dataset_rev,omitempty"`
	TS         time.Time `json:"ts"`
	Cells      []string  `json:"cells,omitempty"`
	BBox       *BBox     `json:"bbox,omitempty"`
	Resolution int       `json:"resolution,omitempty"`
}

type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
	SRID   string  `json:"srid"`
}

func (e DatasetEvent) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "updated", "deleted":
	default:
		return fmt.Errorf("op must be updated|deleted")
	}
	if strings.TrimSpace(e.Dataset) == "" {
		return fmt.Errorf("dataset is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	hasCells := len(e.Cells) > 0
	hasBBox := e.BBox != nil
	if hasCells == hasBBox {
		return fmt.Errorf("exactly one of cells or bbox is required")
	}
	if hasBBox {
		bb := *e.BBox
		if bb.SRID != "EPSG:4326" {
			return fmt.Errorf("bbox.srid must be EPSG:4326")
		}
		if !(bb.MinLon >= -180 && bb.MinLon <= 180 && bb.MaxLon >= -180 && bb.MaxLon <= 180) {
			return fmt.Errorf("bbox longitude out of range")
		}
		if !(bb.MinLat >= -90 && bb.MinLat <= 90 && bb.MaxLat >= -90 && bb.MaxLat <= 90) {
			return fmt.Errorf("bbox latitude out of range")
		}
		if !(bb.MaxLon > bb.MinLon && bb.MaxLat > bb.MinLat) {
			return fmt.Errorf("bbox must satisfy max>min on both axes")
		}
		if e.Resolution < 0 || e.Resolution > 15 {
			return fmt.Errorf("resolution must be 0..15")
		}
	}
	return nil
}

// Dedupe key: events are republished on consumer group rebalances, so a
// (dataset, revision) pair seen once is skipped.
func (e DatasetEvent) DedupeKey() string {
	return e.Dataset + "@" + e.DatasetRev
}
