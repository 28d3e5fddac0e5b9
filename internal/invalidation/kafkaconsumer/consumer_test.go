package kafkaconsumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/hazardgrid/h3-risk-service/internal/cache/cellstore"
	"github.com/hazardgrid/h3-risk-service/internal/core/model"
	"github.com/hazardgrid/h3-risk-service/internal/invalidation"
	h3mapper "github.com/hazardgrid/h3-risk-service/internal/mapper/h3"
)

type fakeTiles struct{ clears int }

func (f *fakeTiles) Clear() int {
	f.clears++
	return 3
}

func newTestConsumer(t *testing.T) (*Consumer, cellstore.V2Store, *fakeTiles) {
	t.Helper()
	store := cellstore.NewFileV2(t.TempDir(), time.Hour, zerolog.Nop())
	t.Cleanup(func() { _ = store.Close() })
	tiles := &fakeTiles{}
	c, err := New(Config{DedupeSize: 8}, slog.Default(), store, nil, h3mapper.New(), tiles)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, store, tiles
}

func msgFor(t *testing.T, ev invalidation.DatasetEvent) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "hazard-dataset-events", Value: raw}
}

func TestProcessOneDropsCellsAndFlushesTiles(t *testing.T) {
	c, store, tiles := newTestConsumer(t)
	ctx := context.Background()

	bb := model.BBox{MinLon: 10, MinLat: 46, MaxLon: 10.4, MaxLat: 46.3}
	cells, err := h3mapper.New().CellsForBBox(bb, 6)
	if err != nil || len(cells) == 0 {
		t.Fatalf("CellsForBBox: %v", err)
	}
	recs := make([]*model.RecordV2, len(cells))
	for i, cell := range cells {
		recs[i] = &model.RecordV2{H3Index: cell, Timestamp: "ts"}
	}
	if err := store.PutMulti(ctx, recs); err != nil {
		t.Fatalf("PutMulti: %v", err)
	}

	ev := invalidation.DatasetEvent{
		Version: 1, Op: "updated", Dataset: "elsus", TS: time.Now(),
		BBox:       &invalidation.BBox{MinLon: 10, MinLat: 46, MaxLon: 10.4, MaxLat: 46.3, SRID: "EPSG:4326"},
		Resolution: 6,
	}
	if err := c.ProcessOne(ctx, msgFor(t, ev)); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	found, _, err := store.GetMulti(ctx, cells, "ts")
	if err != nil {
		t.Fatalf("GetMulti: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("%d records survived invalidation", len(found))
	}
	if tiles.clears != 1 {
		t.Errorf("tile cache cleared %d times, want 1", tiles.clears)
	}
}

func TestProcessOneExplicitCellList(t *testing.T) {
	c, store, _ := newTestConsumer(t)
	ctx := context.Background()

	_ = store.PutMulti(ctx, []*model.RecordV2{{H3Index: "a", Timestamp: "ts"}, {H3Index: "b", Timestamp: "ts"}})
	ev := invalidation.DatasetEvent{
		Version: 1, Op: "deleted", Dataset: "pga", TS: time.Now(), Cells: []string{"a"},
	}
	if err := c.ProcessOne(ctx, msgFor(t, ev)); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	found, _, _ := store.GetMulti(ctx, model.Cells{"a", "b"}, "ts")
	if found["a"] != nil {
		t.Error("listed cell not dropped")
	}
	if found["b"] == nil {
		t.Error("unlisted cell dropped")
	}
}

func TestProcessOneDedupesByRevision(t *testing.T) {
	c, _, tiles := newTestConsumer(t)
	ctx := context.Background()

	ev := invalidation.DatasetEvent{
		Version: 1, Op: "updated", Dataset: "clc", DatasetRev: "2024-q2", TS: time.Now(),
		Cells: []string{"a"},
	}
	if err := c.ProcessOne(ctx, msgFor(t, ev)); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if err := c.ProcessOne(ctx, msgFor(t, ev)); err != nil {
		t.Fatalf("ProcessOne (dup): %v", err)
	}
	if tiles.clears != 1 {
		t.Errorf("duplicate event re-applied: %d clears", tiles.clears)
	}
}

func TestProcessOneAcksPoisonMessages(t *testing.T) {
	c, _, tiles := newTestConsumer(t)

	bad := &sarama.ConsumerMessage{Topic: "t", Value: []byte("{nope")}
	if err := c.ProcessOne(context.Background(), bad); err != nil {
		t.Fatalf("poison message must be acked, got %v", err)
	}

	invalid := msgFor(t, invalidation.DatasetEvent{Version: 9})
	if err := c.ProcessOne(context.Background(), invalid); err != nil {
		t.Fatalf("invalid event must be acked, got %v", err)
	}
	if tiles.clears != 0 {
		t.Error("rejected events must not touch the caches")
	}
}
