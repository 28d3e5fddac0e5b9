package invalidation

import (
	"testing"
	"time"
)

func validEvent() DatasetEvent {
	return DatasetEvent{
		Version: 1,
		Op:      "updated",
		Dataset: "elsus",
		TS:      time.Now(),
		BBox:    &BBox{MinLon: 5, MinLat: 44, MaxLon: 16, MaxLat: 48, SRID: "EPSG:4326"},
	}
}

func TestEventValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*DatasetEvent)
		wantErr bool
	}{
		{"valid bbox event", func(e *DatasetEvent) {}, false},
		{"valid cell list event", func(e *DatasetEvent) {
			e.BBox = nil
			e.Cells = []string{"851f9a93fffffff"}
		}, false},
		{"wrong version", func(e *DatasetEvent) { e.Version = 2 }, true},
		{"bad op", func(e *DatasetEvent) { e.Op = "upsert" }, true},
		{"missing dataset", func(e *DatasetEvent) { e.Dataset = " " }, true},
		{"missing ts", func(e *DatasetEvent) { e.TS = time.Time{} }, true},
		{"neither cells nor bbox", func(e *DatasetEvent) { e.BBox = nil }, true},
		{"both cells and bbox", func(e *DatasetEvent) { e.Cells = []string{"x"} }, true},
		{"wrong srid", func(e *DatasetEvent) { e.BBox.SRID = "EPSG:3857" }, true},
		{"lon out of range", func(e *DatasetEvent) { e.BBox.MinLon = -999 }, true},
		{"inverted bbox", func(e *DatasetEvent) { e.BBox.MaxLat = e.BBox.MinLat - 1 }, true},
		{"bad resolution", func(e *DatasetEvent) { e.Resolution = 16 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := validEvent()
			tc.mutate(&ev)
			err := ev.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDedupeKey(t *testing.T) {
	a := DatasetEvent{Dataset: "clc", DatasetRev: "2024-q2"}
	b := DatasetEvent{Dataset: "clc", DatasetRev: "2024-q3"}
	if a.DedupeKey() == b.DedupeKey() {
		t.Error("different revisions must not collide")
	}
	if a.DedupeKey() != (DatasetEvent{Dataset: "clc", DatasetRev: "2024-q2"}).DedupeKey() {
		t.Error("same revision must collide")
	}
}
