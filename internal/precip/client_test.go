package precip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
)

func newTestClient(url string, chunk int) *Client {
	c := NewClient(url, http.DefaultClient, chunk, zerolog.Nop())
	c.baseDelay = 5 * time.Millisecond
	return c
}

func precipHandler(t *testing.T, fail *atomic.Int64, seen *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/precip/h3" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if fail != nil && fail.Load() > 0 {
			fail.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !req.Hours24 || !req.Hours72 {
			t.Error("both accumulation windows must be requested")
		}
		if seen != nil {
			seen.Add(int64(len(req.H3Indices)))
		}
		resp := response{Source: "imerg", TRef: "2026-08-24T00:00:00Z"}
		for i, idx := range req.H3Indices {
			resp.Cells = append(resp.Cells, cellAccumulation{
				H3Index: idx, Rain24mm: float64(i + 1), Rain72mm: float64(2 * (i + 1)),
			})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(precipHandler(t, nil, nil))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	got, err := c.Fetch(context.Background(), []string{"a", "b"}, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d cells, want 2", len(got))
	}
	if got["a"].Rain24h != 1 || got["a"].Rain72h != 2 {
		t.Errorf("cell a: %+v", got["a"])
	}
	if got["b"].Rain24h != 2 || got["b"].Rain72h != 4 {
		t.Errorf("cell b: %+v", got["b"])
	}
}

func TestFetchChunksLargeRequests(t *testing.T) {
	var requests, seen atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		precipHandler(t, nil, &seen)(w, r)
	}))
	defer srv.Close()

	cells := make([]string, 7)
	for i := range cells {
		cells[i] = fmt.Sprintf("cell-%d", i)
	}
	c := newTestClient(srv.URL, 3)
	got, err := c.Fetch(context.Background(), cells, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != len(cells) {
		t.Errorf("got %d cells, want %d", len(got), len(cells))
	}
	if requests.Load() != 3 {
		t.Errorf("got %d requests, want 3 chunks of <=3", requests.Load())
	}
	if seen.Load() != int64(len(cells)) {
		t.Errorf("server saw %d cells, want %d", seen.Load(), len(cells))
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var fail atomic.Int64
	fail.Store(2) // first two attempts fail, third succeeds
	srv := httptest.NewServer(precipHandler(t, &fail, nil))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	got, err := c.Fetch(context.Background(), []string{"a"}, "")
	if err != nil {
		t.Fatalf("Fetch after retries: %v", err)
	}
	if got["a"].Rain24h != 1 {
		t.Errorf("cell a: %+v", got["a"])
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	var fail atomic.Int64
	fail.Store(100)
	srv := httptest.NewServer(precipHandler(t, &fail, nil))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	if _, err := c.Fetch(context.Background(), []string{"a"}, ""); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	// Initial attempt plus two retries.
	if used := 100 - fail.Load(); used != 3 {
		t.Errorf("made %d attempts, want 3", used)
	}
}

func TestFetchWithFallbackZeroes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	got, live := c.FetchWithFallback(context.Background(), []string{"a", "b"}, "")
	if live {
		t.Error("fallback result must be reported as degraded")
	}
	if len(got) != 2 {
		t.Fatalf("fallback must cover every cell: got %d", len(got))
	}
	for cell, acc := range got {
		if acc.Rain24h != 0 || acc.Rain72h != 0 {
			t.Errorf("cell %s: fallback must be zero, got %+v", cell, acc)
		}
	}
}

func TestAdapterQualityReflectsFallback(t *testing.T) {
	srv := httptest.NewServer(precipHandler(t, nil, nil))
	defer srv.Close()

	a := NewAdapter(newTestClient(srv.URL, 0))
	got, err := a.SampleFeatures(context.Background(), model.AreaRequest{}, model.Cells{"a"})
	if err != nil {
		t.Fatalf("SampleFeatures: %v", err)
	}
	if q := got["a"].Quality["precip"]; q != 1 {
		t.Errorf("live quality=%v want 1", q)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	a = NewAdapter(newTestClient(down.URL, 0))
	got, err = a.SampleFeatures(context.Background(), model.AreaRequest{}, model.Cells{"a"})
	if err != nil {
		t.Fatalf("SampleFeatures (fallback): %v", err)
	}
	f := got["a"]
	if *f.Rain24h != 0 || *f.Rain72h != 0 {
		t.Errorf("fallback accumulations: %+v", f)
	}
	if q := f.Quality["precip"]; q != 0 {
		t.Errorf("fallback quality=%v want 0", q)
	}
}
