package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hazardgrid/h3-risk-service/internal/cache/keys"
	"github.com/hazardgrid/h3-risk-service/internal/cache/tilecache"
	"github.com/hazardgrid/h3-risk-service/internal/core/model"
	h3mapper "github.com/hazardgrid/h3-risk-service/internal/mapper/h3"
	"github.com/hazardgrid/h3-risk-service/internal/orchestrator"
)

type Handlers struct {
	orch       *orchestrator.Orchestrator
	tiles      *tilecache.Cache
	defaultRes int
	log        zerolog.Logger
}

func NewHandlers(orch *orchestrator.Orchestrator, tiles *tilecache.Cache, defaultRes int, log zerolog.Logger) *Handlers {
	return &Handlers{
		orch:       orch,
		tiles:      tiles,
		defaultRes: defaultRes,
		log:        log.With().Str("component", "router").Logger(),
	}
}

// Mount registers every route on the mux.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/h3/area", h.AreaV1)
	r.Get("/h3/tile", h.Tile)
	r.Get("/h3/tile/optimized", h.TileOptimized)
	r.Get("/h3/tile/cache/stats", h.TileCacheStats)
	r.Delete("/h3/tile/cache", h.TileCacheClear)
	r.Get("/cell/{h3Index}", h.Cell)
	r.Get("/v2/h3/area", h.AreaV2)
}

type areaEcho struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon"`
	MaxLat float64 `json:"maxLat"`
	Res    int     `json:"res"`
}

type areaV1Response struct {
	Area  areaEcho          `json:"area"`
	Cells []*model.RecordV1 `json:"cells"`
}

// AreaV1 serves flat scores for a bbox.
func (h *Handlers) AreaV1(w http.ResponseWriter, r *http.Request) {
	area, err := ParseAreaRequest(r, h.defaultRes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cells, records, _, err := h.orch.SimpleForArea(r.Context(), area, ParseTimestamp(r))
	if err != nil {
		h.log.Error().Err(err).Msg("area query failed")
		writeError(w, http.StatusInternalServerError, "area computation failed")
		return
	}

	out := make([]*model.RecordV1, 0, len(cells))
	for _, cell := range cells {
		out = append(out, records[cell])
	}
	writeJSON(w, http.StatusOK, areaV1Response{
		Area: areaEcho{
			MinLon: area.BBox.MinLon, MinLat: area.BBox.MinLat,
			MaxLon: area.BBox.MaxLon, MaxLat: area.BBox.MaxLat,
			Res: area.Resolution,
		},
		Cells: out,
	})
}

// tileArea converts tile coordinates to an area request at the zoom-mapped
// resolution.
func tileArea(x, y, z int) (model.AreaRequest, error) {
	bb, err := h3mapper.TileToBBox(x, y, z)
	if err != nil {
		return model.AreaRequest{}, err
	}
	return model.AreaRequest{BBox: bb, Resolution: h3mapper.ZoomToResolution(z)}, nil
}

// Tile serves flat scores for an XYZ tile, cached as serialized bytes.
func (h *Handlers) Tile(w http.ResponseWriter, r *http.Request) {
	h.serveTile(w, r, false)
}

// TileOptimized serves the compact record shape. compact=false falls back to
// the full v1 records for clients that want one endpoint.
func (h *Handlers) TileOptimized(w http.ResponseWriter, r *http.Request) {
	compact := true
	if r.URL.Query().Has("compact") && !boolParam(r, "compact") {
		compact = false
	}
	h.serveTile(w, r, compact)
}

func (h *Handlers) serveTile(w http.ResponseWriter, r *http.Request, compact bool) {
	x, y, z, err := ParseTileRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	area, err := tileArea(x, y, z)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := keys.Tile(z, x, y, compact)
	if payload, ok := h.tiles.Get(key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Tile-Cache", "hit")
		_, _ = w.Write(payload)
		return
	}

	timestamp := ParseTimestamp(r)
	var payload []byte
	if compact {
		res, err := h.orch.RisksForArea(r.Context(), area, timestamp, nil)
		if err != nil {
			h.log.Error().Err(err).Msg("tile query failed")
			writeError(w, http.StatusInternalServerError, "tile computation failed")
			return
		}
		out := make([]model.CompactRecord, 0, len(res.Cells))
		for _, cell := range res.Cells {
			out = append(out, res.Records[cell].Compact(true))
		}
		payload, err = json.Marshal(out)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "tile encoding failed")
			return
		}
	} else {
		cells, records, _, err := h.orch.SimpleForArea(r.Context(), area, timestamp)
		if err != nil {
			h.log.Error().Err(err).Msg("tile query failed")
			writeError(w, http.StatusInternalServerError, "tile computation failed")
			return
		}
		out := make([]*model.RecordV1, 0, len(cells))
		for _, cell := range cells {
			out = append(out, records[cell])
		}
		payload, err = json.Marshal(out)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "tile encoding failed")
			return
		}
	}

	h.tiles.Set(key, payload)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Tile-Cache", "miss")
	_, _ = w.Write(payload)
}

// Cell serves a single flat record, computing on miss.
func (h *Handlers) Cell(w http.ResponseWriter, r *http.Request) {
	cell := chi.URLParam(r, "h3Index")
	rec, err := h.orch.RiskForCell(r.Context(), cell, ParseTimestamp(r))
	if err != nil {
		// Parse failures dominate here; anything downstream logs itself.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec.FlattenV1())
}

type areaV2Response struct {
	Cells   []*model.RecordV2 `json:"cells"`
	Metrics model.AreaMetrics `json:"metrics"`
}

// AreaV2 serves full distributions, optionally as an NDJSON stream.
func (h *Handlers) AreaV2(w http.ResponseWriter, r *http.Request) {
	area, err := ParseAreaRequest(r, h.defaultRes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	timestamp := ParseTimestamp(r)

	orch := h.orch
	if boolParam(r, "explanations") {
		orch = orch.WithExplanations()
	}

	if boolParam(r, "stream") {
		h.streamAreaV2(w, r, orch, area, timestamp)
		return
	}

	res, err := orch.RisksForArea(r.Context(), area, timestamp, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("v2 area query failed")
		writeError(w, http.StatusInternalServerError, "area computation failed")
		return
	}
	out := make([]*model.RecordV2, 0, len(res.Cells))
	for _, cell := range res.Cells {
		out = append(out, res.Records[cell])
	}
	writeJSON(w, http.StatusOK, areaV2Response{Cells: out, Metrics: res.Metrics})
}

type streamProgress struct {
	Type      string `json:"type"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

type streamData struct {
	Type  string            `json:"type"`
	Cells []*model.RecordV2 `json:"cells"`
}

type streamComplete struct {
	Type    string            `json:"type"`
	Metrics model.AreaMetrics `json:"metrics"`
}

// streamAreaV2 writes newline-delimited JSON: progress and data messages per
// computed chunk, then cached records, then a terminal complete message. The
// encoder blocking on a slow client is the backpressure path.
func (h *Handlers) streamAreaV2(w http.ResponseWriter, r *http.Request, orch *orchestrator.Orchestrator, area model.AreaRequest, timestamp string) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	emit := func(v any) {
		_ = enc.Encode(v)
		if flusher != nil {
			flusher.Flush()
		}
	}

	res, err := orch.RisksForArea(r.Context(), area, timestamp, func(processed, total int, chunk []*model.RecordV2) {
		emit(streamProgress{Type: "progress", Processed: processed, Total: total})
		if len(chunk) > 0 {
			emit(streamData{Type: "data", Cells: chunk})
		}
	})
	if err != nil {
		// Headers are gone; all we can do is log and close the stream.
		h.log.Error().Err(err).Msg("v2 stream failed")
		return
	}

	cached := make([]*model.RecordV2, 0, res.Metrics.CacheHits)
	for _, cell := range res.Cells {
		if rec := res.Records[cell]; rec.Metadata.CacheHit {
			cached = append(cached, rec)
		}
	}
	if len(cached) > 0 {
		emit(streamData{Type: "data", Cells: cached})
	}
	emit(streamComplete{Type: "complete", Metrics: res.Metrics})
}

// TileCacheStats exposes the tile-cache counters.
func (h *Handlers) TileCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tiles.Stats())
}

type clearResponse struct {
	Message        string `json:"message"`
	EntriesRemoved int    `json:"entriesRemoved"`
}

// TileCacheClear drops every cached tile.
func (h *Handlers) TileCacheClear(w http.ResponseWriter, _ *http.Request) {
	n := h.tiles.Clear()
	h.log.Info().Int("entries", n).Msg("tile cache cleared")
	writeJSON(w, http.StatusOK, clearResponse{Message: "tile cache cleared", EntriesRemoved: n})
}
