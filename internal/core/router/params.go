// Package router parses HTTP parameters and serves the tile service routes.
package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
)

// errorBody is the structured 4xx/5xx response payload.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ParseAreaRequest reads minLon/minLat/maxLon/maxLat and the optional res
// parameter. Every bbox field is required; res falls back to the service
// default.
func ParseAreaRequest(r *http.Request, defaultRes int) (model.AreaRequest, error) {
	q := r.URL.Query()

	var bb model.BBox
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"minLon", &bb.MinLon},
		{"minLat", &bb.MinLat},
		{"maxLon", &bb.MaxLon},
		{"maxLat", &bb.MaxLat},
	} {
		raw := strings.TrimSpace(q.Get(p.name))
		if raw == "" {
			return model.AreaRequest{}, fmt.Errorf("missing required parameter: %s", p.name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.AreaRequest{}, fmt.Errorf("invalid %s: %q", p.name, raw)
		}
		*p.dst = v
	}

	res := defaultRes
	if raw := strings.TrimSpace(q.Get("res")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return model.AreaRequest{}, fmt.Errorf("invalid res: %q", raw)
		}
		res = v
	}

	area := model.AreaRequest{BBox: bb, Resolution: res}
	if err := area.Validate(); err != nil {
		return model.AreaRequest{}, err
	}
	return area, nil
}

// ParseTileRequest reads x/y/z tile coordinates.
func ParseTileRequest(r *http.Request) (x, y, z int, err error) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"x", &x},
		{"y", &y},
		{"z", &z},
	} {
		raw := strings.TrimSpace(q.Get(p.name))
		if raw == "" {
			return 0, 0, 0, fmt.Errorf("missing required parameter: %s", p.name)
		}
		v, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, 0, 0, fmt.Errorf("invalid %s: %q", p.name, raw)
		}
		*p.dst = v
	}
	return x, y, z, nil
}

// ParseTimestamp normalizes the optional timestamp parameter; records
// computed without an explicit timestamp live under "latest".
func ParseTimestamp(r *http.Request) string {
	ts := strings.TrimSpace(r.URL.Query().Get("timestamp"))
	if ts == "" {
		return "latest"
	}
	return ts
}

func boolParam(r *http.Request, name string) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get(name))) {
	case "1", "t", "true", "y", "yes":
		return true
	}
	return false
}
