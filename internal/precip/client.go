// Package precip calls the external precipitation service that aggregates
// NASA IMERG accumulations per H3 cell.
package precip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hazardgrid/h3-risk-service/internal/core/observability"
)

const (
	defaultChunkSize = 5000

	// One initial attempt plus two retries with linearly growing backoff.
	retryCount     = 2
	retryBaseDelay = 2 * time.Second
)

type request struct {
	H3Indices []string `json:"h3_indices"`
	TRef      string   `json:"t_ref,omitempty"`
	Hours24   bool     `json:"hours_24"`
	Hours72   bool     `json:"hours_72"`
}

type cellAccumulation struct {
	H3Index  string  `json:"h3_index"`
	Rain24mm float64 `json:"rain24h_mm"`
	Rain72mm float64 `json:"rain72h_mm"`
}

type response struct {
	Cells  []cellAccumulation `json:"cells"`
	Source string             `json:"source"`
	TRef   string             `json:"t_ref"`
	Cached bool               `json:"cached"`
}

// Accumulation is one cell's 24h and 72h rainfall in millimeters.
type Accumulation struct {
	Rain24h float64
	Rain72h float64
}

type Client struct {
	baseURL   string
	http      *http.Client
	chunkSize int
	baseDelay time.Duration // overridable in tests
	log       zerolog.Logger
}

func NewClient(baseURL string, httpClient *http.Client, chunkSize int, log zerolog.Logger) *Client {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Client{
		baseURL:   baseURL,
		http:      httpClient,
		chunkSize: chunkSize,
		baseDelay: retryBaseDelay,
		log:       log.With().Str("component", "precip").Logger(),
	}
}

// Fetch retrieves accumulations for all cells, splitting the request into
// chunks. Any chunk failing after retries fails the whole call.
func (c *Client) Fetch(ctx context.Context, cells []string, tRef string) (map[string]Accumulation, error) {
	out := make(map[string]Accumulation, len(cells))
	for start := 0; start < len(cells); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(cells) {
			end = len(cells)
		}
		if err := c.fetchChunk(ctx, cells[start:end], tRef, out); err != nil {
			return nil, fmt.Errorf("precip chunk [%d:%d]: %w", start, end, err)
		}
	}
	return out, nil
}

// FetchWithFallback behaves like Fetch but degrades to zero rainfall when
// the service stays unreachable, so flood risk falls back to the terrain
// proxy instead of failing the request. The second return reports whether
// the data came from the service (false means fallback zeros).
func (c *Client) FetchWithFallback(ctx context.Context, cells []string, tRef string) (map[string]Accumulation, bool) {
	got, err := c.Fetch(ctx, cells, tRef)
	if err == nil {
		return got, true
	}
	observability.IncPrecipFallback()
	c.log.Warn().Err(err).Int("cells", len(cells)).Msg("precipitation unavailable, falling back to zeros")
	out := make(map[string]Accumulation, len(cells))
	for _, cell := range cells {
		out[cell] = Accumulation{}
	}
	return out, false
}

func (c *Client) fetchChunk(ctx context.Context, cells []string, tRef string, out map[string]Accumulation) error {
	var last error
	for attempt := 0; attempt <= retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * c.baseDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		resp, err := c.post(ctx, cells, tRef)
		if err == nil {
			for _, cell := range resp.Cells {
				out[cell.H3Index] = Accumulation{Rain24h: cell.Rain24mm, Rain72h: cell.Rain72mm}
			}
			return nil
		}
		last = err
		c.log.Debug().Err(err).Int("attempt", attempt+1).Msg("precip request failed")
	}
	return fmt.Errorf("after %d attempts: %w", retryCount+1, last)
}

func (c *Client) post(ctx context.Context, cells []string, tRef string) (*response, error) {
	body, err := json.Marshal(request{H3Indices: cells, TRef: tRef, Hours24: true, Hours72: true})
	if err != nil {
		return nil, fmt.Errorf("encode precip request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/precip/h3", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build precip request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency("precip", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("precip request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("precip status %d: %s", httpResp.StatusCode, snippet)
	}

	var decoded response
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode precip response: %w", err)
	}
	return &decoded, nil
}
