// Package orchestrator runs the per-request pipeline: enumerate cells,
// partition against the cell cache, fan out to dataset adapters for the
// misses, compute risk distributions in chunks and write back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hazardgrid/h3-risk-service/internal/adapters"
	"github.com/hazardgrid/h3-risk-service/internal/cache/cellstore"
	"github.com/hazardgrid/h3-risk-service/internal/cache/keys"
	"github.com/hazardgrid/h3-risk-service/internal/core/model"
	"github.com/hazardgrid/h3-risk-service/internal/core/observability"
	"github.com/hazardgrid/h3-risk-service/internal/logger"
	h3mapper "github.com/hazardgrid/h3-risk-service/internal/mapper/h3"
	"github.com/hazardgrid/h3-risk-service/internal/risk"
)

const defaultChunkSize = 100

// Progress is invoked after each computed chunk with the running totals and
// the chunk's fresh records. Cached records are not replayed through it.
type Progress func(processed, total int, chunk []*model.RecordV2)

type Orchestrator struct {
	mapr      *h3mapper.Mapper
	set       *adapters.Set
	store     cellstore.V2Store
	v1store   cellstore.V1Store
	riskCfg   risk.Config
	pipeline  string
	chunkSize int
	log       zerolog.Logger
}

type Option func(*Orchestrator)

func WithChunkSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

func WithV1Store(s cellstore.V1Store) Option {
	return func(o *Orchestrator) { o.v1store = s }
}

func WithRiskConfig(cfg risk.Config) Option {
	return func(o *Orchestrator) { o.riskCfg = cfg }
}

func New(mapr *h3mapper.Mapper, set *adapters.Set, store cellstore.V2Store, pipeline string, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		mapr:      mapr,
		set:       set,
		store:     store,
		riskCfg:   risk.DefaultConfig(),
		pipeline:  pipeline,
		chunkSize: defaultChunkSize,
		log:       log.With().Str("component", "orchestrator").Logger(),
	}
	for _, f := range opts {
		f(o)
	}
	return o
}

// WithExplanations returns a copy of the orchestrator whose risk engine
// attaches human-readable explanations to fresh results. Cached records are
// served as stored.
func (o *Orchestrator) WithExplanations() *Orchestrator {
	clone := *o
	clone.riskCfg.GenerateExplanations = true
	return &clone
}

// Result is the outcome of an area computation. Records holds one record per
// resolved cell keyed by cell id; Cells preserves the sorted enumeration
// order (skipped cells excluded).
type Result struct {
	Cells   model.Cells
	Records map[string]*model.RecordV2
	Metrics model.AreaMetrics
}

func millis(d time.Duration) float64 { return float64(d.Nanoseconds()) / 1e6 }

// RisksForArea resolves full-distribution records for every cell covering
// the area. Cache hits are served as-is; misses run the adapter fan-out and
// the risk engine. A context deadline mid-computation truncates the result
// instead of failing it.
func (o *Orchestrator) RisksForArea(ctx context.Context, area model.AreaRequest, timestamp string, onProgress Progress) (*Result, error) {
	log := logger.FromContext(ctx, &o.log)
	totalStart := time.Now()

	cells, err := o.mapr.CellsForBBox(area.BBox, area.Resolution)
	if err != nil {
		return nil, fmt.Errorf("enumerate cells: %w", err)
	}
	genDur := time.Since(totalStart)

	lookupStart := time.Now()
	cached, missing, err := o.store.GetMulti(ctx, cells, timestamp)
	if err != nil {
		// A broken cache degrades to recompute-everything.
		log.Warn().Err(err).Msg("cell cache lookup failed, recomputing all")
		cached = map[string]*model.RecordV2{}
		missing = cells
	}
	lookupDur := time.Since(lookupStart)

	res := &Result{
		Records: cached,
		Metrics: model.AreaMetrics{
			TotalCells:  len(cells),
			CacheHits:   len(cached),
			CacheMisses: len(missing),
		},
	}
	for _, rec := range cached {
		rec.Metadata.CacheHit = true
	}

	var fetchDur, computeDur time.Duration
	if len(missing) > 0 {
		fetchStart := time.Now()
		features := o.fetchFeatures(ctx, area, missing, log)
		fetchDur = time.Since(fetchStart)

		computeStart := time.Now()
		o.computeChunks(ctx, missing, features, timestamp, res, onProgress, log)
		computeDur = time.Since(computeStart)
	}

	// Preserve enumeration order, excluding cells that failed to compute.
	res.Cells = make(model.Cells, 0, len(res.Records))
	for _, cell := range cells {
		if _, ok := res.Records[cell]; ok {
			res.Cells = append(res.Cells, cell)
		}
	}

	res.Metrics.Timings = model.Timings{
		GenerateCells:   millis(genDur),
		CacheLookup:     millis(lookupDur),
		DataFetch:       millis(fetchDur),
		RiskComputation: millis(computeDur),
		Total:           millis(time.Since(totalStart)),
	}
	return res, nil
}

// fetchFeatures runs EnsureCoverage then SampleFeatures across all adapters
// concurrently and merges per-cell features in adapter registration order.
// Both stages are best effort: a failing adapter contributes nothing and the
// risk engine handles the gaps.
func (o *Orchestrator) fetchFeatures(ctx context.Context, area model.AreaRequest, cells model.Cells, log *zerolog.Logger) map[string]model.CellFeatures {
	all := o.set.All()

	var wg sync.WaitGroup
	for _, a := range all {
		wg.Add(1)
		go func(a adapters.Adapter) {
			defer wg.Done()
			if err := a.EnsureCoverage(ctx, area); err != nil {
				log.Warn().Err(err).Str("adapter", a.Name()).Msg("coverage check failed")
			}
		}(a)
	}
	wg.Wait()

	sampled := make([]map[string]model.CellFeatures, len(all))
	for i, a := range all {
		wg.Add(1)
		go func(i int, a adapters.Adapter) {
			defer wg.Done()
			got, err := a.SampleFeatures(ctx, area, cells)
			observability.ObserveAdapterSample(a.Name(), len(got), err)
			if err != nil {
				log.Warn().Err(err).Str("adapter", a.Name()).Int("cells", len(got)).Msg("sampling failed")
			}
			sampled[i] = got
		}(i, a)
	}
	wg.Wait()

	merged := make(map[string]model.CellFeatures, len(cells))
	for _, cell := range cells {
		var f model.CellFeatures
		for _, got := range sampled {
			if part, ok := got[cell]; ok {
				f.Merge(part)
			}
		}
		merged[cell] = f
	}
	return merged
}

// computeChunks runs the risk engine over missing cells in fixed-size chunks
// so progress can stream and cache writes stay bounded. Hitting the context
// deadline marks the result truncated and stops cleanly.
func (o *Orchestrator) computeChunks(ctx context.Context, cells model.Cells, features map[string]model.CellFeatures, timestamp string, res *Result, onProgress Progress, log *zerolog.Logger) {
	sourceHash := keys.SourceHash(o.pipeline, o.set.Names())
	processed := res.Metrics.CacheHits

	for start := 0; start < len(cells); start += o.chunkSize {
		if err := ctx.Err(); err != nil {
			res.Metrics.Truncated = true
			log.Warn().Int("remaining", len(cells)-start).Msg("deadline hit, truncating area computation")
			return
		}
		end := start + o.chunkSize
		if end > len(cells) {
			end = len(cells)
		}

		chunkStart := time.Now()
		chunk := make([]*model.RecordV2, 0, end-start)
		for _, cell := range cells[start:end] {
			rec, err := o.computeCell(cell, features[cell], timestamp, sourceHash)
			if err != nil {
				res.Metrics.SkippedCells++
				log.Debug().Err(err).Str("cell", cell).Msg("cell skipped")
				continue
			}
			chunk = append(chunk, rec)
			res.Records[cell] = rec
		}
		chunkDur := time.Since(chunkStart)
		observability.ObserveRiskCompute(chunkDur.Seconds())

		if len(chunk) > 0 {
			perCell := millis(chunkDur) / float64(len(chunk))
			for _, rec := range chunk {
				rec.Metadata.ComputeTimeMs = perCell
			}
			if err := o.store.PutMulti(ctx, chunk); err != nil {
				log.Warn().Err(err).Int("records", len(chunk)).Msg("cell cache write failed")
			}
		}

		processed += end - start
		if onProgress != nil {
			onProgress(processed, res.Metrics.TotalCells, chunk)
		}
	}
}

func (o *Orchestrator) computeCell(cell string, f model.CellFeatures, timestamp, sourceHash string) (*model.RecordV2, error) {
	risks, err := risk.ComputeAll(f, o.riskCfg)
	if err != nil {
		return nil, err
	}
	return &model.RecordV2{
		H3Index:    cell,
		Timestamp:  timestamp,
		Features:   f,
		Risks:      risks,
		UpdatedAt:  time.Now().UTC(),
		SourceHash: sourceHash,
		Metadata:   model.RecordMeta{DataSource: o.pipeline},
	}, nil
}

// RiskForCell resolves a single cell, computing on miss.
func (o *Orchestrator) RiskForCell(ctx context.Context, cell, timestamp string) (*model.RecordV2, error) {
	res, err := o.mapr.Resolution(cell)
	if err != nil {
		return nil, err
	}
	cached, _, err := o.store.GetMulti(ctx, model.Cells{cell}, timestamp)
	if err == nil {
		if rec, ok := cached[cell]; ok {
			rec.Metadata.CacheHit = true
			return rec, nil
		}
	}

	lat, lon, err := o.mapr.Centroid(cell)
	if err != nil {
		return nil, err
	}
	area := model.AreaRequest{
		BBox:       model.BBox{MinLon: lon, MinLat: lat, MaxLon: lon, MaxLat: lat},
		Resolution: res,
	}
	log := logger.FromContext(ctx, &o.log)
	features := o.fetchFeatures(ctx, area, model.Cells{cell}, log)

	rec, err := o.computeCell(cell, features[cell], timestamp, keys.SourceHash(o.pipeline, o.set.Names()))
	if err != nil {
		return nil, fmt.Errorf("compute cell %s: %w", cell, err)
	}
	if err := o.store.PutMulti(ctx, []*model.RecordV2{rec}); err != nil {
		log.Warn().Err(err).Str("cell", cell).Msg("cell cache write failed")
	}
	return rec, nil
}

// ErrNoV1Store is returned by SimpleForArea when the legacy store was not
// wired.
var ErrNoV1Store = errors.New("v1 cell store not configured")

// SimpleForArea serves the legacy flat schema: cached v1 records where
// present, otherwise a full computation flattened down. Fresh computations
// reuse the v2 pipeline so both schemas stay consistent.
func (o *Orchestrator) SimpleForArea(ctx context.Context, area model.AreaRequest, timestamp string) (model.Cells, map[string]*model.RecordV1, *model.AreaMetrics, error) {
	if o.v1store == nil {
		return nil, nil, nil, ErrNoV1Store
	}

	cells, err := o.mapr.CellsForBBox(area.BBox, area.Resolution)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("enumerate cells: %w", err)
	}

	found, missing, err := o.v1store.GetMulti(ctx, cells)
	if err != nil {
		log := logger.FromContext(ctx, &o.log)
		log.Warn().Err(err).Msg("v1 cache lookup failed, recomputing all")
		found = map[string]*model.RecordV1{}
		missing = cells
	}
	metrics := &model.AreaMetrics{
		TotalCells:  len(cells),
		CacheHits:   len(found),
		CacheMisses: len(missing),
	}

	if len(missing) > 0 {
		sub := model.AreaRequest{BBox: area.BBox, Resolution: area.Resolution}
		log := logger.FromContext(ctx, &o.log)
		features := o.fetchFeatures(ctx, sub, missing, log)
		sourceHash := keys.SourceHash(o.pipeline, o.set.Names())

		fresh := make([]*model.RecordV1, 0, len(missing))
		for _, cell := range missing {
			rec, err := o.computeCell(cell, features[cell], timestamp, sourceHash)
			if err != nil {
				metrics.SkippedCells++
				continue
			}
			v1 := rec.FlattenV1()
			found[cell] = v1
			fresh = append(fresh, v1)
		}
		if err := o.v1store.PutMulti(ctx, fresh); err != nil {
			log.Warn().Err(err).Int("records", len(fresh)).Msg("v1 cache write failed")
		}
	}

	ordered := make(model.Cells, 0, len(found))
	for _, cell := range cells {
		if _, ok := found[cell]; ok {
			ordered = append(ordered, cell)
		}
	}
	return ordered, found, metrics, nil
}
