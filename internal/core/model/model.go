// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"time"
)

// BBox is an axis-aligned bounding box in decimal degrees WGS84.
// All four edges are inclusive.
type BBox struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
}

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

func (b BBox) Validate() error {
	if !(b.MinLon >= -180 && b.MinLon <= 180 && b.MaxLon >= -180 && b.MaxLon <= 180) {
		return fmt.Errorf("longitude must be in [-180,180]")
	}
	if !(b.MinLat >= -90 && b.MinLat <= 90 && b.MaxLat >= -90 && b.MaxLat <= 90) {
		return fmt.Errorf("latitude must be in [-90,90]")
	}
	if b.MaxLon < b.MinLon || b.MaxLat < b.MinLat {
		return fmt.Errorf("coordinates must satisfy maxLon>=minLon and maxLat>=minLat")
	}
	return nil
}

// AreaRequest asks for risk distributions over every H3 cell in a bbox.
type AreaRequest struct {
	BBox       BBox
	Resolution int
}

func (a AreaRequest) Validate() error {
	if a.Resolution < 0 || a.Resolution > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", a.Resolution)
	}
	return a.BBox.Validate()
}

type Cells []string

// CellFeatures is the sparse per-cell signal record the risk engine reads.
// A nil field means "not sampled or not available", which is distinct from
// zero. Unknown upstream fields ride along in Extra and are ignored by the
// current models.
type CellFeatures struct {
	Elevation  *float64 `json:"elevation,omitempty"`
	Slope      *float64 `json:"slope,omitempty"`
	ElsusClass *int     `json:"elsusClass,omitempty"`
	HazardPGA  *float64 `json:"hazardPGA,omitempty"`
	CLCClass   *int     `json:"clcClass,omitempty"`
	Rain24h    *float64 `json:"rain24h,omitempty"`
	Rain72h    *float64 `json:"rain72h,omitempty"`

	Extra map[string]float64 `json:"extra,omitempty"`

	// Quality holds per-adapter sample quality in [0,1], keyed by adapter
	// name. Informational metadata; the risk models never read it.
	Quality map[string]float64 `json:"quality,omitempty"`
}

// Merge copies fields from other that are unset on f. Existing non-nil
// fields win, so the merged record is deterministic given the set of
// adapter outputs regardless of completion order.
func (f *CellFeatures) Merge(other CellFeatures) {
	if f.Elevation == nil {
		f.Elevation = other.Elevation
	}
	if f.Slope == nil {
		f.Slope = other.Slope
	}
	if f.ElsusClass == nil {
		f.ElsusClass = other.ElsusClass
	}
	if f.HazardPGA == nil {
		f.HazardPGA = other.HazardPGA
	}
	if f.CLCClass == nil {
		f.CLCClass = other.CLCClass
	}
	if f.Rain24h == nil {
		f.Rain24h = other.Rain24h
	}
	if f.Rain72h == nil {
		f.Rain72h = other.Rain72h
	}
	for k, v := range other.Extra {
		if f.Extra == nil {
			f.Extra = map[string]float64{}
		}
		if _, ok := f.Extra[k]; !ok {
			f.Extra[k] = v
		}
	}
	for k, v := range other.Quality {
		if f.Quality == nil {
			f.Quality = map[string]float64{}
		}
		if _, ok := f.Quality[k]; !ok {
			f.Quality[k] = v
		}
	}
}

// Float returns a pointer to v; convenience for building CellFeatures.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// RiskDistribution is a categorical three-class distribution plus the
// continuous mean/variance it was derived from. The probabilities sum to 1;
// the mean is the raw model score, not the expectation of the categorical.
type RiskDistribution struct {
	PLow     float64 `json:"p_low"`
	PMedium  float64 `json:"p_medium"`
	PHigh    float64 `json:"p_high"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

type RiskResult struct {
	Distribution    RiskDistribution `json:"distribution"`
	FeaturesUsed    []string         `json:"featuresUsed"`
	FeaturesMissing []string         `json:"featuresMissing"`
	Confidence      float64          `json:"confidence"`
	ModelVersion    string           `json:"modelVersion"`
	IsPlaceholder   bool             `json:"isPlaceholder"`
	Explanation     string           `json:"explanation,omitempty"`
	UseCaseWarning  string           `json:"useCaseWarning,omitempty"`
}

type CellRisks struct {
	Landslide RiskResult `json:"landslide"`
	Seismic   RiskResult `json:"seismic"`
	Water     RiskResult `json:"water"`
	Mineral   RiskResult `json:"mineral"`
}

type RecordMeta struct {
	DataSource    string  `json:"dataSource"`
	CacheHit      bool    `json:"cacheHit"`
	ComputeTimeMs float64 `json:"computeTimeMs"`
}

// RecordV2 is the current cell-cache schema: full distributions per hazard.
type RecordV2 struct {
	H3Index    string       `json:"h3Index"`
	Timestamp  string       `json:"timestamp"`
	Features   CellFeatures `json:"features"`
	Risks      CellRisks    `json:"risks"`
	UpdatedAt  time.Time    `json:"updatedAt"`
	SourceHash string       `json:"sourceHash"`
	Metadata   RecordMeta   `json:"metadata"`
}

// V1Meta keeps the legacy lat/lon slots. The old pipeline never populated
// them; they stay zero for wire compatibility.
type V1Meta struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	DataSource string  `json:"dataSource"`
}

// RecordV1 is the legacy cell-cache schema: bare mean scores per hazard.
type RecordV1 struct {
	H3Index    string    `json:"h3Index"`
	UpdatedAt  time.Time `json:"updatedAt"`
	SourceHash string    `json:"sourceHash"`
	Water      float64   `json:"water"`
	Landslide  float64   `json:"landslide"`
	Seismic    float64   `json:"seismic"`
	Mineral    float64   `json:"mineral"`
	Metadata   V1Meta    `json:"metadata"`
}

// FlattenV1 projects a v2 record onto the legacy schema.
func (r *RecordV2) FlattenV1() *RecordV1 {
	return &RecordV1{
		H3Index:    r.H3Index,
		UpdatedAt:  r.UpdatedAt,
		SourceHash: r.SourceHash,
		Water:      r.Risks.Water.Distribution.Mean,
		Landslide:  r.Risks.Landslide.Distribution.Mean,
		Seismic:    r.Risks.Seismic.Distribution.Mean,
		Mineral:    r.Risks.Mineral.Distribution.Mean,
		Metadata:   V1Meta{DataSource: r.Metadata.DataSource},
	}
}

// CompactRecord is the wire shape of /h3/tile/optimized entries.
type CompactRecord struct {
	I string   `json:"i"`
	W float64  `json:"w"`
	L float64  `json:"l"`
	S float64  `json:"s"`
	M float64  `json:"m"`
	E *float64 `json:"e,omitempty"`
	P *float64 `json:"p,omitempty"`
}

func (r *RecordV2) Compact(withExtras bool) CompactRecord {
	c := CompactRecord{
		I: r.H3Index,
		W: r.Risks.Water.Distribution.Mean,
		L: r.Risks.Landslide.Distribution.Mean,
		S: r.Risks.Seismic.Distribution.Mean,
		M: r.Risks.Mineral.Distribution.Mean,
	}
	if withExtras {
		c.E = r.Features.Elevation
		c.P = r.Features.Rain24h
	}
	return c
}

// Timings are per-request stage durations in milliseconds.
type Timings struct {
	GenerateCells   float64 `json:"generateCells"`
	CacheLookup     float64 `json:"cacheLookup"`
	DataFetch       float64 `json:"dataFetch"`
	RiskComputation float64 `json:"riskComputation"`
	Total           float64 `json:"total"`
}

type AreaMetrics struct {
	TotalCells   int     `json:"totalCells"`
	CacheHits    int     `json:"cacheHits"`
	CacheMisses  int     `json:"cacheMisses"`
	SkippedCells int     `json:"skippedCells,omitempty"`
	DataCubeUsed bool    `json:"dataCubeUsed"`
	Truncated    bool    `json:"truncated,omitempty"`
	Timings      Timings `json:"timings"`
}
