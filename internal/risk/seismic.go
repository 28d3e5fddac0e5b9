package risk

import (
	"fmt"
	"math"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
)

const SeismicModelVersion = "seismic-v0.2.1-pga-site-enhanced"

// Seismic carries high epistemic uncertainty.
const seismicBaseVariance = 0.15

// ComputeSeismicRisk maps peak ground acceleration to a risk score,
// optionally amplified by a site class inferred from land cover. Known
// lithology would supersede the land-cover heuristic; no adapter supplies
// it yet.
func ComputeSeismicRisk(f model.CellFeatures, cfg Config) (model.RiskResult, error) {
	var used, missing []string
	confMul := 1.0

	var basePGA float64
	switch {
	case f.HazardPGA != nil:
		basePGA = *f.HazardPGA
		used = append(used, "hazardPGA")
	case cfg.MissingDataStrategy == StrategyFail:
		return model.RiskResult{}, &MissingDataError{Model: "seismic", Feature: "hazardPGA"}
	case cfg.MissingDataStrategy == StrategyConservative:
		basePGA = 0.2
		missing = append(missing, "hazardPGA")
	default:
		basePGA = 0.1
		missing = append(missing, "hazardPGA")
	}

	amplification := 1.0
	if f.CLCClass != nil {
		amplification = siteAmplification(*f.CLCClass)
		used = append(used, "clcClass")
		if amplification != 1.0 {
			// Site class is a land-cover inference, not a measurement.
			confMul = 0.7
		}
	} else {
		missing = append(missing, "clcClass")
	}

	amplified := basePGA * amplification
	mean := clamp01(math.Pow(Normalize(amplified, 0, 0.5), 0.8))
	variance := VarianceWithMissing(seismicBaseVariance, len(missing))
	conf := Confidence(len(used), 2) * confMul

	res := model.RiskResult{
		Distribution:    DistributionFromMean(mean, variance),
		FeaturesUsed:    used,
		FeaturesMissing: missing,
		Confidence:      conf,
		ModelVersion:    SeismicModelVersion,
	}
	if cfg.GenerateExplanations {
		res.Explanation = fmt.Sprintf(
			"PGA %.3fg x site amplification %.1f -> %.3fg (%s)",
			basePGA, amplification, amplified, ClassifyPGA(amplified))
	}
	return res, nil
}

// siteAmplification infers a rough site factor from Corine land cover:
// wetlands and water bodies imply soft saturated ground, urban classes
// imply artificial fill.
func siteAmplification(clc int) float64 {
	switch {
	case clc >= 411 && clc <= 423, clc >= 511 && clc <= 523:
		return 1.8
	case clc >= 111 && clc <= 142:
		return 1.3
	default:
		return 1.0
	}
}

// ClassifyPGA buckets an amplified PGA value (in g) for display.
func ClassifyPGA(pga float64) string {
	switch {
	case pga < 0.1:
		return "LOW"
	case pga < 0.3:
		return "MODERATE"
	case pga < 0.5:
		return "HIGH"
	default:
		return "VERY_HIGH"
	}
}
