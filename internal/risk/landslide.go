package risk

import (
	"fmt"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
)

const LandslideModelVersion = "landslide-v0.2.1-enhanced-heuristic"

const landslideBaseVariance = 0.05

// ComputeLandslideRisk weights slope (60%) against the ELSUS susceptibility
// class (40%). When ELSUS is absent it is inferred from slope bands at a
// 0.8 confidence penalty.
func ComputeLandslideRisk(f model.CellFeatures, cfg Config) (model.RiskResult, error) {
	var used, missing []string
	confMul := 1.0

	var slopeFactor float64
	switch {
	case f.Slope != nil:
		slopeFactor = landslideSlopeFactor(*f.Slope)
		used = append(used, "slope")
	case cfg.MissingDataStrategy == StrategyFail:
		return model.RiskResult{}, &MissingDataError{Model: "landslide", Feature: "slope"}
	case cfg.MissingDataStrategy == StrategyConservative:
		slopeFactor = 0.5
		missing = append(missing, "slope")
	default: // mean
		slopeFactor = 0.3
		missing = append(missing, "slope")
	}

	var elsusFactor float64
	switch {
	case f.ElsusClass != nil:
		elsusFactor = float64(clampInt(*f.ElsusClass, 1, 5)-1) / 4
		used = append(used, "elsusClass")
	case f.Slope != nil:
		// Infer susceptibility from slope bands.
		elsusFactor = elsusFromSlope(*f.Slope)
		confMul = 0.8
		missing = append(missing, "elsusClass")
	case cfg.MissingDataStrategy == StrategyFail:
		return model.RiskResult{}, &MissingDataError{Model: "landslide", Feature: "elsusClass"}
	default:
		elsusFactor = 0.5
		missing = append(missing, "elsusClass")
	}

	mean := clamp01(0.6*slopeFactor + 0.4*elsusFactor)
	variance := VarianceWithMissing(landslideBaseVariance, len(missing))
	conf := Confidence(len(used), 2) * confMul

	res := model.RiskResult{
		Distribution:    DistributionFromMean(mean, variance),
		FeaturesUsed:    used,
		FeaturesMissing: missing,
		Confidence:      conf,
		ModelVersion:    LandslideModelVersion,
	}
	if cfg.GenerateExplanations {
		res.Explanation = fmt.Sprintf(
			"slope factor %.3f (60%%), ELSUS factor %.3f (40%%) -> mean %.3f", slopeFactor, elsusFactor, mean)
	}
	return res, nil
}

// landslideSlopeFactor is linear up to 45 degrees, then a non-linear boost
// up to 70 degrees where it saturates at 1.3.
func landslideSlopeFactor(slope float64) float64 {
	switch {
	case slope <= 0:
		return 0
	case slope <= 45:
		return slope / 45
	default:
		boost := 1 + 0.3*(slope-45)/25
		if boost > 1.3 {
			boost = 1.3
		}
		return boost
	}
}

func elsusFromSlope(slope float64) float64 {
	switch {
	case slope < 10:
		return 0.1
	case slope < 20:
		return 0.3
	case slope < 30:
		return 0.5
	case slope < 40:
		return 0.7
	default:
		return 0.85
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
