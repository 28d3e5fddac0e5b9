package risk

import (
	"fmt"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
)

const (
	WaterProductionModelVersion  = "water-v1.0.0-PRODUCTION-precipitation-integrated"
	WaterPlaceholderModelVersion = "water-v0.2.1-PLACEHOLDER-terrain-proxy"

	waterProductionVariance  = 0.06
	waterPlaceholderVariance = 0.12
	waterConfidenceCap       = 0.85

	waterPlaceholderWarning = "terrain-proxy water model: no precipitation data was available; " +
		"output reflects terrain susceptibility only and must not be used for flood response decisions"
)

// landCoverKind buckets Corine codes into the categories the water model
// distinguishes.
type landCoverKind int

const (
	coverUnknown landCoverKind = iota
	coverUrban
	coverAgricultural
	coverForest
	coverGrassland
	coverBare
	coverWetland
	coverWater
)

func classifyLandCover(clc int) landCoverKind {
	switch {
	case clc >= 111 && clc <= 142:
		return coverUrban
	case clc >= 211 && clc <= 244:
		return coverAgricultural
	case clc >= 311 && clc <= 313:
		return coverForest
	case clc >= 321 && clc <= 324:
		return coverGrassland
	case clc >= 331 && clc <= 335:
		return coverBare
	case clc >= 411 && clc <= 423:
		return coverWetland
	case clc >= 511 && clc <= 523:
		return coverWater
	default:
		return coverUnknown
	}
}

// ComputeWaterRisk selects the precipitation-integrated production model
// when either accumulation field is present and otherwise falls back to the
// terrain-proxy placeholder.
func ComputeWaterRisk(f model.CellFeatures, cfg Config) (model.RiskResult, error) {
	if f.Rain24h != nil || f.Rain72h != nil {
		return computeWaterProduction(f, cfg)
	}
	return computeWaterPlaceholder(f, cfg)
}

func computeWaterProduction(f model.CellFeatures, cfg Config) (model.RiskResult, error) {
	var used, missing []string

	cover := coverUnknown
	if f.CLCClass != nil {
		cover = classifyLandCover(*f.CLCClass)
		used = append(used, "clcClass")
	} else {
		missing = append(missing, "clcClass")
	}

	var slope float64
	if f.Slope != nil {
		slope = *f.Slope
		used = append(used, "slope")
	} else {
		if cfg.MissingDataStrategy == StrategyFail {
			return model.RiskResult{}, &MissingDataError{Model: "water", Feature: "slope"}
		}
		missing = append(missing, "slope")
	}

	var rain24, rain72 float64
	if f.Rain24h != nil {
		rain24 = *f.Rain24h
		used = append(used, "rain24h")
	} else {
		missing = append(missing, "rain24h")
	}
	if f.Rain72h != nil {
		rain72 = *f.Rain72h
		used = append(used, "rain72h")
	} else {
		missing = append(missing, "rain72h")
	}

	coeff := runoffCoefficient(slope, cover)
	capacity := infiltrationCapacity(cover)

	var stress24, stress72, combined float64
	if cover == coverWater {
		// Open water cannot be water-stressed by runoff.
		combined = 0
	} else {
		stress24 = stressRatio(rain24*coeff, capacity*24)
		stress72 = stressRatio(rain72*coeff, capacity*72)
		combined = 0.6*stress24 + 0.4*stress72
	}

	var boost float64
	switch {
	case rain24 > 100:
		boost = 0.2
	case rain24 > 60:
		boost = 0.1
	}

	mean := combined + boost
	if mean > 1 {
		mean = 1
	}

	variance := VarianceWithMissing(waterProductionVariance, len(missing))
	conf := Confidence(len(used), 4)
	if conf > waterConfidenceCap {
		conf = waterConfidenceCap
	}

	res := model.RiskResult{
		Distribution:    DistributionFromMean(mean, variance),
		FeaturesUsed:    used,
		FeaturesMissing: missing,
		Confidence:      conf,
		ModelVersion:    WaterProductionModelVersion,
	}
	if cfg.GenerateExplanations {
		res.Explanation = fmt.Sprintf(
			"runoff coeff %.2f, infiltration %.0f mm/h, stress24 %.3f, stress72 %.3f, boost %.1f",
			coeff, capacity, stress24, stress72, boost)
	}
	return res, nil
}

func computeWaterPlaceholder(f model.CellFeatures, cfg Config) (model.RiskResult, error) {
	var used, missing []string

	var slope float64
	if f.Slope != nil {
		slope = *f.Slope
		used = append(used, "slope")
	} else {
		if cfg.MissingDataStrategy == StrategyFail {
			return model.RiskResult{}, &MissingDataError{Model: "water", Feature: "slope"}
		}
		missing = append(missing, "slope")
	}

	adj := 0.0
	if f.CLCClass != nil {
		used = append(used, "clcClass")
		switch classifyLandCover(*f.CLCClass) {
		case coverForest:
			adj = -0.15
		case coverGrassland:
			adj = -0.05
		case coverUrban:
			adj = 0.2
		case coverWetland:
			adj = -0.3
		case coverWater:
			adj = -0.4
		}
	} else {
		missing = append(missing, "clcClass")
	}

	mean := clamp01(Normalize(slope, 0, 20) + adj)
	variance := VarianceWithMissing(waterPlaceholderVariance, len(missing))
	conf := Confidence(len(used), 2) * 0.3

	res := model.RiskResult{
		Distribution:    DistributionFromMean(mean, variance),
		FeaturesUsed:    used,
		FeaturesMissing: missing,
		Confidence:      conf,
		ModelVersion:    WaterPlaceholderModelVersion,
		IsPlaceholder:   true,
		UseCaseWarning:  waterPlaceholderWarning,
	}
	if cfg.GenerateExplanations {
		res.Explanation = fmt.Sprintf("terrain proxy: slope %.1f deg, land-cover adjustment %+.2f", slope, adj)
	}
	return res, nil
}

// runoffCoefficient interpolates the dimensionless runoff fraction over
// slope bands (flat <=2, moderate <=10, steep <=20, extreme >20) and shifts
// it by land cover.
func runoffCoefficient(slope float64, cover landCoverKind) float64 {
	if cover == coverWater {
		return 0
	}
	if slope < 0 {
		slope = 0
	}

	var coeff float64
	switch {
	case slope <= 2:
		coeff = 0.1 + (slope/2)*0.1
	case slope <= 10:
		coeff = 0.2 + (slope-2)/8*0.2
	case slope <= 20:
		coeff = 0.4 + (slope-10)/10*0.3
	default:
		extra := (slope - 20) / 20
		if extra > 1 {
			extra = 1
		}
		coeff = 0.7 + extra*0.2
	}

	switch cover {
	case coverUrban:
		coeff += 0.2
	case coverForest:
		coeff -= 0.15
	case coverWetland:
		coeff -= 0.2
	}
	return clamp01(coeff)
}

// infiltrationCapacity in mm/h by land cover.
func infiltrationCapacity(cover landCoverKind) float64 {
	switch cover {
	case coverForest:
		return 50
	case coverGrassland:
		return 30
	case coverAgricultural:
		return 15
	case coverUrban:
		return 5
	case coverWetland:
		return 80
	case coverWater:
		return 1000
	case coverBare:
		return 10
	default:
		return 20
	}
}

func stressRatio(runoff, infiltration float64) float64 {
	if infiltration <= 0 {
		return 1
	}
	s := runoff / infiltration
	if s > 1 {
		return 1
	}
	if s < 0 {
		return 0
	}
	return s
}
