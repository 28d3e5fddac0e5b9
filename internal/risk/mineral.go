package risk

import (
	"fmt"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
)

const MineralModelVersion = "mineral-v0.2.1-PLACEHOLDER-existing-site-detector"

const mineralBaseVariance = 0.15

// Corine class 131: mineral extraction sites.
const clcMineralExtraction = 131

const mineralWarning = "existing-site detector: flags land already classified as mineral extraction; " +
	"it does not predict undiscovered deposits"

// ComputeMineralRisk is an existing-site detector over the Corine land
// cover class. Deliberately a placeholder.
func ComputeMineralRisk(f model.CellFeatures, cfg Config) (model.RiskResult, error) {
	var used, missing []string

	mean := 0.1
	if f.CLCClass != nil {
		used = append(used, "clcClass")
		if *f.CLCClass == clcMineralExtraction {
			mean = 0.9
		}
	} else {
		if cfg.MissingDataStrategy == StrategyFail {
			return model.RiskResult{}, &MissingDataError{Model: "mineral", Feature: "clcClass"}
		}
		missing = append(missing, "clcClass")
	}

	variance := VarianceWithMissing(mineralBaseVariance, len(missing))
	conf := Confidence(len(used), 1) * 0.4

	res := model.RiskResult{
		Distribution:    DistributionFromMean(mean, variance),
		FeaturesUsed:    used,
		FeaturesMissing: missing,
		Confidence:      conf,
		ModelVersion:    MineralModelVersion,
		IsPlaceholder:   true,
		UseCaseWarning:  mineralWarning,
	}
	if cfg.GenerateExplanations {
		res.Explanation = fmt.Sprintf("land cover class %v; extraction sites score 0.9, all else 0.1", f.CLCClass)
	}
	return res, nil
}

// ComputeAll runs the four hazard models against one feature record.
func ComputeAll(f model.CellFeatures, cfg Config) (model.CellRisks, error) {
	landslide, err := ComputeLandslideRisk(f, cfg)
	if err != nil {
		return model.CellRisks{}, fmt.Errorf("landslide: %w", err)
	}
	seismic, err := ComputeSeismicRisk(f, cfg)
	if err != nil {
		return model.CellRisks{}, fmt.Errorf("seismic: %w", err)
	}
	water, err := ComputeWaterRisk(f, cfg)
	if err != nil {
		return model.CellRisks{}, fmt.Errorf("water: %w", err)
	}
	mineral, err := ComputeMineralRisk(f, cfg)
	if err != nil {
		return model.CellRisks{}, fmt.Errorf("mineral: %w", err)
	}
	return model.CellRisks{
		Landslide: landslide,
		Seismic:   seismic,
		Water:     water,
		Mineral:   mineral,
	}, nil
}
