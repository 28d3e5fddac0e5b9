package risk

import (
	"fmt"

	"github.com/hazardgrid/h3-risk-service/internal/core/model"
)

const (
	loBand = 0.33
	hiBand = 0.67
)

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func clamp01(x float64) float64 { return clamp(x, 0, 1) }

// Normalize scales x into [0,1] over [lo,hi], clamping at the edges.
func Normalize(x, lo, hi float64) float64 {
	if hi == lo {
		return 0
	}
	return clamp01((x - lo) / (hi - lo))
}

// VarianceWithMissing widens a base variance by half per missing input the
// model relied on.
func VarianceWithMissing(base float64, missing int) float64 {
	if missing < 0 {
		missing = 0
	}
	return base * (1 + 0.5*float64(missing))
}

// Confidence is the used/ideal input ratio, floored at 0.3.
func Confidence(used, ideal int) float64 {
	if ideal <= 0 {
		return 1
	}
	return clamp(float64(used)/float64(ideal), 0.3, 1.0)
}

// DistributionFromMean synthesizes the three-class categorical from a
// continuous mean. The categorical is a UI banding heuristic and does not
// preserve the input mean as its expectation; the reported mean stays the
// raw input. Classes band at [0,0.33), [0.33,0.67), [0.67,1].
func DistributionFromMean(mean, variance float64) model.RiskDistribution {
	mean = clamp01(mean)

	var pLow, pMed, pHigh float64
	switch {
	case mean < loBand:
		pLow = 0.7 + (loBand-mean)*0.5
		pMed = 0.25 - (loBand-mean)*0.3
		pHigh = 0.05
	case mean < hiBand:
		d := mean - 0.5
		if d < 0 {
			d = -d
		}
		pLow = 0.15 + (0.5-mean)*0.4
		pMed = 0.7 - d*0.6
		pHigh = 0.15 + (mean-0.5)*0.4
	default:
		pLow = 0.05
		pMed = 0.25 - (mean-hiBand)*0.3
		pHigh = 0.7 + (mean-hiBand)*0.5
	}

	sum := pLow + pMed + pHigh
	return model.RiskDistribution{
		PLow:     pLow / sum,
		PMedium:  pMed / sum,
		PHigh:    pHigh / sum,
		Mean:     mean,
		Variance: variance,
	}
}

// ErrMissingData is wrapped by models when StrategyFail meets an absent
// required input.
type MissingDataError struct {
	Model   string
	Feature string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("%s: required feature %q missing", e.Model, e.Feature)
}
