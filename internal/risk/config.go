// Package risk implements the deterministic hazard models. Every Compute*
// function is pure: no I/O, no hidden state, byte-identical output for
// identical inputs.
package risk

// MissingDataStrategy controls how models react to absent inputs.
type MissingDataStrategy string

const (
	// StrategyMean substitutes a dataset-typical value for a missing input.
	StrategyMean MissingDataStrategy = "mean"
	// StrategyConservative substitutes a cautious (risk-inflating) value.
	StrategyConservative MissingDataStrategy = "conservative"
	// StrategyFail aborts the computation for the cell.
	StrategyFail MissingDataStrategy = "fail"
)

type Config struct {
	MissingDataStrategy MissingDataStrategy
	// ComputeQuantiles is reserved for models that can report quantiles;
	// none of the current four do.
	ComputeQuantiles     bool
	GenerateExplanations bool
}

func DefaultConfig() Config {
	return Config{
		MissingDataStrategy:  StrategyConservative,
		ComputeQuantiles:     false,
		GenerateExplanations: false,
	}
}
