// Package cost estimates the USD cost of reply generation from token usage.
package cost

import "github.com/sells-group/portfolio-chat/internal/model"

// Rates holds per-model pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Priced reports whether the calculator has a rate for the model.
func (c *Calculator) Priced(modelName string) bool {
	_, ok := c.rates.Anthropic[modelName]
	return ok
}

// Claude computes the cost for a Claude API call. Unknown models cost 0.
func (c *Calculator) Claude(modelName string, input, output, cacheWrite, cacheRead int64) float64 {
	rate, ok := c.rates.Anthropic[modelName]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// Usage computes the cost of one reply from its token usage.
func (c *Calculator) Usage(modelName string, u model.TokenUsage) float64 {
	return c.Claude(modelName, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 5.00, Output: 25.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}
