package cost

import (
	"math"
	"strings"
)

// ModelPricing holds per-1K-token prices in USD
type ModelPricing struct {
	InputPerK  float64 `json:"input_per_k"`
	OutputPerK float64 `json:"output_per_k"`
}

// defaultPricing is applied when a model has no explicit entry
var defaultPricing = ModelPricing{InputPerK: 0.001, OutputPerK: 0.002}

// pricingTable maps model name prefixes to pricing. Longest prefix wins.
var pricingTable = map[string]ModelPricing{
	"gpt-4o":        {InputPerK: 0.0025, OutputPerK: 0.01},
	"gpt-4o-mini":   {InputPerK: 0.00015, OutputPerK: 0.0006},
	"gpt-4":         {InputPerK: 0.03, OutputPerK: 0.06},
	"gpt-3.5-turbo": {InputPerK: 0.0005, OutputPerK: 0.0015},
	"claude-3-opus": {InputPerK: 0.015, OutputPerK: 0.075},
	"claude-3-5":    {InputPerK: 0.003, OutputPerK: 0.015},
	"claude-3":      {InputPerK: 0.00025, OutputPerK: 0.00125},
	"llama-3.1":     {InputPerK: 0.0001, OutputPerK: 0.0001},
	"llama3":        {InputPerK: 0.0001, OutputPerK: 0.0001},
	"mixtral":       {InputPerK: 0.00024, OutputPerK: 0.00024},
}

// PricingFor returns the pricing for a model, falling back to the default
// when the model is unknown
func PricingFor(model string) ModelPricing {
	model = strings.ToLower(model)

	best := ""
	for prefix := range pricingTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultPricing
	}
	return pricingTable[best]
}

// Calculate returns the USD cost for a token usage pair, rounded to six
// decimal places
func Calculate(model string, tokensIn, tokensOut int) float64 {
	pricing := PricingFor(model)
	total := float64(tokensIn)/1000.0*pricing.InputPerK +
		float64(tokensOut)/1000.0*pricing.OutputPerK
	return math.Round(total*1e6) / 1e6
}
