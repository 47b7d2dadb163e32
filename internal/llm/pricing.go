package llm

import "strings"

// modelPrice is USD per million tokens.
type modelPrice struct {
	input  float64
	output float64
}

// prices keys are model-name prefixes; the longest match wins, so dated
// variants like gpt-4o-mini-2024-07-18 resolve to their family.
var prices = map[string]modelPrice{
	"gpt-4o-mini":  {input: 0.15, output: 0.60},
	"gpt-4o":       {input: 2.50, output: 10.00},
	"gpt-4.1-nano": {input: 0.10, output: 0.40},
	"gpt-4.1-mini": {input: 0.40, output: 1.60},
	"gpt-4.1":      {input: 2.00, output: 8.00},
	"o4-mini":      {input: 1.10, output: 4.40},
	"o3-mini":      {input: 1.10, output: 4.40},
	"o3":           {input: 2.00, output: 8.00},
}

// EstimateCost prices a completion in USD. Unlisted models cost zero rather
// than failing the tick.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	var best modelPrice
	bestLen := -1
	for prefix, p := range prices {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = p
			bestLen = len(prefix)
		}
	}
	if bestLen < 0 {
		return 0
	}
	return (float64(inputTokens)*best.input + float64(outputTokens)*best.output) / 1e6
}
