// Package pricing holds per-agent token prices and computes run cost.
package pricing

import "strings"

// Price is USD per one million tokens.
type Price struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// Table maps agent names to prices.
type Table map[string]Price

// Defaults is the built-in price table.
var Defaults = Table{
	"claude":      {InputPerMillion: 1.00, OutputPerMillion: 5.00},
	"claude-opus": {InputPerMillion: 5.00, OutputPerMillion: 25.00},
	"openai":      {InputPerMillion: 1.75, OutputPerMillion: 14.00},
	"glm":         {InputPerMillion: 0.60, OutputPerMillion: 2.20},
	"minimax":     {InputPerMillion: 0.30, OutputPerMillion: 1.20},
	"gemini":      {InputPerMillion: 0.50, OutputPerMillion: 3.00},
	"deepseek":    {InputPerMillion: 0.40, OutputPerMillion: 1.60},
	"mock":        {},
}

// With returns a copy of t with overrides applied.
func (t Table) With(overrides map[string]Price) Table {
	out := make(Table, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Lookup returns the price for agent. Unknown agents are free.
func (t Table) Lookup(agent string) Price {
	return t[strings.ToLower(agent)]
}

// Cost returns the USD cost of a run.
func (t Table) Cost(agent string, inputTokens, outputTokens int) float64 {
	p := t.Lookup(agent)
	return float64(inputTokens)/1e6*p.InputPerMillion + float64(outputTokens)/1e6*p.OutputPerMillion
}
