package pricing

import (
	"math"
	"testing"
)

func TestCost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		agent  string
		in     int
		out    int
		want   float64
	}{
		{name: "claude", agent: "claude", in: 1_000_000, out: 1_000_000, want: 6.0},
		{name: "case insensitive", agent: "OpenAI", in: 100_000, out: 10_000, want: 0.175 + 0.14},
		{name: "mock is free", agent: "mock", in: 500, out: 500, want: 0},
		{name: "unknown is free", agent: "someone", in: 500, out: 500, want: 0},
		{name: "zero tokens", agent: "gemini", want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := Defaults.Cost(tc.agent, tc.in, tc.out)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("Cost(%s, %d, %d) = %v, want %v", tc.agent, tc.in, tc.out, got, tc.want)
			}
		})
	}
}

func TestWithOverrides(t *testing.T) {
	t.Parallel()

	table := Defaults.With(map[string]Price{"Local": {InputPerMillion: 2, OutputPerMillion: 4}})
	if got := table.Cost("local", 1_000_000, 500_000); math.Abs(got-4) > 1e-9 {
		t.Fatalf("Cost(local) = %v, want 4", got)
	}
	if _, ok := Defaults["local"]; ok {
		t.Fatal("With mutated Defaults")
	}
}
