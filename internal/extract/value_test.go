package extract

import "testing"

func TestParseContractValue(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected *float64
	}{
		{"currency with million suffix", "budget of £1.2 million available", f(1_200_000)},
		{"plain currency amount", "contract worth GBP 450,000 per annum", f(450_000)},
		{"k suffix", "grants up to €250k", f(250_000)},
		{"range reduces to midpoint", "between £100,000 and £200,000", f(150_000)},
		{"bare value with magnitude word", "total value of 1.5 million over the term", f(1_500_000)},
		{"no value", "no money mentioned anywhere here", nil},
		{"bare number without magnitude ignored", "reference 450000 in section 2", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseContractValue(tt.text)
			if tt.expected == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected %v, got nil", *tt.expected)
			}
			if *got != *tt.expected {
				t.Errorf("expected %v, got %v", *tt.expected, *got)
			}
		})
	}
}

func f(v float64) *float64 { return &v }
