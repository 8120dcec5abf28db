package extract

import (
	"reflect"
	"testing"
	"time"
)

var refTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestExtractEmptyInput(t *testing.T) {
	meta := SourceMeta{SourceName: "test", ReferenceTime: refTime}

	for _, input := range []string{"", "   ", "\n\t  \n"} {
		if c := Extract(input, meta); c != nil {
			t.Errorf("expected nil candidate for input %q, got %+v", input, c)
		}
	}
}

func TestExtractTitlePatterns(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		meta     SourceMeta
		expected string
	}{
		{
			name:     "tender for pattern",
			text:     "Tender for supported housing management services. Submissions welcome.",
			meta:     SourceMeta{SourceName: "portal", ReferenceTime: refTime},
			expected: "supported housing management services",
		},
		{
			name:     "procurement of pattern",
			text:     "Notice: procurement of temporary accommodation in Leeds. Further details below.",
			meta:     SourceMeta{SourceName: "portal", ReferenceTime: refTime},
			expected: "temporary accommodation in Leeds",
		},
		{
			name:     "keyword sentence fallback",
			text:     "The council intends to expand provision. Providers of supported living should register interest.",
			meta:     SourceMeta{SourceName: "portal", Keywords: []string{"supported living"}, ReferenceTime: refTime},
			expected: "Providers of supported living should register interest.",
		},
		{
			name:     "synthesized from buyer hint",
			text:     "General news about the borough with nothing specific.",
			meta:     SourceMeta{SourceName: "portal", BuyerHint: "Camden Council", ReferenceTime: refTime},
			expected: "Potential opportunity with Camden Council",
		},
		{
			name:     "synthesized from source name",
			text:     "General news about the borough with nothing specific.",
			meta:     SourceMeta{SourceName: "camden-news", ReferenceTime: refTime},
			expected: "Potential opportunity from camden-news",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Extract(tt.text, tt.meta)
			if c == nil {
				t.Fatal("expected a candidate")
			}
			if c.Title != tt.expected {
				t.Errorf("expected title %q, got %q", tt.expected, c.Title)
			}
		})
	}
}

func TestExtractBuyerResolution(t *testing.T) {
	meta := SourceMeta{SourceName: "portal", ReferenceTime: refTime}

	c := Extract("Tender for care services. Issued on behalf of Leicester City Council this week.", meta)
	if c == nil {
		t.Fatal("expected a candidate")
	}
	if c.BuyerName != "Leicester City Council" {
		t.Errorf("expected org entity buyer, got %q", c.BuyerName)
	}

	withHint := meta
	withHint.BuyerHint = "Manchester City Council"
	c = Extract("Tender for care services. Issued on behalf of Leicester City Council this week.", withHint)
	if c.BuyerName != "Manchester City Council" {
		t.Errorf("hint should win over text entities, got %q", c.BuyerName)
	}
}

func TestExtractValueAndClosingDate(t *testing.T) {
	meta := SourceMeta{SourceName: "portal", ReferenceTime: refTime}
	text := "Tender for housing services. Estimated value £1.2 million. Closing date: 15 February 2026."

	c := Extract(text, meta)
	if c == nil {
		t.Fatal("expected a candidate")
	}
	if c.EstimatedValue == nil || *c.EstimatedValue != 1_200_000 {
		t.Fatalf("expected value 1200000, got %v", c.EstimatedValue)
	}
	if c.ClosingDate == nil {
		t.Fatal("expected a closing date")
	}
	want := time.Date(2026, 2, 15, 23, 59, 59, 0, time.UTC)
	if !c.ClosingDate.Equal(want) {
		t.Errorf("expected closing %s, got %s", want, c.ClosingDate)
	}
}

func TestExtractIgnoresPastClosingDate(t *testing.T) {
	meta := SourceMeta{SourceName: "portal", ReferenceTime: refTime}
	c := Extract("Tender for housing services. Closing date: 15 February 2020.", meta)
	if c == nil {
		t.Fatal("expected a candidate")
	}
	if c.ClosingDate != nil {
		t.Errorf("past date should be rejected, got %s", c.ClosingDate)
	}
}

func TestExtractDeterministic(t *testing.T) {
	meta := SourceMeta{
		SourceName:    "portal",
		SourceURL:     "https://example.org/tender/1",
		Keywords:      []string{"supported housing"},
		ReferenceTime: refTime,
	}
	text := "Tender for supported housing in Manchester. Value £450,000. Closing date: 1 March 2026."

	a := Extract(text, meta)
	b := Extract(text, meta)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("extraction is not deterministic:\n%+v\n%+v", a, b)
	}
}
