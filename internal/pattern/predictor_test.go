package pattern

import (
	"reflect"
	"testing"
	"time"

	"github.com/probid/tender-radar/internal/models"
)

func d(y int, m time.Month, day int) *time.Time {
	t := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func v(x float64) *float64 { return &x }

func TestPredictNeedsTwoAwards(t *testing.T) {
	tests := []struct {
		name   string
		awards []models.AwardRecord
	}{
		{name: "no history", awards: nil},
		{
			name: "single award",
			awards: []models.AwardRecord{
				{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", AwardDate: d(2025, 1, 1)},
			},
		},
		{
			name: "two awards but wrong buyer",
			awards: []models.AwardRecord{
				{BuyerName: "Kent County Council", AwardDate: d(2025, 1, 1)},
				{BuyerName: "Kent County Council", AwardDate: d(2025, 6, 1)},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Predict("Hackney Council", tt.awards); got != nil {
				t.Errorf("expected nil summary, got %+v", got)
			}
		})
	}
}

func TestPredictAveragesOnlyParsedValues(t *testing.T) {
	awards := []models.AwardRecord{
		{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", Value: v(100_000), AwardDate: d(2025, 1, 1)},
		{BuyerName: "Hackney Council", WinnerName: "Beta Support CIC", AwardDate: d(2025, 3, 1)},
		{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", Value: v(200_000), AwardDate: d(2025, 5, 1)},
	}

	s := Predict("Hackney Council", awards)
	if s == nil {
		t.Fatal("expected a summary")
	}
	if s.AwardCount != 3 {
		t.Errorf("expected 3 awards counted, got %d", s.AwardCount)
	}
	if s.AverageValue == nil || *s.AverageValue != 150_000 {
		t.Errorf("missing values must be excluded from the mean, got %v", s.AverageValue)
	}
}

func TestPredictIntervalAndNextProcurement(t *testing.T) {
	awards := []models.AwardRecord{
		{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", AwardDate: d(2025, 1, 1)},
		{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", AwardDate: d(2025, 5, 1)},
	}

	s := Predict("Hackney Council", awards)
	if s == nil {
		t.Fatal("expected a summary")
	}
	if s.MeanIntervalDays != 120 {
		t.Errorf("expected 120 day mean interval, got %v", s.MeanIntervalDays)
	}
	if !s.LastAwardDate.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected last award date %v", s.LastAwardDate)
	}
	// 2025-05-01 plus 120 days lands in late August.
	if s.NextProcurement != "August 2025" {
		t.Errorf("expected next procurement August 2025, got %q", s.NextProcurement)
	}
	if !s.LikelyToReprocure {
		t.Error("a 120 day cadence should read as likely to re-procure")
	}
}

func TestPredictCommonWinnersRanking(t *testing.T) {
	awards := []models.AwardRecord{
		{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", AwardDate: d(2024, 1, 1)},
		{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", AwardDate: d(2024, 7, 1)},
		{BuyerName: "Hackney Council", WinnerName: "Beta Support CIC", AwardDate: d(2025, 1, 1)},
		{BuyerName: "Hackney Council", WinnerName: "Delta Housing", AwardDate: d(2025, 7, 1)},
		{BuyerName: "Hackney Council", WinnerName: "Ceres Care", AwardDate: d(2026, 1, 1)},
	}

	s := Predict("Hackney Council", awards)
	if s == nil {
		t.Fatal("expected a summary")
	}
	want := []string{"Acme Care Ltd", "Beta Support CIC", "Ceres Care"}
	if !reflect.DeepEqual(s.CommonWinners, want) {
		t.Errorf("expected winners %v, got %v", want, s.CommonWinners)
	}
}

func TestPredictNotLikelyWhenStale(t *testing.T) {
	awards := []models.AwardRecord{
		{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", Value: v(300_000), AwardDate: d(2022, 1, 1),
			Title: "Housing support services", Snippet: "Annual block contract."},
		{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", Value: v(250_000), AwardDate: d(2024, 1, 1),
			Title: "Housing support services", Snippet: "Contract for accommodation."},
	}

	s := Predict("Hackney Council", awards)
	if s == nil {
		t.Fatal("expected a summary")
	}
	if s.LikelyToReprocure {
		t.Error("long gap, shrinking values, and no renewal language should not read as likely")
	}
}

func TestPredictGrowingSpendSignalsReprocurement(t *testing.T) {
	awards := []models.AwardRecord{
		{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", Value: v(200_000), AwardDate: d(2022, 1, 1)},
		{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", Value: v(450_000), AwardDate: d(2024, 1, 1)},
	}

	s := Predict("Hackney Council", awards)
	if s == nil {
		t.Fatal("expected a summary")
	}
	if !s.LikelyToReprocure {
		t.Error("strictly growing spend should read as likely despite the long gap")
	}
}

func TestPredictPreferencePhrases(t *testing.T) {
	awards := []models.AwardRecord{
		{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", AwardDate: d(2025, 1, 1),
			Snippet: "Experience in trauma-informed support is essential for this service. We want value for money."},
		{BuyerName: "Hackney Council", WinnerName: "Acme Care Ltd", AwardDate: d(2025, 5, 1),
			Snippet: "Ok."},
	}

	s := Predict("Hackney Council", awards)
	if s == nil {
		t.Fatal("expected a summary")
	}
	if len(s.PreferencePhrases) == 0 {
		t.Fatal("expected a preference phrase")
	}
	if s.PreferencePhrases[0] != "experience in trauma-informed support is essential for this service" {
		t.Errorf("unexpected phrase %q", s.PreferencePhrases[0])
	}
	for _, p := range s.PreferencePhrases {
		if p == "we want value for money" {
			t.Error("generic boilerplate must be skipped")
		}
	}
}
