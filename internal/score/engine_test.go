package score

import (
	"strings"
	"testing"

	"github.com/probid/tender-radar/internal/config"
	"github.com/probid/tender-radar/internal/extract"
	"github.com/probid/tender-radar/internal/models"
)

func testProfile() *config.Profile {
	return &config.Profile{
		Name:            "EzziUK",
		Keywords:        []string{"supported housing"},
		IdealValueMin:   100_000,
		IdealValueMax:   5_000_000,
		ExistingBuyers:  []string{"London Borough of Hackney"},
		GeographicFocus: []string{"London", "Hackney"},
	}
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	rules, err := config.LoadRules()
	if err != nil {
		t.Fatalf("loading rules: %v", err)
	}
	return NewEngine(rules)
}

func TestScoreStrongOpportunity(t *testing.T) {
	e := testEngine(t)
	c := &extract.Candidate{
		Title:          "Supported housing placements in Hackney",
		BuyerName:      "London Borough of Hackney",
		EstimatedValue: f(500_000),
		Text:           "Direct award opportunity in Hackney. Urgent requirement for supported housing placements.",
		Signals:        map[string]interface{}{},
	}

	opp := e.Score(c, testProfile())

	// base 50 + direct_award 15 + urgent_requirement 10 + profit_signals 3
	// + existing buyer 15 + value in range 10 + urgency 5, clamped to 100.
	if opp.Score != 100 {
		t.Errorf("expected composite 100, got %v", opp.Score)
	}
	if opp.CompetitionLevel != "Low" {
		t.Errorf("expected Low competition, got %s", opp.CompetitionLevel)
	}
	if opp.ProfitProb != 95 {
		t.Errorf("expected profit probability clamped at 95, got %v", opp.ProfitProb)
	}
	if opp.WinProb != 95 {
		t.Errorf("expected win probability clamped at 95, got %v", opp.WinProb)
	}
	if !strings.HasPrefix(opp.FollowUp, "IMMEDIATE ACTION") {
		t.Errorf("expected immediate follow-up tier, got %q", opp.FollowUp)
	}
	if opp.ProfitMarginPct == nil {
		t.Fatal("expected a margin estimate")
	}
	// value band 500K gives base 15, one urgency term adds 2.
	if *opp.ProfitMarginPct != 17 {
		t.Errorf("expected margin 17, got %v", *opp.ProfitMarginPct)
	}
}

func TestScoreWeakOpportunity(t *testing.T) {
	e := testEngine(t)
	c := &extract.Candidate{
		Title:          "Framework notice",
		BuyerName:      "Somewhere Council",
		EstimatedValue: f(20_000_000),
		Text:           "Contract awarded following a highly competitive process with many providers.",
		Signals:        map[string]interface{}{},
	}

	opp := e.Score(c, testProfile())

	// base 50 - already_awarded 15 - value far outside 10 = 25.
	if opp.Score != 25 {
		t.Errorf("expected composite 25, got %v", opp.Score)
	}
	if opp.CompetitionLevel != "High" {
		t.Errorf("expected High competition, got %s", opp.CompetitionLevel)
	}
	if opp.ProfitProb != 30 {
		t.Errorf("expected profit probability 30, got %v", opp.ProfitProb)
	}
	if opp.WinProb != 40 {
		t.Errorf("expected win probability 40, got %v", opp.WinProb)
	}
	if !strings.HasPrefix(opp.FollowUp, "MONITOR") {
		t.Errorf("expected monitor tier, got %q", opp.FollowUp)
	}
}

func TestScoreUnknownValueIsNeutral(t *testing.T) {
	e := testEngine(t)
	c := &extract.Candidate{
		Title:   "Care services notice",
		Text:    "Community care services notice with no value stated.",
		Signals: map[string]interface{}{},
	}

	opp := e.Score(c, testProfile())

	trail, ok := opp.Signals["score_trail"].([]Applied)
	if !ok {
		t.Fatal("expected a score trail in signals")
	}
	for _, a := range trail {
		if a.Rule == "value_in_ideal_range" || a.Rule == "value_far_outside_range" {
			t.Errorf("unknown value must not trigger value rules, saw %s", a.Rule)
		}
	}
	if opp.ProfitMarginPct != nil {
		t.Errorf("unknown value must not produce a margin, got %v", *opp.ProfitMarginPct)
	}
}

func TestScoreVocabularyCap(t *testing.T) {
	e := testEngine(t)
	c := &extract.Candidate{
		Title: "Signals heavy notice",
		Text: "Urgent requirement with immediate start. Emergency placement under a block contract " +
			"with guaranteed volumes as a long term contract and framework agreement for the preferred provider.",
		Signals: map[string]interface{}{},
	}

	opp := e.Score(c, testProfile())

	trail := opp.Signals["score_trail"].([]Applied)
	for _, a := range trail {
		if a.Rule == "profit_signals" && a.Delta > 15 {
			t.Errorf("profit signals contribution must cap at 15, got %v", a.Delta)
		}
	}
}

func TestScoreAuditTrailStartsAtBase(t *testing.T) {
	e := testEngine(t)
	c := &extract.Candidate{
		Title:   "Plain notice",
		Text:    "Nothing remarkable in this notice at all.",
		Signals: map[string]interface{}{},
	}

	opp := e.Score(c, testProfile())

	trail, ok := opp.Signals["score_trail"].([]Applied)
	if !ok || len(trail) == 0 {
		t.Fatal("every scored opportunity must carry an audit trail")
	}
	if trail[0].Rule != "base" || trail[0].Delta != 50 {
		t.Errorf("trail must start with base 50, got %+v", trail[0])
	}

	var sum float64
	for _, a := range trail {
		sum += a.Delta
	}
	if sum != opp.Score {
		t.Errorf("trail deltas sum to %v but composite is %v", sum, opp.Score)
	}
}

func TestScoreMarginAgainstProfileMinimum(t *testing.T) {
	e := testEngine(t)
	p := testProfile()
	p.MinProfitMargin = 15

	good := &extract.Candidate{
		Title:          "Supported housing services",
		EstimatedValue: f(500_000),
		Text:           "Urgent requirement for supported housing services.",
		Signals:        map[string]interface{}{},
	}
	opp := e.Score(good, p)
	// value band 500K gives base 15, one urgency term adds 2: margin 17.
	if delta, ok := ruleDelta(opp, "margin_meets_profile_minimum"); !ok || delta != 5 {
		t.Errorf("margin 17 against minimum 15 must apply the bonus, got %v (applied %v)", delta, ok)
	}

	poor := &extract.Candidate{
		Title:          "Large framework",
		EstimatedValue: f(2_000_000),
		Text:           "Highly competitive process with many providers expected.",
		Signals:        map[string]interface{}{},
	}
	opp = e.Score(poor, p)
	// value band 2M gives base 12, two competition terms subtract 2: margin 10.
	if delta, ok := ruleDelta(opp, "margin_below_profile_minimum"); !ok || delta != -5 {
		t.Errorf("margin 10 against minimum 15 must apply the penalty, got %v (applied %v)", delta, ok)
	}
}

func TestScoreMarginRulesNeedAMinimum(t *testing.T) {
	e := testEngine(t)
	c := &extract.Candidate{
		Title:          "Supported housing services",
		EstimatedValue: f(500_000),
		Text:           "Supported housing services for adults.",
		Signals:        map[string]interface{}{},
	}

	opp := e.Score(c, testProfile())

	if _, ok := ruleDelta(opp, "margin_meets_profile_minimum"); ok {
		t.Error("profiles without a minimum margin must not trigger margin rules")
	}
	if _, ok := ruleDelta(opp, "margin_below_profile_minimum"); ok {
		t.Error("profiles without a minimum margin must not trigger margin rules")
	}
}

func TestScoreCompetitorMention(t *testing.T) {
	e := testEngine(t)
	p := testProfile()
	p.Competitors = []string{"Serco", "Mears Group"}

	c := &extract.Candidate{
		Title:          "Housing management retender",
		EstimatedValue: f(500_000),
		Text:           "Serco currently delivers this service and the contract is being retendered.",
		Signals:        map[string]interface{}{},
	}

	opp := e.Score(c, p)

	if delta, ok := ruleDelta(opp, "competitor_mentioned"); !ok || delta != -5 {
		t.Errorf("a named competitor must apply the penalty, got %v (applied %v)", delta, ok)
	}
	mentioned, ok := opp.Signals["competitors_mentioned"].([]string)
	if !ok || len(mentioned) != 1 || mentioned[0] != "Serco" {
		t.Errorf("expected Serco recorded in signals, got %v", opp.Signals["competitors_mentioned"])
	}
	// medium competition, value in range, competitor mention: 50 + 10 - 5
	// profit, 50 - 10 win.
	if opp.ProfitProb != 55 {
		t.Errorf("expected profit probability 55, got %v", opp.ProfitProb)
	}
	if opp.WinProb != 40 {
		t.Errorf("expected win probability 40, got %v", opp.WinProb)
	}
}

func TestScoreProfileSuccessSignalsCapped(t *testing.T) {
	e := testEngine(t)
	p := testProfile()
	p.SuccessSignals = []string{
		"urgent housing need", "emergency accommodation required",
		"temporary accommodation shortage", "housing provider failure",
	}

	c := &extract.Candidate{
		Title: "Borough housing pressures",
		Text: "Urgent housing need across the borough. Emergency accommodation required following " +
			"a temporary accommodation shortage and a housing provider failure.",
		Signals: map[string]interface{}{},
	}

	opp := e.Score(c, p)

	// Four matches at 4 each would be 16; the contribution caps at 12.
	if delta, ok := ruleDelta(opp, "profile_success_signal"); !ok || delta != 12 {
		t.Errorf("expected capped contribution 12, got %v (applied %v)", delta, ok)
	}
	matched, ok := opp.Signals["profile_success_signals"].([]string)
	if !ok || len(matched) != 4 {
		t.Errorf("expected all four phrases recorded, got %v", opp.Signals["profile_success_signals"])
	}
}

func TestScoreDeterministic(t *testing.T) {
	e := testEngine(t)
	c := &extract.Candidate{
		Title:          "Supported housing tender",
		BuyerName:      "Manchester City Council",
		EstimatedValue: f(750_000),
		Text:           "Urgent supported housing requirement in Manchester with limited market interest.",
		Signals:        map[string]interface{}{},
	}

	a := e.Score(c, testProfile())
	b := e.Score(c, testProfile())
	if a.Score != b.Score || a.ProfitProb != b.ProfitProb || a.WinProb != b.WinProb {
		t.Errorf("scoring is not deterministic: %v/%v/%v vs %v/%v/%v",
			a.Score, a.ProfitProb, a.WinProb, b.Score, b.ProfitProb, b.WinProb)
	}
}

func TestFollowUpTiers(t *testing.T) {
	tests := []struct {
		score  float64
		prefix string
	}{
		{92, "IMMEDIATE ACTION"},
		{85, "IMMEDIATE ACTION"},
		{84.9, "HIGH PRIORITY"},
		{70, "HIGH PRIORITY"},
		{69, "INVESTIGATE FURTHER"},
		{50, "INVESTIGATE FURTHER"},
		{49, "MONITOR"},
		{0, "MONITOR"},
	}
	for _, tt := range tests {
		if got := FollowUpFor(tt.score); !strings.HasPrefix(got, tt.prefix) {
			t.Errorf("score %v: expected %s tier, got %q", tt.score, tt.prefix, got)
		}
	}
}

func f(v float64) *float64 { return &v }

// ruleDelta finds one named rule in an opportunity's score trail.
func ruleDelta(opp models.Opportunity, rule string) (float64, bool) {
	trail, _ := opp.Signals["score_trail"].([]Applied)
	for _, a := range trail {
		if a.Rule == rule {
			return a.Delta, true
		}
	}
	return 0, false
}
