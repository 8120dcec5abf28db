package score

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/probid/tender-radar/internal/config"
	"github.com/probid/tender-radar/internal/extract"
	"github.com/probid/tender-radar/internal/models"
)

// Follow-up tiers keyed on the composite score.
const (
	followUpImmediate = "IMMEDIATE ACTION: Contact procurement team directly. Request pre-market engagement. Review historical tender documents and pricing."
	followUpHigh      = "HIGH PRIORITY: Contact buyer to discuss requirements. Research previous similar contracts and prepare key qualification materials."
	followUpInvest    = "INVESTIGATE FURTHER: Gather more information on requirements and buyer needs. Evaluate resources needed for competitive bid."
	followUpMonitor   = "MONITOR: Track but low priority. Consider only if pipeline is light or if strategic value exists."
)

// Applied records one scoring rule that contributed to the composite
// score. The full list is persisted with the opportunity so every score is
// explainable after the fact.
type Applied struct {
	Rule  string  `json:"rule"`
	Delta float64 `json:"delta"`
}

type Engine struct {
	rules *config.RuleTable
}

func NewEngine(rules *config.RuleTable) *Engine {
	return &Engine{rules: rules}
}

// Score turns a candidate into a scored opportunity for one profile. It
// never fails: a missing optional field is neutral, not an error, and the
// same candidate and profile always produce the same result.
func (e *Engine) Score(c *extract.Candidate, profile *config.Profile) models.Opportunity {
	textLower := strings.ToLower(c.Text)
	trail := []Applied{{Rule: "base", Delta: e.rules.Base}}
	total := e.rules.Base

	signals := map[string]interface{}{}
	for k, v := range c.Signals {
		signals[k] = v
	}

	apply := func(rule string, delta float64) {
		if delta == 0 {
			return
		}
		trail = append(trail, Applied{Rule: rule, Delta: delta})
		total += delta
	}

	for _, r := range e.rules.Penalties {
		if matchesAny(textLower, r.Any) {
			apply(r.Name, r.Weight)
		}
	}
	for _, r := range e.rules.Bonuses {
		if matchesAny(textLower, r.Any) {
			apply(r.Name, r.Weight)
		}
	}

	for _, vocab := range e.rules.Vocabularies {
		matched := matchingPhrases(textLower, vocab.Phrases)
		if len(matched) == 0 {
			continue
		}
		contribution := vocab.Weight * float64(len(matched))
		if contribution > vocab.Cap {
			contribution = vocab.Cap
		}
		apply(vocab.Name, contribution)
		signals[vocab.Name] = matched
	}

	existingBuyer := c.BuyerName != "" && containsExact(profile.ExistingBuyers, c.BuyerName)
	if existingBuyer {
		apply("existing_buyer", e.rules.ExistingBuyer)
		signals["existing_client"] = true
	}

	valueAlignment := classifyValue(c.EstimatedValue, profile)
	switch valueAlignment {
	case valueIdeal:
		apply("value_in_ideal_range", e.rules.ValueInRange)
	case valueFarOutside:
		apply("value_far_outside_range", e.rules.ValueFarOutside)
	}

	urgencyMatches := matchingPhrases(textLower, e.rules.UrgencyTerms)
	if len(urgencyMatches) > 0 {
		contribution := e.rules.UrgencyPerMatch * float64(len(urgencyMatches))
		if contribution > e.rules.UrgencyCap {
			contribution = e.rules.UrgencyCap
		}
		apply("urgency", contribution)
		signals["urgency_terms"] = urgencyMatches
	}

	if matched := matchingPhrases(textLower, profile.SuccessSignals); len(matched) > 0 {
		contribution := e.rules.SuccessSignalPerMatch * float64(len(matched))
		if contribution > e.rules.SuccessSignalCap {
			contribution = e.rules.SuccessSignalCap
		}
		apply("profile_success_signal", contribution)
		signals["profile_success_signals"] = matched
	}

	competitorHits := matchingPhrases(textLower, profile.Competitors)
	if len(competitorHits) > 0 {
		apply("competitor_mentioned", e.rules.CompetitorMention)
		signals["competitors_mentioned"] = competitorHits
	}

	margin := e.estimateMargin(c.EstimatedValue, textLower, signals)
	if margin != nil && profile.MinProfitMargin > 0 {
		if *margin >= profile.MinProfitMargin {
			apply("margin_meets_profile_minimum", e.rules.MarginMeetsMinimum)
		} else {
			apply("margin_below_profile_minimum", e.rules.MarginBelowMinimum)
		}
	}

	competition := e.classifyCompetition(textLower)
	geoMatch := matchesAny(textLower, profile.GeographicFocus)

	profitProb, winProb := e.subScores(competition, existingBuyer, geoMatch, len(competitorHits) > 0, valueAlignment)

	composite := clamp(total, 0, 100)
	signals["score_trail"] = trail

	opp := models.Opportunity{
		ID:               uuid.New(),
		Profile:          profile.Name,
		Title:            c.Title,
		Description:      c.Description,
		Source:           c.Source,
		SourceURL:        c.SourceURL,
		BuyerName:        c.BuyerName,
		EstimatedValue:   c.EstimatedValue,
		ClosingDate:      c.ClosingDate,
		Status:           models.StatusScored,
		Score:            composite,
		ProfitProb:       profitProb,
		WinProb:          winProb,
		CompetitionLevel: competition,
		FollowUp:         FollowUpFor(composite),
		ProfitMarginPct:  margin,
		Signals:          signals,
	}

	return opp
}

type valueClass int

const (
	valueUnknown valueClass = iota
	valueIdeal
	valueOutside
	valueFarOutside
)

func classifyValue(v *float64, profile *config.Profile) valueClass {
	if v == nil {
		return valueUnknown
	}
	if *v >= profile.IdealValueMin && *v <= profile.IdealValueMax {
		return valueIdeal
	}
	if *v > profile.IdealValueMax*2 || *v < profile.IdealValueMin*0.5 {
		return valueFarOutside
	}
	return valueOutside
}

func (e *Engine) classifyCompetition(textLower string) string {
	if matchesAny(textLower, e.rules.LowCompetition) {
		return models.CompetitionLow
	}
	if matchesAny(textLower, e.rules.HighCompetition) {
		return models.CompetitionHigh
	}
	return models.CompetitionMedium
}

// subScores computes profit and win probability independently of the
// additive composite. Both start at 50 and are clamped to [5,95] so no
// opportunity ever reads as certain either way.
func (e *Engine) subScores(competition string, existingBuyer, geoMatch, competitorMention bool, va valueClass) (float64, float64) {
	profit, win := 50.0, 50.0

	switch competition {
	case models.CompetitionLow:
		profit += 20
		win += 15
	case models.CompetitionHigh:
		profit -= 10
		win -= 10
	}
	if existingBuyer {
		profit += 15
		win += 30
	}
	if competitorMention {
		profit -= 5
		win -= 10
	}
	if geoMatch {
		win += 10
	}
	switch va {
	case valueIdeal:
		profit += 10
	case valueFarOutside:
		profit -= 10
	}

	return clamp(profit, 5, 95), clamp(win, 5, 95)
}

// estimateMargin applies the tiered base margin by value band and adjusts
// for competition, urgency, and complexity signals. Returns nil when the
// value is unknown.
func (e *Engine) estimateMargin(value *float64, textLower string, signals map[string]interface{}) *float64 {
	if value == nil {
		return nil
	}
	var base float64
	switch {
	case *value >= 1_000_000:
		base = 12
	case *value >= 500_000:
		base = 15
	case *value >= 100_000:
		base = 18
	default:
		base = 20
	}

	adjustment := 0.0
	adjustment -= 1.0 * float64(len(matchingPhrases(textLower, e.rules.HighCompetition)))
	adjustment += 2.0 * float64(len(matchingPhrases(textLower, e.rules.UrgencyTerms)))
	adjustment += 1.5 * float64(len(matchingPhrases(textLower, e.rules.ComplexitySignals)))

	margin := clamp(base+adjustment, 8, 30)
	signals["margin_calculation"] = map[string]float64{
		"base":       base,
		"adjustment": adjustment,
		"final":      margin,
	}
	return &margin
}

// FollowUpFor maps a composite score to its follow-up tier.
func FollowUpFor(score float64) string {
	switch {
	case score >= 85:
		return followUpImmediate
	case score >= 70:
		return followUpHigh
	case score >= 50:
		return followUpInvest
	default:
		return followUpMonitor
	}
}

func matchesAny(textLower string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(textLower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func matchingPhrases(textLower string, phrases []string) []string {
	var out []string
	for _, p := range phrases {
		if p != "" && strings.Contains(textLower, strings.ToLower(p)) {
			out = append(out, p)
		}
	}
	return out
}

func containsExact(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Actionable reports whether an opportunity may be created in an
// actionable state. A closing date already in the past means the window is
// gone no matter how strong the signals were.
func Actionable(closing *time.Time, now time.Time) bool {
	return closing == nil || closing.After(now)
}
