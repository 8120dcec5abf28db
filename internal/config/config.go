package config

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml rules.yaml
var configFS embed.FS

// Profile is the static configuration for one business unit. Immutable at
// run time; the scoring engine reads it, nothing writes it.
type Profile struct {
	Name             string   `yaml:"name"`
	Keywords         []string `yaml:"keywords"`
	IdealValueMin    float64  `yaml:"ideal_value_min"`
	IdealValueMax    float64  `yaml:"ideal_value_max"`
	MinProfitMargin  float64  `yaml:"min_profit_margin"` // percent
	ExistingBuyers   []string `yaml:"existing_buyers"`
	Competitors      []string `yaml:"competitors"`
	GeographicFocus  []string `yaml:"geographic_focus"`
	SuccessSignals   []string `yaml:"success_signals"`
	NotifyThreshold  float64  `yaml:"notify_threshold"`
	NotifyBatchLimit int      `yaml:"notify_batch_limit"`
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// Rule is one entry in the declarative scoring table: a set of phrases and
// the weight each match contributes.
type Rule struct {
	Name   string   `yaml:"name"`
	Any    []string `yaml:"any"`
	Weight float64  `yaml:"weight"`
}

// CappedVocabulary contributes weight-per-match up to a cap.
type CappedVocabulary struct {
	Name    string   `yaml:"name"`
	Phrases []string `yaml:"phrases"`
	Weight  float64  `yaml:"weight"`
	Cap     float64  `yaml:"cap"`
}

// RuleTable is the single consolidated source of scoring constants, loaded
// once from the embedded rules.yaml.
type RuleTable struct {
	Base              float64            `yaml:"base"`
	Penalties         []Rule             `yaml:"penalties"`
	Bonuses           []Rule             `yaml:"bonuses"`
	Vocabularies      []CappedVocabulary `yaml:"vocabularies"`
	UrgencyTerms      []string           `yaml:"urgency_terms"`
	UrgencyPerMatch   float64            `yaml:"urgency_per_match"`
	UrgencyCap        float64            `yaml:"urgency_cap"`
	ExistingBuyer     float64            `yaml:"existing_buyer_bonus"`
	ValueInRange      float64            `yaml:"value_in_range_bonus"`
	ValueFarOutside   float64            `yaml:"value_far_outside_penalty"`
	LowCompetition    []string           `yaml:"low_competition"`
	HighCompetition   []string           `yaml:"high_competition"`
	ComplexitySignals []string           `yaml:"complexity_signals"`

	// Weights for profile-supplied match lists. The phrases come from the
	// profile; the weights stay in the rule table with everything else.
	SuccessSignalPerMatch float64 `yaml:"success_signal_per_match"`
	SuccessSignalCap      float64 `yaml:"success_signal_cap"`
	CompetitorMention     float64 `yaml:"competitor_mention_penalty"`
	MarginMeetsMinimum    float64 `yaml:"margin_meets_minimum_bonus"`
	MarginBelowMinimum    float64 `yaml:"margin_below_minimum_penalty"`
}

// LoadProfiles reads the embedded profiles.yaml, with a filesystem fallback
// for local overrides. Environment variables in the YAML are expanded.
func LoadProfiles(path string) ([]Profile, error) {
	data, err := configFS.ReadFile("profiles.yaml")
	if err != nil {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load profiles: %w", err)
		}
	}
	var f profileFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	for i := range f.Profiles {
		if f.Profiles[i].NotifyThreshold == 0 {
			f.Profiles[i].NotifyThreshold = 80
		}
		if f.Profiles[i].NotifyBatchLimit == 0 {
			f.Profiles[i].NotifyBatchLimit = 5
		}
	}
	return f.Profiles, nil
}

// ProfileByName returns the named profile or an error listing what exists.
func ProfileByName(profiles []Profile, name string) (*Profile, error) {
	for i := range profiles {
		if profiles[i].Name == name {
			return &profiles[i], nil
		}
	}
	return nil, fmt.Errorf("unknown profile %q (%d profiles loaded)", name, len(profiles))
}

// LoadRules reads the embedded rules.yaml.
func LoadRules() (*RuleTable, error) {
	data, err := configFS.ReadFile("rules.yaml")
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	var t RuleTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if t.Base == 0 {
		t.Base = 50
	}
	return &t, nil
}
