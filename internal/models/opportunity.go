package models

import (
	"time"

	"github.com/google/uuid"
)

// Opportunity lifecycle states. An opportunity is never deleted; superseded
// records are marked, not removed.
const (
	StatusCandidate  = "candidate"
	StatusScored     = "scored"
	StatusNotified   = "notified"
	StatusPredicted  = "predicted"
	StatusSuperseded = "superseded"
)

// Competition levels assigned by the scoring engine.
const (
	CompetitionLow    = "Low"
	CompetitionMedium = "Medium"
	CompetitionHigh   = "High"
)

type Opportunity struct {
	ID               uuid.UUID              `json:"id"`
	Fingerprint      string                 `json:"fingerprint"`
	Profile          string                 `json:"profile"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	Source           string                 `json:"source"`
	SourceURL        string                 `json:"source_url"`
	BuyerName        string                 `json:"buyer_name"`
	EstimatedValue   *float64               `json:"estimated_value"`
	ProfitMarginPct  *float64               `json:"profit_margin_pct"`
	ClosingDate      *time.Time             `json:"closing_date"`
	Status           string                 `json:"status"`
	Score            float64                `json:"score"`
	ProfitProb       float64                `json:"profit_probability"`
	WinProb          float64                `json:"win_probability"`
	CompetitionLevel string                 `json:"competition_level"`
	FollowUp         string                 `json:"follow_up"`
	Signals          map[string]interface{} `json:"signals"`
	FirstSeen        time.Time              `json:"first_seen"`
	LastSeen         time.Time              `json:"last_seen"`
	NotifiedAt       *time.Time             `json:"notified_at"`
}

// AwardRecord is a historical fact: a buyer awarded a contract of a given
// value to a given winner on a given date. Append-only.
type AwardRecord struct {
	ID         uuid.UUID  `json:"id"`
	BuyerName  string     `json:"buyer_name"`
	WinnerName string     `json:"winner_name"`
	Value      *float64   `json:"value"`
	AwardDate  *time.Time `json:"award_date"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	SourceURL  string     `json:"source_url"`
	CreatedAt  time.Time  `json:"created_at"`
}

// PatternSummary is a derived view over a buyer's award history. It is
// recomputed on demand and never persisted as ground truth.
type PatternSummary struct {
	BuyerName         string    `json:"buyer_name"`
	AwardCount        int       `json:"award_count"`
	AverageValue      *float64  `json:"average_value"`
	MeanIntervalDays  float64   `json:"mean_interval_days"`
	NextProcurement   string    `json:"next_procurement"` // month-level estimate, e.g. "March 2027"
	CommonWinners     []string  `json:"common_winners"`
	PreferencePhrases []string  `json:"preference_phrases"`
	LikelyToReprocure bool      `json:"likely_to_reprocure"`
	LastAwardDate     time.Time `json:"last_award_date"`
}
