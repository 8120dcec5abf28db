package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/probid/tender-radar/internal/config"
	"github.com/probid/tender-radar/internal/models"
)

const (
	colorUrgent = 0xFF0000
	colorHigh   = 0xFF6600
	colorGood   = 0xFFCC00

	maxEmbedDescription = 450
)

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
	Timestamp string `json:"timestamp"`
}

type webhookPayload struct {
	Content string  `json:"content"`
	Embeds  []embed `json:"embeds"`
}

// WebhookNotifier posts rich embeds to a Discord-compatible webhook.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// NewWebhookNotifier reads NOTIFY_WEBHOOK_URL. Returns nil when no
// webhook is configured, which disables notifications.
func NewWebhookNotifier() *WebhookNotifier {
	url := os.Getenv("NOTIFY_WEBHOOK_URL")
	if url == "" {
		return nil
	}
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, profile *config.Profile, opps []models.Opportunity) error {
	payload := webhookPayload{
		Content: fmt.Sprintf("%d high-value opportunities for %s", len(opps), profile.Name),
	}
	for i := range opps {
		payload.Embeds = append(payload.Embeds, buildEmbed(&opps[i]))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func buildEmbed(o *models.Opportunity) embed {
	e := embed{
		Title:       "Opportunity: " + o.Title,
		Description: truncate(o.Description, maxEmbedDescription),
		URL:         o.SourceURL,
		Color:       colorForScore(o.Score),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	e.Footer.Text = fmt.Sprintf("Source: %s | ID: %s", o.Source, o.ID)

	e.Fields = []embedField{
		{Name: "Buyer", Value: orUnknown(o.BuyerName), Inline: true},
		{Name: "Est. Value", Value: formatMoney(o.EstimatedValue), Inline: true},
		{Name: "Win Prob.", Value: fmt.Sprintf("%.1f%%", o.WinProb), Inline: true},
		{Name: "Competition", Value: orUnknown(o.CompetitionLevel), Inline: true},
		{Name: "Profit Prob.", Value: fmt.Sprintf("%.1f%%", o.ProfitProb), Inline: true},
		{Name: "Score", Value: fmt.Sprintf("%.1f/100", o.Score), Inline: true},
	}
	if o.ClosingDate != nil {
		e.Fields = append(e.Fields, embedField{
			Name: "Closing Date", Value: o.ClosingDate.Format("02 Jan 2006"), Inline: true,
		})
	}
	if o.FollowUp != "" {
		e.Fields = append(e.Fields, embedField{
			Name: "Follow-up Actions", Value: truncate(o.FollowUp, 1000),
		})
	}
	if p := profitEstimate(o); p != "" {
		e.Fields = append(e.Fields, embedField{Name: "Profit Estimate", Value: p, Inline: true})
	}
	return e
}

func colorForScore(score float64) int {
	switch {
	case score >= 90:
		return colorUrgent
	case score >= 85:
		return colorHigh
	default:
		return colorGood
	}
}

func formatMoney(v *float64) string {
	if v == nil || *v <= 0 {
		return "Unknown"
	}
	switch {
	case *v >= 1_000_000:
		return fmt.Sprintf("£%.1fM", *v/1_000_000)
	case *v >= 1_000:
		return fmt.Sprintf("£%.1fK", *v/1_000)
	default:
		return fmt.Sprintf("£%.0f", *v)
	}
}

func profitEstimate(o *models.Opportunity) string {
	if o.ProfitMarginPct == nil || o.EstimatedValue == nil || *o.EstimatedValue <= 0 {
		return ""
	}
	amount := (*o.ProfitMarginPct / 100) * *o.EstimatedValue
	return fmt.Sprintf("Est. Profit: %s (%.1f%%)", formatMoney(&amount), *o.ProfitMarginPct)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
