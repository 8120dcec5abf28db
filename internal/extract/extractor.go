package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxTitleLen = 255

// SourceMeta carries the page context the caller already knows. The
// reference time is supplied here so extraction stays deterministic for a
// fixed input; it is the cutoff for accepting closing dates.
type SourceMeta struct {
	SourceName    string
	SourceURL     string
	BuyerHint     string
	Keywords      []string
	ReferenceTime time.Time
}

// Candidate is an unscored extraction result.
type Candidate struct {
	Title          string
	Description    string
	Source         string
	SourceURL      string
	BuyerName      string
	EstimatedValue *float64
	ClosingDate    *time.Time
	Text           string
	Signals        map[string]interface{}
}

var titlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:tender|contract|opportunity|procurement|callout)\s+for\s+([^.\n]+)`),
	regexp.MustCompile(`(?i)(?:invitation|call)\s+to\s+(?:tender|bid)\s+for\s+([^.\n]+)`),
	regexp.MustCompile(`(?i)(?:seeking|looking for|request for)\s+(?:providers|proposals|quotations|bids)\s+(?:for\s+)?([^.\n]+)`),
	regexp.MustCompile(`(?i)procurement\s+of\s+([^.\n]+)`),
	regexp.MustCompile(`(?i)commission(?:ing)?\s+(?:of\s+)?([^.\n]+)`),
}

var institutionalKeywords = []string{"council", "authority", "trust", "nhs", "government", "commissioning"}

// Capitalized word runs that can read as an organization name.
var orgCandidateRe = regexp.MustCompile(`\b(?:NHS\s+)?[A-Z][A-Za-z&'-]*(?:\s+(?:of|and|&|for)?\s*[A-Z][A-Za-z&'-]*)*\b`)

var buyerLabelRe = regexp.MustCompile(`(?i)(?:contracting authority|buyer|commissioning body)\s*[:\-]\s*([^\n.;]+)`)

var sentenceSplitRe = regexp.MustCompile(`[.!?]\s+`)

var descriptionMarkers = []string{
	"scope of", "specification", "description of", "overview of",
	"we are seeking", "the authority requires", "service requirement",
	"contract description", "background", "summary of requirement",
}

// Extract parses raw text into a structured candidate. Returns nil on
// empty or whitespace-only input; that is an expected outcome, not an
// error. Extraction is deterministic: same text and meta, same candidate.
func Extract(rawText string, meta SourceMeta) *Candidate {
	text := cleanText(SanitizeUTF8(rawText))
	if text == "" {
		return nil
	}
	textLower := strings.ToLower(text)

	c := &Candidate{
		Source:    meta.SourceName,
		SourceURL: meta.SourceURL,
		Text:      text,
		Signals:   map[string]interface{}{},
	}

	c.Title = extractTitle(text, textLower, meta, c.Signals)
	c.Description = extractDescription(text, textLower)
	c.BuyerName = resolveBuyer(text, meta, c.Signals)

	if v := ParseContractValue(text); v != nil {
		c.EstimatedValue = v
		c.Signals["estimated_value"] = *v
	}
	if d := ParseClosingDate(text, meta.ReferenceTime); d != nil {
		c.ClosingDate = d
		c.Signals["closing_date"] = d.Format(time.RFC3339)
	}

	return c
}

func extractTitle(text, textLower string, meta SourceMeta, signals map[string]interface{}) string {
	for i, re := range titlePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			signals["title_rule"] = fmt.Sprintf("pattern_%d", i)
			return TruncateText(cleanText(m[1]), maxTitleLen)
		}
	}

	// Fall back to the first sentence mentioning a profile keyword.
	if len(meta.Keywords) > 0 {
		for _, sentence := range sentenceSplitRe.Split(text, -1) {
			sl := strings.ToLower(sentence)
			for _, kw := range meta.Keywords {
				if strings.Contains(sl, strings.ToLower(kw)) {
					signals["title_rule"] = "keyword_sentence"
					return TruncateText(cleanText(sentence), maxTitleLen)
				}
			}
		}
	}

	signals["title_rule"] = "synthesized"
	if meta.BuyerHint != "" {
		return TruncateText("Potential opportunity with "+meta.BuyerHint, maxTitleLen)
	}
	return TruncateText("Potential opportunity from "+meta.SourceName, maxTitleLen)
}

func extractDescription(text, textLower string) string {
	start := 0
	for _, marker := range descriptionMarkers {
		if pos := strings.Index(textLower, marker); pos > -1 {
			start = pos
			break
		}
	}
	end := start + 1000
	if end > len(text) {
		end = len(text)
	}
	desc := text[start:end]
	if len(desc) < 100 && start > 0 {
		end = 1000
		if end > len(text) {
			end = len(text)
		}
		desc = text[:end]
	}
	return SanitizeHTML(desc)
}

// resolveBuyer applies the priority order: caller hint, then an
// organization-shaped phrase containing an institutional keyword, then an
// explicit label. First hit wins.
func resolveBuyer(text string, meta SourceMeta, signals map[string]interface{}) string {
	if meta.BuyerHint != "" {
		signals["buyer_source"] = "hint"
		return cleanText(meta.BuyerHint)
	}

	for _, candidate := range orgCandidateRe.FindAllString(text, 40) {
		if len(candidate) < 8 || len(candidate) > 80 {
			continue
		}
		cl := strings.ToLower(candidate)
		for _, kw := range institutionalKeywords {
			if strings.Contains(cl, kw) {
				signals["buyer_source"] = "org_entity"
				return cleanText(candidate)
			}
		}
	}

	if m := buyerLabelRe.FindStringSubmatch(text); m != nil {
		signals["buyer_source"] = "label"
		return cleanText(m[1])
	}
	return ""
}
