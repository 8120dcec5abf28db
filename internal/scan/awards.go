package scan

import (
	"regexp"
	"strings"

	"github.com/probid/tender-radar/internal/extract"
	"github.com/probid/tender-radar/internal/models"
)

// Award notices name the winning supplier with a small set of stock
// phrasings. Each pattern captures the supplier name up to the next
// sentence boundary.
var winnerRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)awarded\s+to[:\s]+([A-Z][A-Za-z0-9&'.,\- ]{2,80}?)(?:\s+(?:for|in|on|under|at)\b|[.;\n]|$)`),
	regexp.MustCompile(`(?i)won\s+by[:\s]+([A-Z][A-Za-z0-9&'.,\- ]{2,80}?)(?:\s+(?:for|in|on|under|at)\b|[.;\n]|$)`),
	regexp.MustCompile(`(?i)successful\s+(?:bidder|supplier|tenderer)[:\s]+(?:is\s+|was\s+)?([A-Z][A-Za-z0-9&'.,\- ]{2,80}?)(?:\s+(?:for|in|on|under|at)\b|[.;\n]|$)`),
	regexp.MustCompile(`(?i)contract\s+(?:has\s+been\s+)?awarded\s+to[:\s]+([A-Z][A-Za-z0-9&'.,\- ]{2,80}?)(?:\s+(?:for|in|on|under|at)\b|[.;\n]|$)`),
	regexp.MustCompile(`(?i)supplier[:\s]+([A-Z][A-Za-z0-9&'.,\- ]{2,80}?)(?:[.;\n]|$)`),
}

var awardBuyerRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:contracting\s+authority|buyer|authority|commissioned\s+by)[:\s]+([A-Z][A-Za-z0-9&'.,\- ]{2,80}?)(?:[.;\n]|$)`),
	regexp.MustCompile(`(?i)awarded\s+by[:\s]+([A-Z][A-Za-z0-9&'.,\- ]{2,80}?)(?:[.;\n]|$)`),
}

// ParseAwardNotice pulls a structured award record out of notice text.
// Returns nil when no winning supplier can be identified; a notice
// without a winner tells us nothing about buyer patterns.
func ParseAwardNotice(rawText, sourceURL, buyerHint string) *models.AwardRecord {
	text := extract.TruncateText(extract.SanitizeUTF8(rawText), 50000)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	winner := firstMatch(winnerRes, text)
	if winner == "" {
		return nil
	}

	buyer := buyerHint
	if buyer == "" {
		buyer = firstMatch(awardBuyerRes, text)
	}
	if buyer == "" {
		return nil
	}

	rec := &models.AwardRecord{
		BuyerName:  buyer,
		WinnerName: winner,
		Title:      awardTitle(text),
		Snippet:    extract.TruncateText(text, 500),
		SourceURL:  sourceURL,
	}
	rec.Value = extract.ParseContractValue(text)
	rec.AwardDate = extract.FirstDate(text)
	return rec
}

func firstMatch(res []*regexp.Regexp, text string) string {
	for _, re := range res {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			name := strings.Trim(strings.TrimSpace(m[1]), ".,;:")
			if len(name) >= 3 {
				return name
			}
		}
	}
	return ""
}

// awardTitle takes the first non-trivial line as the notice title.
func awardTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) >= 15 {
			return extract.TruncateText(line, 255)
		}
	}
	return extract.TruncateText(strings.TrimSpace(text), 255)
}
