package extract

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

var deadlineKeywordRe = regexp.MustCompile(`(?i)\b(closing date|closing|deadline|submission by|submissions due|return by|submit by|closes)\b`)

var dateSnippetRes = []*regexp.Regexp{
	regexp.MustCompile(`\b20\d{2}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}[./-]\d{1,2}[./-]20\d{2}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}(?:st|nd|rd|th)?\s+(?:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.?\s*,?\s*20\d{2}\b`),
	regexp.MustCompile(`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{1,2},?\s+20\d{2}\b`),
}

var ordinalRe = regexp.MustCompile(`(\d+)(st|nd|rd|th)`)

var dateFormats = []string{
	"2006-01-02",
	"2 January 2006",
	"02 January 2006",
	"2 January, 2006",
	"2 Jan 2006",
	"2 Jan, 2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
}

// ParseClosingDate finds a date near a deadline-indicating keyword. Only
// dates strictly after ref are accepted; past dates are noise, not
// deadlines. When several future dates qualify the earliest wins. Returns
// nil when no acceptable date is found.
func ParseClosingDate(text string, ref time.Time) *time.Time {
	var best *time.Time
	for _, kw := range deadlineKeywordRe.FindAllStringIndex(text, -1) {
		// Dates typically follow the keyword within a short span.
		end := kw[1] + 120
		if end > len(text) {
			end = len(text)
		}
		window := text[kw[1]:end]

		for _, re := range dateSnippetRes {
			for _, tok := range re.FindAllString(window, -1) {
				t, ok := parseDateToken(tok)
				if !ok || !t.After(ref) {
					continue
				}
				if best == nil || t.Before(*best) {
					tt := t
					best = &tt
				}
			}
		}
	}
	return best
}

func parseDateToken(tok string) (time.Time, bool) {
	clean := ordinalRe.ReplaceAllString(strings.TrimSpace(tok), "$1")
	if strings.IndexFunc(clean, unicode.IsLetter) >= 0 {
		// "10 Jan. 2026": the dot belongs to the month abbreviation.
		clean = strings.ReplaceAll(clean, ".", "")
	} else {
		// "10.01.2026": dotted numeric dates read as slashed ones.
		clean = strings.ReplaceAll(clean, ".", "/")
	}
	clean = cleanText(clean)
	for _, format := range dateFormats {
		if t, err := time.Parse(format, clean); err == nil {
			return toEndOfDay(t), true
		}
	}
	return time.Time{}, false
}

// FirstDate returns the first parseable date token anywhere in the text,
// with no future-only constraint. Award notices reference past dates, so
// the closing-date rules do not apply.
func FirstDate(text string) *time.Time {
	for _, re := range dateSnippetRes {
		if tok := re.FindString(text); tok != "" {
			if t, ok := parseDateToken(tok); ok {
				return &t
			}
		}
	}
	return nil
}

// toEndOfDay sets the time to 23:59:59 UTC so a deadline stays actionable
// through its final day.
func toEndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}
