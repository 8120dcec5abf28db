package pattern

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/probid/tender-radar/internal/models"
)

// A buyer whose awards recur at most this often is treated as likely to
// procure again soon.
const reprocurementIntervalDays = 180

var reprocurementLanguage = []string{
	"renew", "re-procure", "re-tender", "replace", "upcoming",
	"future contract", "new procurement", "next phase", "market engagement",
}

var preferenceIndicators = []string{
	"prefer", "requirement", "essential", "important", "priority",
	"experience in", "track record", "demonstrated", "evidence of", "key criteria",
}

var genericPreferences = []string{"value for money", "high quality", "cost effective"}

var sentenceSplitRe = regexp.MustCompile(`[.!?]\s+`)

// Predict summarizes a buyer's award history. It needs at least two
// records to say anything; fewer returns nil, which is insufficient data,
// not an error. The summary is derived and safe to regenerate at any time.
func Predict(buyerName string, awards []models.AwardRecord) *models.PatternSummary {
	var buyerAwards []models.AwardRecord
	for _, a := range awards {
		if a.BuyerName == buyerName {
			buyerAwards = append(buyerAwards, a)
		}
	}
	if len(buyerAwards) < 2 {
		return nil
	}

	summary := &models.PatternSummary{
		BuyerName:  buyerName,
		AwardCount: len(buyerAwards),
	}

	// Mean of the values that actually parsed; a missing value is excluded,
	// never counted as zero.
	var sum float64
	var n int
	for _, a := range buyerAwards {
		if a.Value != nil {
			sum += *a.Value
			n++
		}
	}
	if n > 0 {
		avg := sum / float64(n)
		summary.AverageValue = &avg
	}

	dates := awardDates(buyerAwards)
	if len(dates) >= 2 {
		summary.LastAwardDate = dates[len(dates)-1]
		summary.MeanIntervalDays = meanIntervalDays(dates)
		if summary.MeanIntervalDays > 0 {
			next := summary.LastAwardDate.AddDate(0, 0, int(summary.MeanIntervalDays))
			// Month-level only: the projection is too uncertain for a date.
			summary.NextProcurement = next.Format("January 2006")
		}
	}

	summary.CommonWinners = commonWinners(buyerAwards, 3)

	var textParts []string
	for _, a := range buyerAwards {
		textParts = append(textParts, a.Title, a.Snippet)
	}
	allText := strings.ToLower(strings.Join(textParts, " "))
	summary.PreferencePhrases = extractPreferences(allText, 5)

	summary.LikelyToReprocure = likelyToReprocure(summary, buyerAwards, allText)

	return summary
}

func awardDates(awards []models.AwardRecord) []time.Time {
	var dates []time.Time
	for _, a := range awards {
		if a.AwardDate != nil {
			dates = append(dates, *a.AwardDate)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// meanIntervalDays averages the day-gaps between consecutive dates.
// Non-positive gaps (same-day or out-of-order records) are excluded.
func meanIntervalDays(sorted []time.Time) float64 {
	var sum float64
	var n int
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Sub(sorted[i-1]).Hours() / 24
		if gap > 0 {
			sum += gap
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func commonWinners(awards []models.AwardRecord, top int) []string {
	counts := make(map[string]int)
	for _, a := range awards {
		if a.WinnerName != "" {
			counts[a.WinnerName]++
		}
	}
	winners := make([]string, 0, len(counts))
	for w := range counts {
		winners = append(winners, w)
	}
	sort.Slice(winners, func(i, j int) bool {
		if counts[winners[i]] != counts[winners[j]] {
			return counts[winners[i]] > counts[winners[j]]
		}
		return winners[i] < winners[j]
	})
	if len(winners) > top {
		winners = winners[:top]
	}
	return winners
}

// extractPreferences pulls short phrases from sentences containing a
// preference indicator, skipping boilerplate.
func extractPreferences(textLower string, max int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, sentence := range sentenceSplitRe.Split(textLower, -1) {
		if !containsAny(sentence, preferenceIndicators) {
			continue
		}
		phrase := strings.TrimSpace(sentence)
		if len(phrase) <= 10 || len(phrase) >= 150 {
			continue
		}
		if containsAny(phrase, genericPreferences) || seen[phrase] {
			continue
		}
		seen[phrase] = true
		out = append(out, phrase)
		if len(out) >= max {
			break
		}
	}
	return out
}

// likelyToReprocure is true when the buyer procures frequently, their
// contract values are strictly increasing, or recent award text talks
// about re-procurement.
func likelyToReprocure(summary *models.PatternSummary, awards []models.AwardRecord, allText string) bool {
	if summary.MeanIntervalDays > 0 && summary.MeanIntervalDays <= reprocurementIntervalDays {
		return true
	}
	if valuesStrictlyIncreasing(awards) {
		return true
	}
	return containsAny(allText, reprocurementLanguage)
}

// valuesStrictlyIncreasing walks the records in date order and checks each
// parsed value beats the previous one. Needs at least two parsed values.
func valuesStrictlyIncreasing(awards []models.AwardRecord) bool {
	ordered := make([]models.AwardRecord, len(awards))
	copy(ordered, awards)
	sort.Slice(ordered, func(i, j int) bool {
		ti, tj := time.Time{}, time.Time{}
		if ordered[i].AwardDate != nil {
			ti = *ordered[i].AwardDate
		}
		if ordered[j].AwardDate != nil {
			tj = *ordered[j].AwardDate
		}
		return ti.Before(tj)
	})

	var prev *float64
	count := 0
	for i := range ordered {
		v := ordered[i].Value
		if v == nil {
			continue
		}
		if prev != nil && *v <= *prev {
			return false
		}
		prev = v
		count++
	}
	return count >= 2
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
