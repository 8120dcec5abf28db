package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Currency-prefixed numeric tokens, with optional magnitude suffix.
// "£1.2 million", "GBP 450,000", "€250k".
var valueTokenRe = regexp.MustCompile(`(?i)(?:£|\$|€|GBP|USD|EUR)\s*([\d][\d,]*(?:\.\d+)?)\s*(million|thousand|m|k)?\b`)

// Phrases like "value of 1.2 million" where the currency symbol is absent
// but the magnitude word makes the reading unambiguous.
var bareValueRe = regexp.MustCompile(`(?i)(?:value|worth|budget|funding|cost)(?:\s+is|\s+of)?\s+(?:approximately|approx|around|about|up to|at least)?\s*([\d][\d,]*(?:\.\d+)?)\s*(million|thousand)\b`)

// ParseContractValue extracts an estimated monetary value from free text.
// Ranges are reduced to their midpoint. Returns nil when nothing parseable
// is found; callers must treat that as unknown, never as zero.
func ParseContractValue(text string) *float64 {
	var amounts []float64

	for _, m := range valueTokenRe.FindAllStringSubmatch(text, -1) {
		if v, ok := parseValueToken(m[1], m[2]); ok {
			amounts = append(amounts, v)
		}
	}
	if len(amounts) == 0 {
		for _, m := range bareValueRe.FindAllStringSubmatch(text, -1) {
			if v, ok := parseValueToken(m[1], m[2]); ok {
				amounts = append(amounts, v)
			}
		}
	}
	if len(amounts) == 0 {
		return nil
	}

	min, max := amounts[0], amounts[0]
	for _, a := range amounts[1:] {
		if a < min {
			min = a
		}
		if a > max {
			max = a
		}
	}
	// A spread of values reads as a range; report the midpoint.
	mid := (min + max) / 2
	return &mid
}

func parseValueToken(number, suffix string) (float64, bool) {
	clean := strings.ReplaceAll(number, ",", "")
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	switch strings.ToLower(suffix) {
	case "million", "m":
		v *= 1_000_000
	case "thousand", "k":
		v *= 1_000
	}
	return v, true
}
