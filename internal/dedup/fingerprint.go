package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// DuplicateThreshold is the minimum word-set overlap ratio at which two
// candidates are considered the same opportunity re-described.
const DuplicateThreshold = 0.8

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true,
	"the": true, "to": true, "with": true, "will": true, "this": true,
	"that": true, "its": true, "into": true, "via": true,
}

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

// Fingerprint derives the stable identity of an opportunity from its
// source URL and normalized text, so rescanning the same page is
// idempotent.
func Fingerprint(sourceURL, normalizedText string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(strings.ToLower(sourceURL))))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(strings.Fields(strings.ToLower(normalizedText)), " ")))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Signature is the order-independent set of significant words in a
// candidate's title and buyer name.
type Signature map[string]bool

// SignatureOf tokenizes title + buyer, drops stopwords, and returns the
// resulting word set.
func SignatureOf(title, buyer string) Signature {
	sig := make(Signature)
	for _, w := range wordRe.FindAllString(strings.ToLower(title+" "+buyer), -1) {
		if len(w) < 2 || stopwords[w] {
			continue
		}
		sig[w] = true
	}
	return sig
}

// Words returns the signature's words in sorted order, for stable logging
// and test assertions.
func (s Signature) Words() []string {
	out := make([]string, 0, len(s))
	for w := range s {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Jaccard computes |A∩B| / |A∪B|. Two empty signatures overlap fully.
func Jaccard(a, b Signature) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// IsDuplicate reports whether two signatures describe the same
// opportunity. Exact-hash equality is not enough here; the same tender is
// routinely re-phrased across sources.
func IsDuplicate(a, b Signature) bool {
	return Jaccard(a, b) >= DuplicateThreshold
}
