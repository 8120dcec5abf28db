package extract

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	rpdf "rsc.io/pdf"
)

// ExtractPDFText pulls the text layer out of a PDF tender document. The
// parser panics on some malformed files, so recover and report instead.
func ExtractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}

	return builder.String(), nil
}

// PDFClosingDates scans extracted PDF text for future dates. Tender PDFs
// often carry the deadline in a timetable rather than prose, so every date
// token is considered, not just those near deadline keywords. Results are
// ascending and deduplicated.
func PDFClosingDates(text string, ref time.Time) []time.Time {
	seen := make(map[time.Time]bool)
	var out []time.Time
	for _, re := range dateSnippetRes {
		for _, tok := range re.FindAllString(text, -1) {
			t, ok := parseDateToken(tok)
			if !ok || !t.After(ref) || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
