package scan

import (
	"context"
	"errors"
)

// Error taxonomy for a scan cycle. Transient source failures are retried
// then skipped; parse trouble degrades fields; persistence failures abort
// the cycle; notification failures leave the opportunity unnotified for
// the next run.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrParse             = errors.New("parse failure")
	ErrPersistence       = errors.New("persistence failure")
	ErrNotify            = errors.New("notification failure")
)

// Fetcher retrieves a URL as text. Non-2xx responses and network errors
// are both reported as ErrSourceUnavailable; callers treat them the same.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (text string, statusCode int, err error)
}

// Summary is what one scan cycle reports back.
type Summary struct {
	NewCount      int      `json:"new_count"`
	UpdatedCount  int      `json:"updated_count"`
	NotifiedCount int      `json:"notified_count"`
	FailedSources []string `json:"failed_sources,omitempty"`
}

// Link is a tender-looking anchor discovered on a listing page.
type Link struct {
	URL  string
	Text string
}
