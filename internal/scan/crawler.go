package scan

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

var tenderLinkTerms = []string{"tender", "contract", "opportunity", "procurement", "commission"}

// Crawler discovers tender-looking links on listing pages. It stays
// polite: per-domain delay with a random component, robots.txt honored.
type Crawler struct {
	UserAgent   string
	Timeout     time.Duration
	DomainDelay time.Duration
	MaxLinks    int
}

func NewCrawler() *Crawler {
	return &Crawler{
		UserAgent:   fetchUserAgent,
		Timeout:     30 * time.Second,
		DomainDelay: time.Second,
		MaxLinks:    5,
	}
}

// DiscoverLinks visits a listing page and returns anchors whose text reads
// like a procurement notice, resolved to absolute URLs.
func (c *Crawler) DiscoverLinks(ctx context.Context, listURL string) ([]Link, error) {
	parsed, err := url.Parse(listURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, listURL, err)
	}

	collector := colly.NewCollector(
		colly.UserAgent(c.UserAgent),
		colly.AllowedDomains(parsed.Host),
		colly.MaxBodySize(10<<20),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	)
	collector.SetRequestTimeout(c.Timeout)
	collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       c.DomainDelay,
		RandomDelay: c.DomainDelay / 2,
	})

	var links []Link
	seen := make(map[string]bool)
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if len(links) >= c.MaxLinks {
			return
		}
		text := strings.ToLower(strings.TrimSpace(e.Text))
		if text == "" {
			return
		}
		match := false
		for _, term := range tenderLinkTerms {
			if strings.Contains(text, term) {
				match = true
				break
			}
		}
		if !match {
			return
		}
		abs := e.Request.AbsoluteURL(e.Attr("href"))
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, Link{URL: abs, Text: strings.TrimSpace(e.Text)})
	})

	var visitErr error
	collector.OnError(func(r *colly.Response, err error) {
		visitErr = err
	})

	if err := collector.Visit(listURL); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, listURL, err)
	}
	collector.Wait()

	if visitErr != nil && len(links) == 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, listURL, visitErr)
	}
	return links, nil
}
