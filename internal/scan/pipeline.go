package scan

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/probid/tender-radar/internal/config"
	"github.com/probid/tender-radar/internal/db"
	"github.com/probid/tender-radar/internal/dedup"
	"github.com/probid/tender-radar/internal/extract"
	"github.com/probid/tender-radar/internal/models"
	"github.com/probid/tender-radar/internal/pattern"
	"github.com/probid/tender-radar/internal/score"
)

const (
	defaultWorkers        = 4
	predictedSaveMinScore = 65.0
	predictedBonus        = 15.0
)

// Store is the persistence surface a scan cycle needs.
type Store interface {
	Upsert(ctx context.Context, o *models.Opportunity) (bool, error)
	RefreshAsDuplicate(ctx context.Context, existingID uuid.UUID, o *models.Opportunity) error
	DedupCandidates(ctx context.Context, profile string, limit int) ([]db.DedupCandidate, error)
	SupersedePredictions(ctx context.Context, profile, buyerName string) (int, error)
	AppendAward(ctx context.Context, a *models.AwardRecord) error
	BuyersWithAwardCounts(ctx context.Context, minAwards int) (map[string]int, error)
	AwardsByBuyer(ctx context.Context, buyerName string) ([]models.AwardRecord, error)
	StartScanRun(ctx context.Context) (uuid.UUID, error)
	FinishScanRun(ctx context.Context, run db.ScanRun) error
}

// Notifier dispatches pending alerts for one profile and reports how many
// went out.
type Notifier interface {
	Notify(ctx context.Context, profile *config.Profile) (int, error)
}

// Pipeline runs a full scan cycle: fetch every registered source, extract
// and score candidates per profile, merge duplicates, record award
// notices, predict re-procurements, then dispatch notifications.
type Pipeline struct {
	Store    Store
	Fetcher  Fetcher
	Crawler  *Crawler
	Registry *Registry
	Profiles []config.Profile
	Engine   *score.Engine
	Notifier Notifier
	Workers  int
	Now      func() time.Time
}

type fetchedPage struct {
	src   Source
	url   string
	text  string
	isPDF bool
}

// preparePage normalizes a fetched body for extraction: PDF bodies get
// their text layer pulled out, HTML is flattened to plain text.
func preparePage(src Source, pageURL, body string) (fetchedPage, error) {
	pg := fetchedPage{src: src, url: pageURL}
	switch {
	case strings.HasPrefix(body, "%PDF-") || strings.HasSuffix(strings.ToLower(pageURL), ".pdf"):
		text, err := extract.ExtractPDFText([]byte(body))
		if err != nil {
			return pg, fmt.Errorf("%w: %s: %v", ErrParse, pageURL, err)
		}
		pg.text = text
		pg.isPDF = true
	case strings.Contains(body, "<html") || strings.Contains(body, "<body") || strings.Contains(body, "</"):
		pg.text = extract.HTMLToText(body)
	default:
		pg.text = body
	}
	return pg, nil
}

// sigEntry caches one stored opportunity's fuzzy signature for the run.
type sigEntry struct {
	id  uuid.UUID
	sig dedup.Signature
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Run executes one cycle. Source failures are skipped and reported in the
// summary; a persistence failure aborts the cycle.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	workers := p.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	runID, err := p.Store.StartScanRun(ctx)
	if err != nil {
		log.Printf("scan: could not record run start: %v", err)
	}

	summary := &Summary{}
	var (
		mu     sync.Mutex
		failed []string
	)

	results := make(chan fetchedPage, 64)
	prod, pctx := errgroup.WithContext(ctx)
	prod.SetLimit(workers)

	go func() {
		for _, src := range p.Registry.Sources {
			src := src
			prod.Go(func() error {
				pages, err := p.collect(pctx, src)
				if err != nil {
					log.Printf("scan: source %s failed: %v", src.ID, err)
					mu.Lock()
					failed = append(failed, src.ID)
					mu.Unlock()
					return nil
				}
				for _, pg := range pages {
					select {
					case results <- pg:
					case <-pctx.Done():
						return pctx.Err()
					}
				}
				return nil
			})
		}
		prod.Wait()
		close(results)
	}()

	if err := p.consume(ctx, results, summary); err != nil {
		p.finishRun(ctx, runID, summary, failed, err)
		return summary, err
	}

	if err := p.predictOpportunities(ctx, summary); err != nil {
		log.Printf("scan: prediction pass: %v", err)
	}

	if p.Notifier != nil {
		for i := range p.Profiles {
			n, err := p.Notifier.Notify(ctx, &p.Profiles[i])
			summary.NotifiedCount += n
			if err != nil {
				log.Printf("scan: notify %s: %v", p.Profiles[i].Name, err)
			}
		}
	}

	summary.FailedSources = failed
	p.finishRun(ctx, runID, summary, failed, nil)
	return summary, nil
}

func (p *Pipeline) finishRun(ctx context.Context, runID uuid.UUID, s *Summary, failed []string, runErr error) {
	if runID == uuid.Nil {
		return
	}
	run := db.ScanRun{
		ID:            runID,
		Status:        "completed",
		NewCount:      s.NewCount,
		UpdatedCount:  s.UpdatedCount,
		NotifiedCount: s.NotifiedCount,
		FailedSources: failed,
	}
	if runErr != nil {
		run.Status = "failed"
		run.Error = runErr.Error()
	} else if len(failed) > 0 {
		run.Status = "completed_with_errors"
	}
	if err := p.Store.FinishScanRun(ctx, run); err != nil {
		log.Printf("scan: could not record run end: %v", err)
	}
}

// collect fetches everything one source yields. Listing and awards
// sources are crawled for tender links first; page sources are fetched
// directly.
func (p *Pipeline) collect(ctx context.Context, src Source) ([]fetchedPage, error) {
	if src.Kind == "page" {
		body, _, err := p.Fetcher.Fetch(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		pg, err := preparePage(src, src.URL, body)
		if err != nil {
			return nil, err
		}
		return []fetchedPage{pg}, nil
	}

	links, err := p.Crawler.DiscoverLinks(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	max := src.MaxLinks
	if max <= 0 {
		max = 5
	}
	if len(links) > max {
		links = links[:max]
	}

	var pages []fetchedPage
	for _, l := range links {
		body, _, err := p.Fetcher.Fetch(ctx, l.URL)
		if err != nil {
			log.Printf("scan: %s: skipping %s: %v", src.ID, l.URL, err)
			continue
		}
		pg, err := preparePage(src, l.URL, body)
		if err != nil {
			log.Printf("scan: %s: skipping %s: %v", src.ID, l.URL, err)
			continue
		}
		pages = append(pages, pg)
	}
	if len(pages) == 0 && len(links) > 0 {
		return nil, fmt.Errorf("%w: %s: no pages retrievable", ErrSourceUnavailable, src.URL)
	}
	return pages, nil
}

// consume is the single writer. One goroutine owns all store writes and
// the per-profile signature cache, so counts and dedup decisions never
// race.
func (p *Pipeline) consume(ctx context.Context, results <-chan fetchedPage, summary *Summary) error {
	sigs := make(map[string][]sigEntry)
	var failure error
	for pg := range results {
		if failure != nil {
			continue
		}
		if err := p.processPage(ctx, pg, sigs, summary); err != nil {
			failure = fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	return failure
}

func (p *Pipeline) processPage(ctx context.Context, pg fetchedPage, sigs map[string][]sigEntry, summary *Summary) error {
	if pg.src.Kind == "awards" {
		rec := ParseAwardNotice(pg.text, pg.url, pg.src.BuyerHint)
		if rec == nil {
			return nil
		}
		return p.Store.AppendAward(ctx, rec)
	}

	textLower := strings.ToLower(pg.text)
	for _, profile := range p.profilesFor(pg.src, textLower) {
		meta := extract.SourceMeta{
			SourceName:    pg.src.Name,
			SourceURL:     pg.url,
			BuyerHint:     pg.src.BuyerHint,
			Keywords:      profile.Keywords,
			ReferenceTime: p.now(),
		}
		cand := extract.Extract(pg.text, meta)
		if cand == nil {
			continue
		}
		if cand.ClosingDate == nil && pg.isPDF {
			// Tender PDFs often carry the deadline in a timetable with no
			// keyword nearby; the earliest future date stands in for it.
			if dates := extract.PDFClosingDates(pg.text, p.now()); len(dates) > 0 {
				cand.ClosingDate = &dates[0]
				cand.Signals["closing_date_source"] = "pdf_timetable"
			}
		}
		opp := p.Engine.Score(cand, profile)
		opp.Profile = profile.Name
		opp.Fingerprint = dedup.Fingerprint(pg.url, cand.Text)

		if err := p.persist(ctx, &opp, profile.Name, sigs, summary); err != nil {
			return err
		}
	}
	return nil
}

// persist merges a scored opportunity into the store. A closing date
// already in the past drops the row. Fuzzy title+buyer overlap folds it
// into an existing row; otherwise the fingerprint upsert decides new
// versus refreshed.
func (p *Pipeline) persist(ctx context.Context, opp *models.Opportunity, profile string, sigs map[string][]sigEntry, summary *Summary) error {
	if !score.Actionable(opp.ClosingDate, p.now()) {
		log.Printf("scan: skipping %q: closing date already passed", opp.Title)
		return nil
	}

	entries, ok := sigs[profile]
	if !ok {
		stored, err := p.Store.DedupCandidates(ctx, profile, 0)
		if err != nil {
			return err
		}
		entries = make([]sigEntry, 0, len(stored))
		for _, c := range stored {
			entries = append(entries, sigEntry{id: c.ID, sig: dedup.SignatureOf(c.Title, c.BuyerName)})
		}
	}

	sig := dedup.SignatureOf(opp.Title, opp.BuyerName)
	for _, e := range entries {
		if e.id != opp.ID && dedup.IsDuplicate(sig, e.sig) {
			if err := p.Store.RefreshAsDuplicate(ctx, e.id, opp); err != nil {
				return err
			}
			summary.UpdatedCount++
			sigs[profile] = entries
			return nil
		}
	}

	inserted, err := p.Store.Upsert(ctx, opp)
	if err != nil {
		return err
	}
	if inserted {
		summary.NewCount++
		entries = append(entries, sigEntry{id: opp.ID, sig: sig})
		n, err := p.Store.SupersedePredictions(ctx, profile, opp.BuyerName)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Printf("scan: superseded %d prediction(s) for %s", n, opp.BuyerName)
		}
	} else {
		summary.UpdatedCount++
	}
	sigs[profile] = entries
	return nil
}

// profilesFor decides which profiles a page is scored against. Sources
// pinned to profiles use that list; open portals match on profile
// keywords in the page text.
func (p *Pipeline) profilesFor(src Source, textLower string) []*config.Profile {
	var out []*config.Profile
	for i := range p.Profiles {
		prof := &p.Profiles[i]
		if len(src.Profiles) > 0 {
			for _, name := range src.Profiles {
				if strings.EqualFold(name, prof.Name) {
					out = append(out, prof)
					break
				}
			}
			continue
		}
		for _, kw := range prof.Keywords {
			if strings.Contains(textLower, strings.ToLower(kw)) {
				out = append(out, prof)
				break
			}
		}
	}
	return out
}

// predictOpportunities synthesizes opportunities from buyer award history.
// A buyer with enough awards and re-procurement signals yields one
// predicted row per interested profile, saved only above the minimum
// score.
func (p *Pipeline) predictOpportunities(ctx context.Context, summary *Summary) error {
	buyers, err := p.Store.BuyersWithAwardCounts(ctx, 2)
	if err != nil {
		return err
	}
	for buyer := range buyers {
		awards, err := p.Store.AwardsByBuyer(ctx, buyer)
		if err != nil {
			return err
		}
		ps := pattern.Predict(buyer, awards)
		if ps == nil || !ps.LikelyToReprocure {
			continue
		}
		for i := range p.Profiles {
			prof := &p.Profiles[i]
			if !p.profileInterested(prof, buyer, awards) {
				continue
			}
			opp := p.synthesizePrediction(prof, buyer, ps, awards)
			if opp.Score < predictedSaveMinScore {
				continue
			}
			inserted, err := p.Store.Upsert(ctx, opp)
			if err != nil {
				return err
			}
			if inserted {
				summary.NewCount++
			} else {
				summary.UpdatedCount++
			}
		}
	}
	return nil
}

func (p *Pipeline) profileInterested(prof *config.Profile, buyer string, awards []models.AwardRecord) bool {
	for _, b := range prof.ExistingBuyers {
		if strings.EqualFold(b, buyer) {
			return true
		}
	}
	var sb strings.Builder
	for _, a := range awards {
		sb.WriteString(strings.ToLower(a.Title))
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(a.Snippet))
		sb.WriteByte(' ')
	}
	history := sb.String()
	for _, kw := range prof.Keywords {
		if strings.Contains(history, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (p *Pipeline) synthesizePrediction(prof *config.Profile, buyer string, ps *models.PatternSummary, awards []models.AwardRecord) *models.Opportunity {
	var desc strings.Builder
	fmt.Fprintf(&desc, "%s has awarded %d similar contracts and is expected to procure again around %s.",
		buyer, ps.AwardCount, ps.NextProcurement)
	if len(ps.PreferencePhrases) > 0 {
		desc.WriteString(" Buyer preferences: ")
		desc.WriteString(strings.Join(ps.PreferencePhrases, "; "))
		desc.WriteString(".")
	}

	cand := &extract.Candidate{
		Title:          fmt.Sprintf("Predicted procurement from %s (%s)", buyer, ps.NextProcurement),
		Description:    desc.String(),
		Source:         "pattern-predictor",
		SourceURL:      "",
		BuyerName:      buyer,
		EstimatedValue: ps.AverageValue,
		Text:           desc.String(),
		Signals:        map[string]interface{}{},
	}
	opp := p.Engine.Score(cand, prof)

	opp.Score = math.Min(100, opp.Score+predictedBonus)
	if trail, ok := opp.Signals["score_trail"].([]score.Applied); ok {
		opp.Signals["score_trail"] = append(trail, score.Applied{Rule: "predicted_reprocurement", Delta: predictedBonus})
	}
	opp.Signals["pattern"] = map[string]interface{}{
		"award_count":        ps.AwardCount,
		"mean_interval_days": ps.MeanIntervalDays,
		"next_procurement":   ps.NextProcurement,
		"common_winners":     ps.CommonWinners,
	}
	opp.FollowUp = score.FollowUpFor(opp.Score)
	opp.Status = models.StatusPredicted
	opp.Profile = prof.Name
	// Keyed on the buyer alone so a shifted month estimate refreshes the
	// existing row instead of inserting a sibling.
	opp.Fingerprint = dedup.Fingerprint("predicted:"+strings.ToLower(buyer), buyer)
	return &opp
}
