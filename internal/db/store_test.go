package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/probid/tender-radar/internal/models"
)

// testStore connects and migrates, skipping when no database is
// reachable (local dev only).
func testStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	pool, err := Connect(ctx)
	if err != nil {
		t.Skip("Database not available, skipping integration test")
	}
	t.Cleanup(pool.Close)
	if err := ApplyMigrations(ctx, pool); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return NewStore(pool)
}

func testOpportunity(profile string, scoreVal float64) *models.Opportunity {
	id := uuid.New()
	return &models.Opportunity{
		ID:          id,
		Fingerprint: fmt.Sprintf("test-%s", id.String()[:16]),
		Profile:     profile,
		Title:       "Supported housing services " + id.String()[:8],
		Description: "Test opportunity",
		Source:      "test-source",
		SourceURL:   "https://example.org/" + id.String()[:8],
		BuyerName:   "Hackney Council",
		Status:      models.StatusScored,
		Score:       scoreVal,
		ProfitProb:  60,
		WinProb:     55,
		FollowUp:    "INVESTIGATE FURTHER",
		Signals:     map[string]interface{}{"test": true},
	}
}

func TestUpsertInsertAndMerge(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	o := testOpportunity("EzziUK", 72)
	inserted, err := store.Upsert(ctx, o)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("first upsert must insert")
	}

	// Same fingerprint with a weaker score: the stronger score survives.
	weaker := testOpportunity("EzziUK", 40)
	weaker.Fingerprint = o.Fingerprint
	inserted, err = store.Upsert(ctx, weaker)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if inserted {
		t.Fatal("second upsert of the same fingerprint must not insert")
	}

	got, err := store.GetOpportunity(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("row disappeared after refresh")
	}
	if got.Score != 72 {
		t.Errorf("weaker rescan must not lower the score, got %v", got.Score)
	}
	if got.LastSeen.Before(got.FirstSeen) {
		t.Errorf("last_seen %v precedes first_seen %v", got.LastSeen, got.FirstSeen)
	}
}

func TestUpsertSameFingerprintDifferentProfiles(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	a := testOpportunity("EzziUK", 70)
	b := testOpportunity("RehabilityUK", 70)
	b.Fingerprint = a.Fingerprint

	for _, o := range []*models.Opportunity{a, b} {
		inserted, err := store.Upsert(ctx, o)
		if err != nil {
			t.Fatalf("upsert %s: %v", o.Profile, err)
		}
		if !inserted {
			t.Errorf("profile %s must get its own row", o.Profile)
		}
	}
}

func TestQueryAboveThresholdAndMarkNotified(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	profile := "test-notify-" + uuid.New().String()[:8]
	high := testOpportunity(profile, 91)
	low := testOpportunity(profile, 55)
	for _, o := range []*models.Opportunity{high, low} {
		if _, err := store.Upsert(ctx, o); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	opps, err := store.QueryAboveThreshold(ctx, profile, 80, true, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(opps) != 1 || opps[0].ID != high.ID {
		t.Fatalf("expected only the high scorer, got %d rows", len(opps))
	}

	if err := store.MarkNotified(ctx, high.ID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	opps, err = store.QueryAboveThreshold(ctx, profile, 80, true, 10)
	if err != nil {
		t.Fatalf("requery: %v", err)
	}
	if len(opps) != 0 {
		t.Errorf("notified rows must drop out of the unnotified query, got %d", len(opps))
	}

	got, err := store.GetOpportunity(ctx, high.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusNotified || got.NotifiedAt == nil {
		t.Errorf("expected notified status with timestamp, got %s %v", got.Status, got.NotifiedAt)
	}
}

func TestDedupCandidatesScopedToProfile(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	profile := "test-dedup-" + uuid.New().String()[:8]
	o := testOpportunity(profile, 60)
	if _, err := store.Upsert(ctx, o); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rows, err := store.DedupCandidates(ctx, profile, 100)
	if err != nil {
		t.Fatalf("dedup candidates: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(rows))
	}
	if rows[0].ID != o.ID || rows[0].Title != o.Title || rows[0].BuyerName != o.BuyerName {
		t.Errorf("unexpected projection %+v", rows[0])
	}

	rows, err = store.DedupCandidates(ctx, "test-other-"+uuid.New().String()[:8], 100)
	if err != nil {
		t.Fatalf("other profile: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("candidates must be scoped to their profile, got %d", len(rows))
	}
}

func TestRefreshAsDuplicateKeepsStrongerScore(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	profile := "test-refresh-" + uuid.New().String()[:8]
	existing := testOpportunity(profile, 80)
	if _, err := store.Upsert(ctx, existing); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rescored := testOpportunity(profile, 65)
	v := 350_000.0
	rescored.EstimatedValue = &v
	if err := store.RefreshAsDuplicate(ctx, existing.ID, rescored); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got, err := store.GetOpportunity(ctx, existing.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Score != 80 {
		t.Errorf("weaker duplicate must not lower the score, got %v", got.Score)
	}
	if got.EstimatedValue == nil || *got.EstimatedValue != 350_000 {
		t.Errorf("missing fields must fill in from the duplicate, got %v", got.EstimatedValue)
	}
	if got.Fingerprint != existing.Fingerprint {
		t.Errorf("the existing row keeps its fingerprint, got %s", got.Fingerprint)
	}
}

func TestSupersedePredictions(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	profile := "test-supersede-" + uuid.New().String()[:8]
	predicted := testOpportunity(profile, 70)
	predicted.Status = models.StatusPredicted
	if _, err := store.Upsert(ctx, predicted); err != nil {
		t.Fatalf("seed prediction: %v", err)
	}
	scored := testOpportunity(profile, 75)
	if _, err := store.Upsert(ctx, scored); err != nil {
		t.Fatalf("seed scored: %v", err)
	}

	n, err := store.SupersedePredictions(ctx, profile, "hackney COUNCIL")
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 retired prediction, got %d", n)
	}

	got, err := store.GetOpportunity(ctx, predicted.ID)
	if err != nil {
		t.Fatalf("get prediction: %v", err)
	}
	if got.Status != models.StatusSuperseded {
		t.Errorf("prediction must be retired, got %q", got.Status)
	}
	other, err := store.GetOpportunity(ctx, scored.ID)
	if err != nil {
		t.Fatalf("get scored: %v", err)
	}
	if other.Status != models.StatusScored {
		t.Errorf("scored rows must be untouched, got %q", other.Status)
	}
}

func TestAwardHistory(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	buyer := "Test Council " + uuid.New().String()[:8]
	v1, v2 := 200_000.0, 300_000.0
	d1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	awards := []*models.AwardRecord{
		{BuyerName: buyer, WinnerName: "Acme Care Ltd", Value: &v1, AwardDate: &d1, Title: "First contract", SourceURL: "https://example.org/a1"},
		{BuyerName: buyer, WinnerName: "Beta Support CIC", Value: &v2, AwardDate: &d2, Title: "Second contract", SourceURL: "https://example.org/a2"},
	}
	for _, a := range awards {
		if err := store.AppendAward(ctx, a); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	counts, err := store.BuyersWithAwardCounts(ctx, 2)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[buyer] != 2 {
		t.Errorf("expected 2 awards for %s, got %d", buyer, counts[buyer])
	}

	got, err := store.AwardsByBuyer(ctx, buyer)
	if err != nil {
		t.Fatalf("awards by buyer: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 awards back, got %d", len(got))
	}
	for _, a := range got {
		if a.BuyerName != buyer {
			t.Errorf("stray buyer %q in history", a.BuyerName)
		}
	}
}

func TestScanRunLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id, err := store.StartScanRun(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected a run id")
	}

	err = store.FinishScanRun(ctx, ScanRun{
		ID:            id,
		Status:        "completed_with_errors",
		NewCount:      3,
		UpdatedCount:  1,
		FailedSources: []string{"broken-source"},
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	runs, err := store.RecentScanRuns(ctx, 50)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for _, r := range runs {
		if r.ID == id {
			if r.Status != "completed_with_errors" || r.NewCount != 3 {
				t.Errorf("unexpected run record %+v", r)
			}
			if r.EndedAt == nil {
				t.Error("finished run must have an end time")
			}
			return
		}
	}
	t.Errorf("run %s not in recent runs", id)
}
