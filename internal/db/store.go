package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/probid/tender-radar/internal/models"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const opportunityCols = `
	id, fingerprint, profile, title, description, source, source_url,
	buyer_name, estimated_value, profit_margin_pct, closing_date, status,
	score, profit_probability, win_probability, competition_level,
	follow_up, signals, first_seen, last_seen, notified_at`

func scanOpportunity(scan func(dest ...any) error) (*models.Opportunity, error) {
	var o models.Opportunity
	err := scan(
		&o.ID, &o.Fingerprint, &o.Profile, &o.Title, &o.Description,
		&o.Source, &o.SourceURL, &o.BuyerName, &o.EstimatedValue,
		&o.ProfitMarginPct, &o.ClosingDate, &o.Status, &o.Score,
		&o.ProfitProb, &o.WinProb, &o.CompetitionLevel, &o.FollowUp,
		&o.Signals, &o.FirstSeen, &o.LastSeen, &o.NotifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Upsert inserts an opportunity or refreshes the existing row sharing its
// (fingerprint, profile) identity. On conflict the stronger composite
// score wins together with its sub-scores, first_seen and any notified
// state are preserved, and last_seen advances. Returns true when a new row
// was created. The statement is a single atomic write, so concurrent
// upserts of the same fingerprint cannot lose updates or expose a
// half-written row.
func (s *Store) Upsert(ctx context.Context, o *models.Opportunity) (bool, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = models.StatusCandidate
	}
	now := time.Now().UTC()
	if o.FirstSeen.IsZero() {
		o.FirstSeen = now
	}
	if o.LastSeen.IsZero() {
		o.LastSeen = now
	}

	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO opportunities (
			id, fingerprint, profile, title, description, source, source_url,
			buyer_name, estimated_value, profit_margin_pct, closing_date, status,
			score, profit_probability, win_probability, competition_level,
			follow_up, signals, first_seen, last_seen
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
		)
		ON CONFLICT (fingerprint, profile) DO UPDATE SET
			title       = EXCLUDED.title,
			description = EXCLUDED.description,
			source      = EXCLUDED.source,
			source_url  = EXCLUDED.source_url,
			buyer_name  = CASE WHEN EXCLUDED.buyer_name <> '' THEN EXCLUDED.buyer_name ELSE opportunities.buyer_name END,
			estimated_value   = COALESCE(EXCLUDED.estimated_value, opportunities.estimated_value),
			profit_margin_pct = COALESCE(EXCLUDED.profit_margin_pct, opportunities.profit_margin_pct),
			closing_date      = COALESCE(EXCLUDED.closing_date, opportunities.closing_date),
			score              = GREATEST(opportunities.score, EXCLUDED.score),
			profit_probability = CASE WHEN EXCLUDED.score >= opportunities.score THEN EXCLUDED.profit_probability ELSE opportunities.profit_probability END,
			win_probability    = CASE WHEN EXCLUDED.score >= opportunities.score THEN EXCLUDED.win_probability ELSE opportunities.win_probability END,
			competition_level  = CASE WHEN EXCLUDED.score >= opportunities.score THEN EXCLUDED.competition_level ELSE opportunities.competition_level END,
			follow_up          = CASE WHEN EXCLUDED.score >= opportunities.score THEN EXCLUDED.follow_up ELSE opportunities.follow_up END,
			signals            = CASE WHEN EXCLUDED.score >= opportunities.score THEN EXCLUDED.signals ELSE opportunities.signals END,
			status    = CASE WHEN opportunities.notified_at IS NOT NULL THEN opportunities.status ELSE EXCLUDED.status END,
			last_seen = EXCLUDED.last_seen
		RETURNING (xmax = 0)
	`,
		o.ID, o.Fingerprint, o.Profile, o.Title, o.Description, o.Source,
		o.SourceURL, o.BuyerName, o.EstimatedValue, o.ProfitMarginPct,
		o.ClosingDate, o.Status, o.Score, o.ProfitProb, o.WinProb,
		o.CompetitionLevel, o.FollowUp, o.Signals, o.FirstSeen, o.LastSeen,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert opportunity: %w", err)
	}
	return inserted, nil
}

// RefreshAsDuplicate merges a new scoring of the same opportunity into an
// existing row found by fuzzy matching. Same merge policy as Upsert, keyed
// by id, keeping the existing row's fingerprint and creation time.
func (s *Store) RefreshAsDuplicate(ctx context.Context, existingID uuid.UUID, o *models.Opportunity) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET
			description = $2,
			source      = $3,
			source_url  = $4,
			estimated_value   = COALESCE($5, estimated_value),
			profit_margin_pct = COALESCE($6, profit_margin_pct),
			closing_date      = COALESCE($7, closing_date),
			profit_probability = CASE WHEN $8 >= score THEN $9 ELSE profit_probability END,
			win_probability    = CASE WHEN $8 >= score THEN $10 ELSE win_probability END,
			competition_level  = CASE WHEN $8 >= score THEN $11 ELSE competition_level END,
			follow_up          = CASE WHEN $8 >= score THEN $12 ELSE follow_up END,
			signals            = CASE WHEN $8 >= score THEN $13::jsonb ELSE signals END,
			score     = GREATEST(score, $8),
			last_seen = NOW()
		WHERE id = $1
	`, existingID, o.Description, o.Source, o.SourceURL, o.EstimatedValue,
		o.ProfitMarginPct, o.ClosingDate, o.Score, o.ProfitProb, o.WinProb,
		o.CompetitionLevel, o.FollowUp, o.Signals)
	if err != nil {
		return fmt.Errorf("refresh duplicate %s: %w", existingID, err)
	}
	return nil
}

// SupersedePredictions retires synthesized predictions for a buyer once a
// real tender from that buyer has been stored. Returns how many rows were
// retired.
func (s *Store) SupersedePredictions(ctx context.Context, profile, buyerName string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities
		SET status = $3, last_seen = NOW()
		WHERE profile = $1 AND LOWER(buyer_name) = LOWER($2) AND status = $4
	`, profile, buyerName, models.StatusSuperseded, models.StatusPredicted)
	if err != nil {
		return 0, fmt.Errorf("supersede predictions for %s: %w", buyerName, err)
	}
	return int(tag.RowsAffected()), nil
}

// DedupCandidate is the minimal projection the fuzzy matcher needs.
type DedupCandidate struct {
	ID        uuid.UUID
	Title     string
	BuyerName string
}

// DedupCandidates returns recent rows for a profile against which a new
// candidate should be fuzzy-matched. The store is the authority for dedup
// state; callers must not rely on their own cross-cycle seen-set.
func (s *Store) DedupCandidates(ctx context.Context, profile string, limit int) ([]DedupCandidate, error) {
	if limit <= 0 {
		limit = 2000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, buyer_name FROM opportunities
		WHERE profile = $1
		ORDER BY last_seen DESC
		LIMIT $2
	`, profile, limit)
	if err != nil {
		return nil, fmt.Errorf("list dedup candidates: %w", err)
	}
	defer rows.Close()

	var out []DedupCandidate
	for rows.Next() {
		var c DedupCandidate
		if err := rows.Scan(&c.ID, &c.Title, &c.BuyerName); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// QueryAboveThreshold returns opportunities for a profile at or above
// minScore, highest score first, ties broken by most recent last_seen.
// With unnotifiedOnly set, rows that were ever notified are excluded.
// Superseded predictions never qualify.
func (s *Store) QueryAboveThreshold(ctx context.Context, profile string, minScore float64, unnotifiedOnly bool, limit int) ([]models.Opportunity, error) {
	query := `SELECT ` + opportunityCols + `
		FROM opportunities
		WHERE profile = $1 AND score >= $2 AND status <> '` + models.StatusSuperseded + `'`
	if unnotifiedOnly {
		query += ` AND notified_at IS NULL`
	}
	query += ` ORDER BY score DESC, last_seen DESC`
	args := []any{profile, minScore}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query above threshold: %w", err)
	}
	defer rows.Close()

	var out []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// MarkNotified records that an opportunity was dispatched. Idempotent: the
// first call sets notified_at and flips the status, repeat calls are
// no-ops, so an opportunity can never be notified twice.
func (s *Store) MarkNotified(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE opportunities
		SET notified_at = NOW(), status = $2
		WHERE id = $1 AND notified_at IS NULL
	`, id, models.StatusNotified)
	if err != nil {
		return fmt.Errorf("mark notified %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+opportunityCols+` FROM opportunities WHERE id = $1`, id)
	o, err := scanOpportunity(row.Scan)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get opportunity %s: %w", id, err)
	}
	return o, nil
}

// ListParams filters the opportunity listing used by the API.
type ListParams struct {
	Profile  string
	Status   string
	Buyer    string
	MinScore float64
	Limit    int
	Offset   int
}

func (s *Store) ListOpportunities(ctx context.Context, p ListParams) ([]models.Opportunity, error) {
	query := `SELECT ` + opportunityCols + ` FROM opportunities WHERE 1=1`
	args := []any{}
	argIdx := 1

	if p.Profile != "" {
		query += fmt.Sprintf(" AND profile = $%d", argIdx)
		args = append(args, p.Profile)
		argIdx++
	}
	if p.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, p.Status)
		argIdx++
	}
	if p.Buyer != "" {
		query += fmt.Sprintf(" AND buyer_name ILIKE $%d", argIdx)
		args = append(args, "%"+p.Buyer+"%")
		argIdx++
	}
	if p.MinScore > 0 {
		query += fmt.Sprintf(" AND score >= $%d", argIdx)
		args = append(args, p.MinScore)
		argIdx++
	}

	query += " ORDER BY score DESC, last_seen DESC"
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, p.Limit, p.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	defer rows.Close()

	var out []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// AppendAward records a contract award. Award history is append-only;
// nothing updates or deletes these rows.
func (s *Store) AppendAward(ctx context.Context, a *models.AwardRecord) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO contract_awards (id, buyer_name, winner_name, value, award_date, title, snippet, source_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, a.ID, a.BuyerName, a.WinnerName, a.Value, a.AwardDate, a.Title, a.Snippet, a.SourceURL)
	if err != nil {
		return fmt.Errorf("append award: %w", err)
	}
	return nil
}

// AwardsByBuyer returns the buyer's award history, oldest first, which is
// the order the pattern predictor expects.
func (s *Store) AwardsByBuyer(ctx context.Context, buyerName string) ([]models.AwardRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, buyer_name, winner_name, value, award_date, title, snippet, source_url, created_at
		FROM contract_awards
		WHERE buyer_name = $1
		ORDER BY award_date ASC NULLS LAST
	`, buyerName)
	if err != nil {
		return nil, fmt.Errorf("awards by buyer: %w", err)
	}
	defer rows.Close()

	var out []models.AwardRecord
	for rows.Next() {
		var a models.AwardRecord
		if err := rows.Scan(&a.ID, &a.BuyerName, &a.WinnerName, &a.Value, &a.AwardDate, &a.Title, &a.Snippet, &a.SourceURL, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// BuyersWithAwardCounts lists buyers holding at least minAwards records,
// most active first.
func (s *Store) BuyersWithAwardCounts(ctx context.Context, minAwards int) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT buyer_name, COUNT(*) FROM contract_awards
		GROUP BY buyer_name
		HAVING COUNT(*) >= $1
		ORDER BY COUNT(*) DESC
	`, minAwards)
	if err != nil {
		return nil, fmt.Errorf("buyers with award counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// SetEmbedding stores the enrichment embedding for similarity queries.
func (s *Store) SetEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE opportunities SET embedding = $2 WHERE id = $1`,
		id, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("set embedding %s: %w", id, err)
	}
	return nil
}

// SimilarOpportunities returns the nearest neighbours of one opportunity
// by embedding cosine distance. Rows without an embedding are skipped.
func (s *Store) SimilarOpportunities(ctx context.Context, id uuid.UUID, limit int) ([]models.Opportunity, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+opportunityCols+`
		FROM opportunities
		WHERE id <> $1
		  AND embedding IS NOT NULL
		ORDER BY embedding <=> (SELECT embedding FROM opportunities WHERE id = $1)
		LIMIT $2
	`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("similar opportunities: %w", err)
	}
	defer rows.Close()

	var out []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan similar opportunity: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// NeedingEnrichment returns recent opportunities that have no embedding
// yet, newest first.
func (s *Store) NeedingEnrichment(ctx context.Context, limit int) ([]models.Opportunity, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+opportunityCols+`
		FROM opportunities
		WHERE embedding IS NULL
		ORDER BY last_seen DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("needing enrichment: %w", err)
	}
	defer rows.Close()

	var out []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan enrichment candidate: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// AnnotateSignals merges enrichment annotations into the signals column
// without touching any scored field.
func (s *Store) AnnotateSignals(ctx context.Context, id uuid.UUID, annotations map[string]interface{}) error {
	_, err := s.pool.Exec(ctx, `UPDATE opportunities SET signals = signals || $2::jsonb WHERE id = $1`,
		id, annotations)
	if err != nil {
		return fmt.Errorf("annotate signals %s: %w", id, err)
	}
	return nil
}

// ScanRun tracks one scan cycle for partial-failure reporting.
type ScanRun struct {
	ID            uuid.UUID  `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Status        string     `json:"status"`
	NewCount      int        `json:"new_count"`
	UpdatedCount  int        `json:"updated_count"`
	NotifiedCount int        `json:"notified_count"`
	FailedSources []string   `json:"failed_sources,omitempty"`
	Error         string     `json:"error,omitempty"`
}

func (s *Store) StartScanRun(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `INSERT INTO scan_runs (id, status) VALUES ($1, 'running')`, id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start scan run: %w", err)
	}
	return id, nil
}

func (s *Store) FinishScanRun(ctx context.Context, run ScanRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scan_runs SET
			ended_at = NOW(), status = $2, new_count = $3, updated_count = $4,
			notified_count = $5, failed_sources = $6, error = $7
		WHERE id = $1
	`, run.ID, run.Status, run.NewCount, run.UpdatedCount, run.NotifiedCount, run.FailedSources, run.Error)
	if err != nil {
		return fmt.Errorf("finish scan run: %w", err)
	}
	return nil
}

// RecentScanRuns lists the latest scan cycles, newest first.
func (s *Store) RecentScanRuns(ctx context.Context, limit int) ([]ScanRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, ended_at, status, new_count, updated_count,
		       notified_count, failed_sources, error
		FROM scan_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent scan runs: %w", err)
	}
	defer rows.Close()

	var out []ScanRun
	for rows.Next() {
		var r ScanRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.EndedAt, &r.Status, &r.NewCount,
			&r.UpdatedCount, &r.NotifiedCount, &r.FailedSources, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats summarizes the store for the API.
type Stats struct {
	Total      int            `json:"total"`
	ByProfile  map[string]int `json:"by_profile"`
	ByStatus   map[string]int `json:"by_status"`
	Unnotified int            `json:"unnotified_actionable"`
	Awards     int            `json:"awards"`
}

func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByProfile: map[string]int{}, ByStatus: map[string]int{}}

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM opportunities`).Scan(&st.Total); err != nil {
		return nil, fmt.Errorf("stats total: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM contract_awards`).Scan(&st.Awards); err != nil {
		return nil, fmt.Errorf("stats awards: %w", err)
	}
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM opportunities WHERE notified_at IS NULL AND score >= 50`,
	).Scan(&st.Unnotified); err != nil {
		return nil, fmt.Errorf("stats unnotified: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT profile, COUNT(*) FROM opportunities GROUP BY profile`)
	if err != nil {
		return nil, fmt.Errorf("stats by profile: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		st.ByProfile[k] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows2, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM opportunities GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
	}
	defer rows2.Close()
	for rows2.Next() {
		var k string
		var n int
		if err := rows2.Scan(&k, &n); err != nil {
			return nil, err
		}
		st.ByStatus[k] = n
	}
	return st, rows2.Err()
}

// ExportRow is one line of the flat tabular dump.
type ExportRow struct {
	ID          string
	Title       string
	Profile     string
	BuyerName   string
	Source      string
	SourceURL   string
	Value       *float64
	MarginPct   *float64
	ClosingDate *time.Time
	Score       float64
	ProfitProb  float64
	WinProb     float64
	Competition string
	Status      string
}

// ExportOpportunities returns every opportunity as a flat row, highest
// score first. One-way dump for external analysis, not a second source of
// truth.
func (s *Store) ExportOpportunities(ctx context.Context) ([]ExportRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, profile, buyer_name, source, source_url,
		       estimated_value, profit_margin_pct, closing_date,
		       score, profit_probability, win_probability, competition_level, status
		FROM opportunities
		ORDER BY score DESC, last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("export opportunities: %w", err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var r ExportRow
		if err := rows.Scan(&r.ID, &r.Title, &r.Profile, &r.BuyerName, &r.Source,
			&r.SourceURL, &r.Value, &r.MarginPct, &r.ClosingDate, &r.Score,
			&r.ProfitProb, &r.WinProb, &r.Competition, &r.Status); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
