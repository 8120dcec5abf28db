package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/probid/tender-radar/internal/config"
	"github.com/probid/tender-radar/internal/models"
	"github.com/probid/tender-radar/internal/scan"
)

const (
	defaultThreshold  = 80.0
	defaultBatchLimit = 5
)

// Store is the slice of persistence the gate needs.
type Store interface {
	QueryAboveThreshold(ctx context.Context, profile string, minScore float64, unnotifiedOnly bool, limit int) ([]models.Opportunity, error)
	MarkNotified(ctx context.Context, id uuid.UUID) error
}

// Sender delivers one batch of opportunities for a profile.
type Sender interface {
	Send(ctx context.Context, profile *config.Profile, opps []models.Opportunity) error
}

// Gate selects unnotified opportunities above a profile's threshold,
// dispatches them in one batch, and marks them notified only after the
// dispatch succeeds. A failed dispatch leaves every row unnotified so the
// next cycle retries the whole batch.
type Gate struct {
	Store  Store
	Sender Sender
}

func (g *Gate) Notify(ctx context.Context, profile *config.Profile) (int, error) {
	threshold := profile.NotifyThreshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	limit := profile.NotifyBatchLimit
	if limit <= 0 {
		limit = defaultBatchLimit
	}

	opps, err := g.Store.QueryAboveThreshold(ctx, profile.Name, threshold, true, limit)
	if err != nil {
		return 0, err
	}
	if len(opps) == 0 {
		return 0, nil
	}

	if err := g.Sender.Send(ctx, profile, opps); err != nil {
		return 0, fmt.Errorf("%w: profile %s: %v", scan.ErrNotify, profile.Name, err)
	}

	sent := 0
	for i := range opps {
		if err := g.Store.MarkNotified(ctx, opps[i].ID); err != nil {
			log.Printf("notify: could not mark %s notified: %v", opps[i].ID, err)
			continue
		}
		sent++
	}
	return sent, nil
}
