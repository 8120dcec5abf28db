package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/probid/tender-radar/internal/db"
)

func main() {
	profile := flag.String("profile", "", "Restrict to one profile")
	minScore := flag.Float64("min-score", 50, "Minimum composite score")
	limit := flag.Int("limit", 20, "Rows to show")
	showRuns := flag.Bool("runs", false, "Also show recent scan runs")
	flag.Parse()

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	store := db.NewStore(pool)
	opps, err := store.ListOpportunities(ctx, db.ListParams{
		Profile:  *profile,
		MinScore: *minScore,
		Limit:    *limit,
	})
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Score", "Title", "Buyer", "Value", "Closing", "Status", "Profile"})

	for _, o := range opps {
		value := "-"
		if o.EstimatedValue != nil {
			value = formatValue(*o.EstimatedValue)
		}
		closing := "-"
		if o.ClosingDate != nil {
			closing = o.ClosingDate.Format("02 Jan 2006")
		}
		title := o.Title
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		t.AppendRow(table.Row{o.Score, title, o.BuyerName, value, closing, o.Status, o.Profile})
	}
	t.Render()

	if *showRuns {
		runs, err := store.RecentScanRuns(ctx, 10)
		if err != nil {
			log.Fatal(err)
		}

		rt := table.NewWriter()
		rt.SetOutputMirror(os.Stdout)
		rt.AppendHeader(table.Row{"Status", "New", "Updated", "Notified", "Failed", "Duration", "Started At"})
		for _, r := range runs {
			duration := "Running..."
			if r.EndedAt != nil {
				duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			rt.AppendRow(table.Row{r.Status, r.NewCount, r.UpdatedCount, r.NotifiedCount,
				len(r.FailedSources), duration, r.StartedAt.Format("02 Jan 15:04:05")})
		}
		rt.Render()
	}
}

func formatValue(v float64) string {
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("£%.1fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("£%.1fK", v/1_000)
	default:
		return fmt.Sprintf("£%.0f", v)
	}
}
