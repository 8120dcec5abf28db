package main

import (
	"context"
	"encoding/csv"
	"flag"
	"log"
	"os"
	"strconv"

	"github.com/probid/tender-radar/internal/db"
)

func main() {
	out := flag.String("out", "", "Output file (default stdout)")
	flag.Parse()

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	rows, err := db.NewStore(pool).ExportOpportunities(ctx)
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}

	dest := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("Cannot create %s: %v", *out, err)
		}
		defer f.Close()
		dest = f
	}

	w := csv.NewWriter(dest)
	header := []string{
		"id", "title", "profile", "buyer", "source", "source_url",
		"estimated_value", "profit_margin_pct", "closing_date",
		"score", "profit_probability", "win_probability", "competition", "status",
	}
	if err := w.Write(header); err != nil {
		log.Fatal(err)
	}
	for _, r := range rows {
		value, margin, closing := "", "", ""
		if r.Value != nil {
			value = strconv.FormatFloat(*r.Value, 'f', 2, 64)
		}
		if r.MarginPct != nil {
			margin = strconv.FormatFloat(*r.MarginPct, 'f', 2, 64)
		}
		if r.ClosingDate != nil {
			closing = r.ClosingDate.Format("2006-01-02")
		}
		record := []string{
			r.ID, r.Title, r.Profile, r.BuyerName, r.Source, r.SourceURL,
			value, margin, closing,
			strconv.FormatFloat(r.Score, 'f', 1, 64),
			strconv.FormatFloat(r.ProfitProb, 'f', 1, 64),
			strconv.FormatFloat(r.WinProb, 'f', 1, 64),
			r.Competition, r.Status,
		}
		if err := w.Write(record); err != nil {
			log.Fatal(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Fatal(err)
	}
	log.Printf("Exported %d opportunities", len(rows))
}
