package main

import (
	"context"
	"flag"
	"log"

	"github.com/probid/tender-radar/internal/db"
	"github.com/probid/tender-radar/internal/enrich"
)

func main() {
	limit := flag.Int("limit", 50, "Maximum opportunities to enrich in this batch")
	flag.Parse()

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	store := db.NewStore(pool)
	enricher := &enrich.Enricher{Client: enrich.NewOllamaClient(), Store: store}

	opps, err := store.NeedingEnrichment(ctx, *limit)
	if err != nil {
		log.Fatalf("Failed to list enrichment candidates: %v", err)
	}
	if len(opps) == 0 {
		log.Print("Nothing to enrich")
		return
	}

	done, failed := 0, 0
	for i := range opps {
		if err := enricher.Enrich(ctx, &opps[i]); err != nil {
			log.Printf("enrich %s: %v", opps[i].ID, err)
			failed++
			continue
		}
		done++
	}
	log.Printf("Enrichment finished. Enriched: %d, Failed: %d", done, failed)
}
