package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/probid/tender-radar/internal/config"
	"github.com/probid/tender-radar/internal/db"
	"github.com/probid/tender-radar/internal/notify"
	"github.com/probid/tender-radar/internal/scan"
	"github.com/probid/tender-radar/internal/score"
)

func main() {
	timeout := flag.Duration("timeout", 20*time.Minute, "Overall deadline for the scan cycle")
	workers := flag.Int("workers", 4, "Concurrent source fetchers")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	profiles, err := config.LoadProfiles(os.Getenv("PROFILES_PATH"))
	if err != nil {
		log.Fatalf("Failed to load profiles: %v", err)
	}
	rules, err := config.LoadRules()
	if err != nil {
		log.Fatalf("Failed to load scoring rules: %v", err)
	}
	registry, err := scan.LoadRegistry(os.Getenv("SOURCES_PATH"))
	if err != nil {
		log.Fatalf("Failed to load source registry: %v", err)
	}

	store := db.NewStore(pool)
	pipeline := &scan.Pipeline{
		Store:    store,
		Fetcher:  scan.NewHTTPFetcher(),
		Crawler:  scan.NewCrawler(),
		Registry: registry,
		Profiles: profiles,
		Engine:   score.NewEngine(rules),
		Workers:  *workers,
	}
	if sender := notify.NewWebhookNotifier(); sender != nil {
		pipeline.Notifier = &notify.Gate{Store: store, Sender: sender}
	} else {
		log.Print("NOTIFY_WEBHOOK_URL is not set; notifications disabled")
	}

	log.Printf("Starting scan cycle across %d sources", len(registry.Sources))
	summary, err := pipeline.Run(ctx)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	log.Printf("Scan finished. New: %d, Updated: %d, Notified: %d, Failed sources: %d",
		summary.NewCount, summary.UpdatedCount, summary.NotifiedCount, len(summary.FailedSources))
	for _, id := range summary.FailedSources {
		log.Printf("  failed: %s", id)
	}
}
