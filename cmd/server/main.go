package main

import (
	"context"
	"log"
	"os"

	"github.com/probid/tender-radar/internal/api"
	"github.com/probid/tender-radar/internal/config"
	"github.com/probid/tender-radar/internal/db"
	"github.com/probid/tender-radar/internal/enrich"
	"github.com/probid/tender-radar/internal/notify"
	"github.com/probid/tender-radar/internal/scan"
	"github.com/probid/tender-radar/internal/score"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	ctx := context.Background()
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
	}
	if sender := notify.NewWebhookNotifier(); sender != nil {
		pipeline.Notifier = &notify.Gate{Store: store, Sender: sender}
	} else {
		log.Print("NOTIFY_WEBHOOK_URL is not set; notifications disabled")
	}

	enricher := &enrich.Enricher{Client: enrich.NewOllamaClient(), Store: store}

	srv := api.NewServer(pool, profiles, pipeline, enricher)
	log.Printf("Server starting on port %s...", port)
	if err := srv.Start(port); err != nil {
		log.Fatal(err)
	}
}
