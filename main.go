package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pricepilot/config"
	"pricepilot/httputil"
	"pricepilot/logging"
	"pricepilot/scheduler"
	"pricepilot/scraper"
	"pricepilot/services"
	"pricepilot/storage"
	"pricepilot/workers"
)

var (
	scrapeNow   = flag.Bool("scrape", false, "Run one full scrape and exit")
	vendorOnly  = flag.String("vendor", "", "Restrict -scrape to one vendor")
	queriesPath = flag.String("queries", "config/queries.yaml", "Path to the query set")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("pricepilot.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting pricepilot...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Loaded %d vendor configs", len(cfg.Vendors))
	for id, vendor := range cfg.Vendors {
		log.Printf("  - %s (%s, %s)", vendor.Name, id, vendor.Handler)
	}

	queries, err := config.LoadQueries(*queriesPath)
	if err != nil {
		log.Fatalf("Failed to load queries: %v", err)
	}

	clients := httputil.NewClients(&cfg.Proxy)

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	log.Println("Connected to Postgres")

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("Ops database: %s", cfg.DBPath)

	imageService := services.NewImageService(pgStore)
	matcher := services.NewMatcher(cfg.Match)
	recordService := services.NewRecordService(pgStore, matcher, imageService)

	orchestrator, err := scraper.NewOrchestrator(cfg, queries, sqliteStore, recordService, clients.Scraping)
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}
	defer orchestrator.Close()
	orchestrator.SetRunRecorder(pgStore)

	if *scrapeNow {
		log.Println("Running scrape...")
		if *vendorOnly != "" {
			err = orchestrator.RunVendor(ctx, *vendorOnly)
		} else {
			err = orchestrator.RunAll(ctx)
		}
		if err != nil {
			log.Fatalf("Scrape failed: %v", err)
		}
		log.Println("Scrape complete")
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg, orchestrator, sqliteStore)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	var uploader workers.Uploader = workers.NewNoOpUploader()
	if cfg.S3.Bucket != "" {
		s3Uploader, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			log.Fatalf("Failed to build S3 uploader: %v", err)
		}
		uploader = s3Uploader
	} else {
		log.Println("No S3 bucket configured, image mirroring disabled")
	}

	imageWorker := workers.NewImageWorker(imageService, uploader, clients.Direct, cfg.UserAgent)
	go imageWorker.Run(ctx, 20, 2*time.Minute)
	log.Println("Image worker started")

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}
