package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"github.com/raum-tracker/occupancy/internal/api"
	"github.com/raum-tracker/occupancy/internal/config"
	"github.com/raum-tracker/occupancy/internal/db"
	"github.com/raum-tracker/occupancy/internal/httputil"
	"github.com/raum-tracker/occupancy/internal/occupancy"
)

var (
	envFile       = flag.String("env", ".env", "Optional .env file")
	listen        = flag.String("listen", "", "Listen address (overrides OCCUPANCY_LISTEN)")
	dbPath        = flag.String("db", "", "Database file (overrides OCCUPANCY_DB)")
	migrationsDir = flag.String("migrations", "", "Run migrations from this directory before starting")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if *migrationsDir != "" {
		if err := database.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}

	var live *occupancy.LiveSource
	if cfg.LiveSourceURL != "" {
		client := httputil.NewStandardClient(&http.Client{Timeout: cfg.LiveSourceTimeout})
		live = occupancy.NewLiveSource(cfg.LiveSourceURL, client, cfg.LiveSourceTimeout, cfg.LiveMaxAge)
		log.Printf("live counter source enabled: %s", cfg.LiveSourceURL)
	}

	estimator := occupancy.NewEstimator(database, live, cfg, nil)
	worker := occupancy.NewWorker(estimator)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// evaluation worker
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start()
		<-ctx.Done()
		worker.Stop()
		log.Print("evaluation worker stopped")
	}()

	// HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()

		router := api.NewServer(database, estimator, nil).Router()
		server := &http.Server{
			Addr:    cfg.Listen,
			Handler: handlers.LoggingHandler(os.Stdout, router),
		}

		go func() {
			log.Printf("listening on %s", cfg.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Print("graceful shutdown complete")
}
