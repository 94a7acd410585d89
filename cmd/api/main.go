package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ignite/api/internal/ai"
	"ignite/api/internal/app"
	"ignite/api/internal/blob"
	"ignite/api/internal/config"
	"ignite/api/internal/legacy"
	"ignite/api/internal/search"
	"ignite/api/internal/store"
	"ignite/api/internal/transcripts"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var legacyCache *legacy.Cache
	var migrator *legacy.Migrator
	if strings.TrimSpace(cfg.RedisURL) != "" {
		legacyCache, err = legacy.NewCache(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: legacy cache unavailable, migration disabled: %v", err)
			legacyCache = nil
		} else {
			defer legacyCache.Close()
			migrator = legacy.NewMigrator(legacyCache, dataStore)
		}
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var artifacts *blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		artifacts, err = blob.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: artifact storage unavailable: %v", err)
			artifacts = nil
		}
	}

	aiClient := ai.NewClient(cfg.AIServiceURL, cfg.AIToken, cfg.AITimeout)
	var transcriptService *transcripts.Service
	if artifacts != nil {
		transcriptService = transcripts.New(dataStore, aiClient, artifacts, cfg.JobStalenessWindow, cfg.RecoveryCheckDelay)
	} else {
		transcriptService = transcripts.New(dataStore, aiClient, nil, cfg.JobStalenessWindow, cfg.RecoveryCheckDelay)
	}

	service := app.New(cfg, dataStore, legacyCache, migrator, transcriptService, searchService)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Ignite API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
