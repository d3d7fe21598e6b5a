// offresync sync-service
//
// Mirrors France Travail job offers into the offres table:
//   - scheduled sync passes (cron), one per departement partition
//   - creation-date windowing around the 1150-result search ceiling
//   - reconciliation of offers no longer listed upstream
//
// Exposes /health, POST /sync and GET /sync/status for ops.
// Publishes EVENT_OFFERS_SYNCED to Redis after each pass when REDIS_URL is set.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offresync/sync-service/internal/config"
	"offresync/sync-service/internal/db"
	"offresync/sync-service/internal/francetravail"
	"offresync/sync-service/internal/scheduler"
	"offresync/sync-service/internal/server"
	"offresync/sync-service/internal/store"
	"offresync/sync-service/internal/syncer"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[sync-service] Config error: %v", err)
	}
	logger := cfg.NewLogger(os.Stdout)

	partitions, err := config.LoadPartitions(cfg.PartitionsFile)
	if err != nil {
		log.Fatalf("[sync-service] Partitions: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Store ────────────────────────────────────────────────────────────────
	log.Printf("[sync-service] Opening %s store…", cfg.StoreDriver)
	st, closeStore, err := store.Open(ctx, cfg.Store())
	if err != nil {
		log.Fatalf("[sync-service] Store: %v", err)
	}
	defer closeStore()
	log.Printf("[sync-service] %s store ready ✓", cfg.StoreDriver)

	// ── Redis (optional) ─────────────────────────────────────────────────────
	syncCfg := syncer.Config{
		Store:      st,
		ChunkSize:  cfg.ChunkSize,
		Partitions: partitions,
		Logger:     logger,
	}
	if cfg.RedisURL != "" {
		log.Println("[sync-service] Connecting to Redis…")
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("[sync-service] Redis: %v", err)
		}
		defer rdb.Close()
		syncCfg.Lock = syncer.NewRedisLock(rdb, "", cfg.LockTTL, logger)
		syncCfg.Events = syncer.NewRedisPublisher(rdb, "")
		log.Println("[sync-service] Redis connected ✓")
	} else {
		log.Println("[sync-service] REDIS_URL not set, run lock and events disabled")
	}

	// ── France Travail client ────────────────────────────────────────────────
	tokens := francetravail.NewTokenCache(francetravail.TokenConfig{
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
	})
	client := francetravail.NewClient(francetravail.ClientConfig{
		SearchURL:       cfg.SearchURL,
		Tokens:          tokens,
		RequestInterval: cfg.RequestInterval,
	})
	syncCfg.Fetcher = francetravail.NewWindower(client, logger)

	sy := syncer.New(syncCfg)

	// ── Scheduler ────────────────────────────────────────────────────────────
	sched := scheduler.New(sy, cfg.SyncCron, cfg.LookbackDays, cfg.SyncOnStart, logger)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[sync-service] Scheduler: %v", err)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	h := server.NewHandler(ctx, sy, version, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      h.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[sync-service] v%s listening on :%s", version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[sync-service] HTTP server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[sync-service] Shutting down…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[sync-service] Shutdown error: %v", err)
	}

	// Abort a running pass, then wait for it to record its outcome.
	cancel()
	sched.Stop()
	h.Wait()
	log.Println("[sync-service] Stopped.")
}
