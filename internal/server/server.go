// Package server exposes the ops HTTP surface of the sync service.
//
// Routes:
//
//	GET  /health        → liveness
//	POST /sync?days=N   → start a pass in the background (202, 409 if one runs)
//	GET  /sync/status   → running flag and stats of the last pass
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"offresync/sync-service/internal/syncer"
)

const maxLookbackDays = 365

// Syncer is the part of *syncer.Syncer the handlers drive.
type Syncer interface {
	Run(ctx context.Context, opts syncer.Options) (*syncer.Stats, error)
	Running() bool
	LastStats() *syncer.Stats
}

// Handler holds shared dependencies.
type Handler struct {
	syncer  Syncer
	baseCtx context.Context
	version string
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewHandler returns a Handler. Passes started over HTTP run under ctx, so
// cancelling it aborts them.
func NewHandler(ctx context.Context, s Syncer, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		syncer:  s,
		baseCtx: ctx,
		version: version,
		logger:  logger.With("component", "http"),
	}
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Post("/sync", h.startSync)
	r.Get("/sync/status", h.syncStatus)
	return r
}

// Wait blocks until passes started over HTTP have returned.
func (h *Handler) Wait() { h.wg.Wait() }

type statusResponse struct {
	Running bool          `json:"running"`
	Last    *syncer.Stats `json:"last"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "sync-service",
		"version": h.version,
	})
}

func (h *Handler) startSync(w http.ResponseWriter, r *http.Request) {
	opts := syncer.Options{LookbackDays: syncer.DefaultLookbackDays}

	if s := r.URL.Query().Get("days"); s != "" {
		days, err := strconv.Atoi(s)
		if err != nil || days < 1 || days > maxLookbackDays {
			jsonError(w, "days must be an integer between 1 and 365", http.StatusBadRequest)
			return
		}
		opts.LookbackDays = days
	}
	if s := r.URL.Query().Get("departements"); s != "" {
		for _, code := range strings.Split(s, ",") {
			if code = strings.TrimSpace(code); code != "" {
				opts.Partitions = append(opts.Partitions, code)
			}
		}
	}

	if h.syncer.Running() {
		jsonError(w, syncer.ErrSyncInProgress.Error(), http.StatusConflict)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		_, err := h.syncer.Run(h.baseCtx, opts)
		switch {
		case errors.Is(err, syncer.ErrSyncInProgress):
			h.logger.Info("manual sync skipped, another pass is running")
		case err != nil:
			h.logger.Error("manual sync failed", "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"lookbackDays": opts.LookbackDays,
		"departements": opts.Partitions,
		"requestedAt":  time.Now().UTC(),
	})
}

func (h *Handler) syncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Running: h.syncer.Running(),
		Last:    h.syncer.LastStats(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
