// Package syncer drives a full France Travail synchronization pass: every
// partition is fetched, mapped and upserted, then rows the pass did not see
// are deactivated.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"offresync/sync-service/internal/mapper"
	"offresync/sync-service/internal/model"
	"offresync/sync-service/internal/store"
)

// DefaultLookbackDays is the creation-date window of a pass.
const DefaultLookbackDays = 14

const paramDepartement = "departement"

// ErrSyncInProgress is returned when a pass is requested while another one
// holds the run guard.
var ErrSyncInProgress = errors.New("sync already in progress")

// Fetcher returns every listing matching filters created in [minDate, maxDate).
// *francetravail.Windower implements it.
type Fetcher interface {
	FetchWindow(ctx context.Context, filters url.Values, minDate, maxDate time.Time) ([]model.RawListing, error)
}

// Store is the storage a pass writes to.
type Store interface {
	store.Upserter
	DeactivateStale(ctx context.Context, r store.Reconcile) (int64, error)
	RecordRun(ctx context.Context, run model.SyncRun) error
}

// Options tune one pass.
type Options struct {
	// LookbackDays sizes the creation-date window; <= 0 takes DefaultLookbackDays.
	LookbackDays int
	// Partitions restricts the pass to these departement codes.
	Partitions []string
	// Filters are extra search parameters (motsCles, codeROME, …) applied to
	// every partition. A filtered pass never deactivates anything.
	Filters url.Values
}

// Stats summarizes one pass.
type Stats struct {
	RunID            string    `json:"runId"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
	LookbackDays     int       `json:"lookbackDays"`
	Partitions       int       `json:"partitions"`
	PartitionsFailed int       `json:"partitionsFailed"`
	Fetched          int       `json:"fetched"`
	Skipped          int       `json:"skipped"`
	Upserted         int       `json:"upserted"`
	Deactivated      int64     `json:"deactivated"`
	Reconciled       bool      `json:"reconciled"`
	Error            string    `json:"error,omitempty"`
}

// Config wires a Syncer.
type Config struct {
	Fetcher    Fetcher
	Store      Store
	ChunkSize  int
	Partitions []model.Partition
	// Lock and Events are optional.
	Lock   RunLock
	Events Publisher
	Logger *slog.Logger
	Now    func() time.Time
}

// Syncer runs sync passes, one at a time.
type Syncer struct {
	fetcher    Fetcher
	store      Store
	batcher    *store.Batcher
	partitions []model.Partition
	lock       RunLock
	events     Publisher
	logger     *slog.Logger
	now        func() time.Time

	running atomic.Bool

	mu   sync.Mutex
	last *Stats
}

// New constructs a Syncer. An empty partition set takes every departement.
func New(cfg Config) *Syncer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Partitions) == 0 {
		cfg.Partitions = model.Departements()
	}
	return &Syncer{
		fetcher:    cfg.Fetcher,
		store:      cfg.Store,
		batcher:    store.NewBatcher(cfg.Store, cfg.ChunkSize),
		partitions: cfg.Partitions,
		lock:       cfg.Lock,
		events:     cfg.Events,
		logger:     cfg.Logger.With("component", "syncer"),
		now:        cfg.Now,
	}
}

// Running reports whether a pass is in progress in this process.
func (s *Syncer) Running() bool { return s.running.Load() }

// LastStats returns the stats of the last finished pass, nil before the first.
func (s *Syncer) LastStats() *Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}

// Run executes one pass: Start → per-partition fetch → reconcile → done.
//
// A failing partition is logged and skipped so one bad departement does not
// stop the pass; rows of failed partitions are then left out of the
// reconciliation. Cancelling ctx aborts the pass before reconciliation.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Stats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.running.Store(false)

	if s.lock != nil {
		release, err := s.lock.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	days := opts.LookbackDays
	if days <= 0 {
		days = DefaultLookbackDays
	}

	// Postgres keeps microseconds; stamping and reconciling with the same
	// truncated instant keeps "seen in this pass" exact.
	startedAt := s.now().UTC().Truncate(time.Microsecond)
	minDate := startedAt.Add(-time.Duration(days) * 24 * time.Hour)

	partitions, full := s.selectPartitions(opts.Partitions)

	stats := &Stats{
		RunID:        uuid.NewString(),
		StartedAt:    startedAt,
		LookbackDays: days,
		Partitions:   len(partitions),
	}
	log := s.logger.With("run_id", stats.RunID)
	log.Info("sync pass started",
		"partitions", len(partitions), "min", minDate.Format(time.RFC3339), "max", startedAt.Format(time.RFC3339))

	var succeeded []string
	for _, p := range partitions {
		if err := ctx.Err(); err != nil {
			return s.finish(stats, fmt.Errorf("sync cancelled: %w", err))
		}

		fetched, skipped, upserted, err := s.syncPartition(ctx, p, opts.Filters, minDate, startedAt)
		stats.Fetched += fetched
		stats.Skipped += skipped
		stats.Upserted += upserted
		if err != nil {
			if ctx.Err() != nil {
				return s.finish(stats, fmt.Errorf("sync cancelled: %w", ctx.Err()))
			}
			stats.PartitionsFailed++
			log.Error("partition failed, continuing", "departement", p.Code, "error", err)
			continue
		}
		succeeded = append(succeeded, p.Code)
		log.Debug("partition synced", "departement", p.Code,
			"fetched", fetched, "skipped", skipped, "upserted", upserted)
	}

	if err := s.reconcile(ctx, stats, opts, full, succeeded); err != nil {
		return s.finish(stats, err)
	}

	return s.finish(stats, nil)
}

func (s *Syncer) syncPartition(
	ctx context.Context,
	p model.Partition,
	extra url.Values,
	minDate, startedAt time.Time,
) (fetched, skipped, upserted int, err error) {
	filters := make(url.Values, len(extra)+1)
	for k, v := range extra {
		filters[k] = append([]string(nil), v...)
	}
	filters.Set(paramDepartement, p.Code)

	listings, err := s.fetcher.FetchWindow(ctx, filters, minDate, startedAt)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("fetch: %w", err)
	}
	fetched = len(listings)

	code := p.Code
	offers := make([]model.Offer, 0, len(listings))
	for _, raw := range listings {
		o := mapper.Normalize(raw)
		if o.ExternalID == "" {
			skipped++
			continue
		}
		o.IsActive = true
		o.LastSeenAt = startedAt
		o.Departement = &code
		offers = append(offers, o)
	}

	upserted, err = s.batcher.UpsertAll(ctx, offers)
	if err != nil {
		return fetched, skipped, upserted, fmt.Errorf("upsert: %w", err)
	}
	return fetched, skipped, upserted, nil
}

// reconcile deactivates rows of this provider not stamped by the pass. The
// update covers the whole provider only after a complete, unfiltered pass
// with no failed partition; otherwise it is scoped to the partitions that
// succeeded.
func (s *Syncer) reconcile(ctx context.Context, stats *Stats, opts Options, full bool, succeeded []string) error {
	log := s.logger.With("run_id", stats.RunID)

	if len(opts.Filters) > 0 {
		log.Info("filtered pass, skipping reconciliation")
		return nil
	}

	r := store.Reconcile{
		Provider:   model.ProviderFranceTravail,
		SeenBefore: stats.StartedAt,
	}
	if !full || stats.PartitionsFailed > 0 {
		if len(succeeded) == 0 {
			log.Warn("no partition succeeded, skipping reconciliation")
			return nil
		}
		r.Departements = succeeded
	}

	n, err := s.store.DeactivateStale(ctx, r)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	stats.Deactivated = n
	stats.Reconciled = true
	return nil
}

// finish stamps, records and publishes the pass outcome. Recording and
// publishing failures are logged only.
func (s *Syncer) finish(stats *Stats, runErr error) (*Stats, error) {
	stats.FinishedAt = s.now().UTC()
	if runErr != nil {
		stats.Error = runErr.Error()
	}

	log := s.logger.With("run_id", stats.RunID)

	// The pass ctx may be cancelled; bookkeeping gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.RecordRun(ctx, stats.run()); err != nil {
		log.Error("record sync run", "error", err)
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, stats); err != nil {
			log.Warn("publish sync event", "error", err)
		}
	}

	s.mu.Lock()
	cp := *stats
	s.last = &cp
	s.mu.Unlock()

	attrs := []any{
		"partitions", stats.Partitions, "failed", stats.PartitionsFailed,
		"fetched", stats.Fetched, "skipped", stats.Skipped, "upserted", stats.Upserted,
		"deactivated", stats.Deactivated, "duration", stats.FinishedAt.Sub(stats.StartedAt).String(),
	}
	if runErr != nil {
		log.Error("sync pass aborted", append(attrs, "error", runErr)...)
		return stats, runErr
	}
	log.Info("sync pass complete", attrs...)
	return stats, nil
}

// selectPartitions returns the partitions to visit and whether they are the
// full configured set.
func (s *Syncer) selectPartitions(codes []string) ([]model.Partition, bool) {
	if len(codes) == 0 {
		return s.partitions, true
	}
	want := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		want[c] = struct{}{}
	}
	var out []model.Partition
	for _, p := range s.partitions {
		if _, ok := want[p.Code]; ok {
			out = append(out, p)
			delete(want, p.Code)
		}
	}
	// Codes outside the configured set are still honoured.
	for _, c := range codes {
		if _, ok := want[c]; ok {
			out = append(out, model.Partition{Code: c})
			delete(want, c)
		}
	}
	return out, false
}

func (st *Stats) run() model.SyncRun {
	return model.SyncRun{
		ID:               st.RunID,
		StartedAt:        st.StartedAt,
		FinishedAt:       st.FinishedAt,
		LookbackDays:     st.LookbackDays,
		Partitions:       st.Partitions,
		PartitionsFailed: st.PartitionsFailed,
		Fetched:          st.Fetched,
		Skipped:          st.Skipped,
		Upserted:         st.Upserted,
		Deactivated:      st.Deactivated,
		Error:            st.Error,
	}
}
