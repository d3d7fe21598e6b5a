package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"offresync/sync-service/internal/model"
)

var pgUpsertSQL = upsertSQL(func(n int) string { return "$" + strconv.Itoa(n) }, "GREATEST", "NOW()")

// Postgres is the production Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Store over pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the offres and sync_runs tables when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	stmts, err := schemaStatements("postgres.sql")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// UpsertOffers sends the chunk as one batch inside one transaction, so the
// chunk is applied entirely or not at all.
func (s *Postgres) UpsertOffers(ctx context.Context, offers []model.Offer) error {
	if len(offers) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	b := &pgx.Batch{}
	for _, o := range offers {
		b.Queue(pgUpsertSQL, offerValues(o, pgTime, pgPayload)...)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upsert offres: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeactivateStale flips is_active off for rows not seen since r.SeenBefore.
func (s *Postgres) DeactivateStale(ctx context.Context, r Reconcile) (int64, error) {
	var deps []string
	if len(r.Departements) > 0 {
		deps = r.Departements
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE offres
		 SET is_active = false, updated_at = NOW()
		 WHERE provider = $1
		   AND is_active
		   AND last_seen_at < $2
		   AND ($3::text[] IS NULL OR departement = ANY($3))`,
		r.Provider, r.SeenBefore, deps,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecordRun inserts one sync_runs row.
func (s *Postgres) RecordRun(ctx context.Context, run model.SyncRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, started_at, finished_at, lookback_days, partitions,
		                        partitions_failed, fetched, skipped, upserted, deactivated, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))`,
		run.ID, run.StartedAt, run.FinishedAt, run.LookbackDays, run.Partitions,
		run.PartitionsFailed, run.Fetched, run.Skipped, run.Upserted, run.Deactivated, run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert sync_runs: %w", err)
	}
	return nil
}

// FindOffer reads one row by natural key.
func (s *Postgres) FindOffer(ctx context.Context, provider, externalID string) (*model.Offer, error) {
	var (
		o       model.Offer
		payload []byte
	)
	err := s.pool.QueryRow(ctx, selectOfferSQL+` WHERE provider = $1 AND external_id = $2`,
		provider, externalID,
	).Scan(
		&o.Provider, &o.ExternalID, &o.Title, &o.Description, &o.CompanyName,
		&o.LocationLabel, &o.City, &o.PostalCode, &o.Latitude, &o.Longitude, &o.Departement,
		&o.ContractType, &o.WorkTime, &o.Experience, &o.EducationLevel, &o.RomeCode, &o.RomeLabel,
		&o.SalaryText, &o.SalaryMinMonthly, &o.SalaryMaxMonthly,
		&o.SourceURL, &o.PublishedAt, &o.UpdatedAtSource,
		&o.IsActive, &o.LastSeenAt, &payload,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find offer: %w", err)
	}
	o.SourcePayload = payload
	return &o, nil
}

// CountActive counts active offers of one departement published in range.
func (s *Postgres) CountActive(ctx context.Context, f CountFilter) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM offres
		 WHERE provider = $1
		   AND departement = $2
		   AND is_active
		   AND published_at >= $3
		   AND published_at < $4`,
		f.Provider, f.Departement, f.PublishedFrom, f.PublishedTo,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active: %w", err)
	}
	return n, nil
}

func pgTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func pgPayload(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
