package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"offresync/sync-service/internal/model"
)

// sqliteTimeLayout is fixed-width UTC so that text comparison orders
// timestamps chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

const sqliteNow = "strftime('%Y-%m-%dT%H:%M:%fZ', 'now')"

var sqliteUpsertSQL = upsertSQL(func(int) string { return "?" }, "MAX", sqliteNow)

// SQLite is a Store over database/sql with the modernc driver.
type SQLite struct {
	db *sql.DB
}

// NewSQLite returns a Store over db.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// EnsureSchema creates the offres and sync_runs tables when missing.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	stmts, err := schemaStatements("sqlite.sql")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// UpsertOffers writes the chunk in one transaction.
func (s *SQLite) UpsertOffers(ctx context.Context, offers []model.Offer) error {
	if len(offers) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, o := range offers {
		if _, err := stmt.ExecContext(ctx, offerValues(o, sqliteTime, sqlitePayload)...); err != nil {
			return fmt.Errorf("upsert offer %s/%s: %w", o.Provider, o.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeactivateStale flips is_active off for rows not seen since r.SeenBefore.
func (s *SQLite) DeactivateStale(ctx context.Context, r Reconcile) (int64, error) {
	query := `UPDATE offres SET is_active = 0, updated_at = ` + sqliteNow + `
		WHERE provider = ? AND is_active = 1 AND last_seen_at < ?`
	args := []any{r.Provider, r.SeenBefore.UTC().Format(sqliteTimeLayout)}
	if len(r.Departements) > 0 {
		query += ` AND departement IN (?` + strings.Repeat(", ?", len(r.Departements)-1) + `)`
		for _, d := range r.Departements {
			args = append(args, d)
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate stale: %w", err)
	}
	return res.RowsAffected()
}

// RecordRun inserts one sync_runs row.
func (s *SQLite) RecordRun(ctx context.Context, run model.SyncRun) error {
	var runErr any
	if run.Error != "" {
		runErr = run.Error
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, started_at, finished_at, lookback_days, partitions,
		                        partitions_failed, fetched, skipped, upserted, deactivated, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Format(sqliteTimeLayout), run.FinishedAt.UTC().Format(sqliteTimeLayout),
		run.LookbackDays, run.Partitions, run.PartitionsFailed, run.Fetched, run.Skipped,
		run.Upserted, run.Deactivated, runErr,
	)
	if err != nil {
		return fmt.Errorf("insert sync_runs: %w", err)
	}
	return nil
}

// FindOffer reads one row by natural key.
func (s *SQLite) FindOffer(ctx context.Context, provider, externalID string) (*model.Offer, error) {
	var (
		o                                          model.Offer
		title, description, company                sql.NullString
		label, city, postal, dep                   sql.NullString
		contract, workTime, experience, education  sql.NullString
		romeCode, romeLabel, salaryText, sourceURL sql.NullString
		published, updatedSource, lastSeen         sql.NullString
		payload                                    sql.NullString
		lat, lng, salMin, salMax                   sql.NullFloat64
		active                                     int64
	)
	err := s.db.QueryRowContext(ctx, selectOfferSQL+` WHERE provider = ? AND external_id = ?`,
		provider, externalID,
	).Scan(
		&o.Provider, &o.ExternalID, &title, &description, &company,
		&label, &city, &postal, &lat, &lng, &dep,
		&contract, &workTime, &experience, &education, &romeCode, &romeLabel,
		&salaryText, &salMin, &salMax,
		&sourceURL, &published, &updatedSource,
		&active, &lastSeen, &payload,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find offer: %w", err)
	}

	o.Title, o.Description, o.CompanyName = nullString(title), nullString(description), nullString(company)
	o.LocationLabel, o.City, o.PostalCode, o.Departement = nullString(label), nullString(city), nullString(postal), nullString(dep)
	o.Latitude, o.Longitude = nullFloat(lat), nullFloat(lng)
	o.ContractType, o.WorkTime = nullString(contract), nullString(workTime)
	o.Experience, o.EducationLevel = nullString(experience), nullString(education)
	o.RomeCode, o.RomeLabel = nullString(romeCode), nullString(romeLabel)
	o.SalaryText, o.SalaryMinMonthly, o.SalaryMaxMonthly = nullString(salaryText), nullFloat(salMin), nullFloat(salMax)
	o.SourceURL = nullString(sourceURL)
	o.PublishedAt, o.UpdatedAtSource = parseSQLiteTime(published), parseSQLiteTime(updatedSource)
	o.IsActive = active != 0
	if t := parseSQLiteTime(lastSeen); t != nil {
		o.LastSeenAt = *t
	}
	if payload.Valid {
		o.SourcePayload = []byte(payload.String)
	}
	return &o, nil
}

// CountActive counts active offers of one departement published in range.
func (s *SQLite) CountActive(ctx context.Context, f CountFilter) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offres
		 WHERE provider = ? AND departement = ? AND is_active = 1
		   AND published_at >= ? AND published_at < ?`,
		f.Provider, f.Departement,
		f.PublishedFrom.UTC().Format(sqliteTimeLayout), f.PublishedTo.UTC().Format(sqliteTimeLayout),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active: %w", err)
	}
	return n, nil
}

func sqliteTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func sqlitePayload(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func parseSQLiteTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(sqliteTimeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	return &nf.Float64
}
