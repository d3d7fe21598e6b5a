// Package store persists offres rows and sync runs.
//
// Two backends implement the same contract: Postgres through pgx for
// production, SQLite for local runs and tests.
package store

import (
	"context"
	"embed"
	"errors"
	"strings"
	"time"

	"offresync/sync-service/internal/model"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// ErrNotFound is returned when no offer matches a natural key.
var ErrNotFound = errors.New("offer not found")

// Reconcile selects the rows a sync pass deactivates: active rows of
// Provider last seen strictly before SeenBefore. A non-empty Departements
// restricts the update to those partitions.
type Reconcile struct {
	Provider     string
	SeenBefore   time.Time
	Departements []string
}

// CountFilter selects active offers of one departement published in
// [PublishedFrom, PublishedTo).
type CountFilter struct {
	Provider      string
	Departement   string
	PublishedFrom time.Time
	PublishedTo   time.Time
}

// Store is the storage contract of the sync service.
type Store interface {
	// UpsertOffers writes one chunk as a single unit of work, replacing
	// existing rows with the same (provider, external_id).
	UpsertOffers(ctx context.Context, offers []model.Offer) error
	DeactivateStale(ctx context.Context, r Reconcile) (int64, error)
	RecordRun(ctx context.Context, run model.SyncRun) error
	FindOffer(ctx context.Context, provider, externalID string) (*model.Offer, error)
	CountActive(ctx context.Context, f CountFilter) (int, error)
	EnsureSchema(ctx context.Context) error
}

// offerColumns lists the offres columns written by an upsert, in the order
// of offerValues.
var offerColumns = []string{
	"provider", "external_id", "title", "description", "company_name",
	"location_label", "city", "postal_code", "latitude", "longitude", "departement",
	"contract_type", "work_time", "experience", "education_level", "rome_code", "rome_label",
	"salary_text", "salary_min_monthly", "salary_max_monthly",
	"source_url", "published_at", "updated_at_source",
	"is_active", "last_seen_at", "source_payload",
}

// offerValues flattens o in offerColumns order. timeArg and payloadArg adapt
// timestamps and the raw payload to the backend's bind types.
func offerValues(o model.Offer, timeArg func(*time.Time) any, payloadArg func([]byte) any) []any {
	seen := o.LastSeenAt
	return []any{
		o.Provider, o.ExternalID, o.Title, o.Description, o.CompanyName,
		o.LocationLabel, o.City, o.PostalCode, o.Latitude, o.Longitude, o.Departement,
		o.ContractType, o.WorkTime, o.Experience, o.EducationLevel, o.RomeCode, o.RomeLabel,
		o.SalaryText, o.SalaryMinMonthly, o.SalaryMaxMonthly,
		o.SourceURL, timeArg(o.PublishedAt), timeArg(o.UpdatedAtSource),
		o.IsActive, timeArg(&seen), payloadArg(o.SourcePayload),
	}
}

// upsertSQL builds the insert-or-replace statement for a backend.
// placeholder renders the n-th (1-based) bind parameter and greatest the
// function keeping last_seen_at monotonic.
func upsertSQL(placeholder func(n int) string, greatest, now string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO offres (")
	b.WriteString(strings.Join(offerColumns, ", "))
	b.WriteString(", updated_at) VALUES (")
	for i := range offerColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder(i + 1))
	}
	b.WriteString(", " + now + ") ON CONFLICT (provider, external_id) DO UPDATE SET ")
	first := true
	for _, col := range offerColumns {
		if col == "provider" || col == "external_id" {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		if col == "last_seen_at" {
			b.WriteString("last_seen_at = " + greatest + "(offres.last_seen_at, excluded.last_seen_at)")
			continue
		}
		b.WriteString(col + " = excluded." + col)
	}
	b.WriteString(", updated_at = " + now)
	return b.String()
}

// selectOfferSQL is the column list read back by FindOffer.
var selectOfferSQL = "SELECT " + strings.Join(offerColumns, ", ") + " FROM offres"

func schemaStatements(name string) ([]string, error) {
	raw, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return nil, err
	}
	var stmts []string
	for _, s := range strings.Split(string(raw), ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts, nil
}
