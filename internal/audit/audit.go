// Package audit compares what France Travail lists for a period with what
// the local table holds as active, departement by departement.
package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"text/tabwriter"
	"time"

	"offresync/sync-service/internal/model"
	"offresync/sync-service/internal/store"
)

// Fetcher lists upstream offers created in [minDate, maxDate).
// *francetravail.Windower implements it.
type Fetcher interface {
	FetchWindow(ctx context.Context, filters url.Values, minDate, maxDate time.Time) ([]model.RawListing, error)
}

// Counter counts local active offers. store.Store implements it.
type Counter interface {
	CountActive(ctx context.Context, f store.CountFilter) (int, error)
}

// Row is the comparison for one departement.
type Row struct {
	Departement string
	Upstream    int
	Local       int
}

// Delta is Local - Upstream: positive means stale local rows, negative
// means missed offers.
func (r Row) Delta() int { return r.Local - r.Upstream }

// Report is one audit run.
type Report struct {
	Since, Until time.Time
	Rows         []Row
}

// HasGap reports whether any departement differs.
func (r *Report) HasGap() bool {
	for _, row := range r.Rows {
		if row.Delta() != 0 {
			return true
		}
	}
	return false
}

// Totals sums both sides over every row.
func (r *Report) Totals() (upstream, local int) {
	for _, row := range r.Rows {
		upstream += row.Upstream
		local += row.Local
	}
	return upstream, local
}

// Write prints the report as an aligned table.
func (r *Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "DEP\tUPSTREAM\tLOCAL\tDELTA\t\n")
	for _, row := range r.Rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%+d\t\n", row.Departement, row.Upstream, row.Local, row.Delta())
	}
	up, local := r.Totals()
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%+d\t\n", up, local, local-up)
	return tw.Flush()
}

// Auditor runs audits over a fixed partition list.
type Auditor struct {
	fetcher    Fetcher
	counter    Counter
	partitions []model.Partition
	logger     *slog.Logger
}

// New returns an Auditor. An empty partition list takes every departement.
func New(fetcher Fetcher, counter Counter, partitions []model.Partition, logger *slog.Logger) *Auditor {
	if len(partitions) == 0 {
		partitions = model.Departements()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		fetcher:    fetcher,
		counter:    counter,
		partitions: partitions,
		logger:     logger.With("component", "audit"),
	}
}

// Run compares [since, until) for every partition, or only those in codes
// when given. Any fetch or count error aborts the audit.
func (a *Auditor) Run(ctx context.Context, since, until time.Time, codes ...string) (*Report, error) {
	rep := &Report{Since: since.UTC(), Until: until.UTC()}

	for _, p := range selectCodes(a.partitions, codes) {
		listings, err := a.fetcher.FetchWindow(ctx, url.Values{"departement": {p.Code}}, since, until)
		if err != nil {
			return nil, fmt.Errorf("audit %s upstream: %w", p.Code, err)
		}
		local, err := a.counter.CountActive(ctx, store.CountFilter{
			Provider:      model.ProviderFranceTravail,
			Departement:   p.Code,
			PublishedFrom: rep.Since,
			PublishedTo:   rep.Until,
		})
		if err != nil {
			return nil, fmt.Errorf("audit %s local: %w", p.Code, err)
		}

		row := Row{Departement: p.Code, Upstream: len(listings), Local: local}
		rep.Rows = append(rep.Rows, row)
		a.logger.Debug("departement audited", "departement", p.Code,
			"upstream", row.Upstream, "local", row.Local, "delta", row.Delta())
	}

	return rep, nil
}

func selectCodes(all []model.Partition, codes []string) []model.Partition {
	if len(codes) == 0 {
		return all
	}
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[c] = true
	}
	var out []model.Partition
	for _, p := range all {
		if want[p.Code] {
			out = append(out, p)
		}
	}
	return out
}
