package francetravail

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"offresync/sync-service/internal/model"
)

const (
	// MinWindowSpan is the smallest creation-date window the windower still
	// bisects. A window this narrow that overflows the ceiling is returned
	// truncated.
	MinWindowSpan = 24 * time.Hour

	paramMinCreationDate = "minCreationDate"
	paramMaxCreationDate = "maxCreationDate"
	dateLayout           = "2006-01-02T15:04:05Z"
)

// Pager fetches one range of results. *Client implements it.
type Pager interface {
	FetchPage(ctx context.Context, filters url.Values, from, size int) (*Page, error)
}

// SearchWindow is one pending [Min, Max) creation-date window.
type SearchWindow struct {
	Min, Max time.Time
	Depth    int
}

// Span is the window's duration.
func (w SearchWindow) Span() time.Duration { return w.Max.Sub(w.Min) }

// Split bisects the window at its midpoint, truncated to the second since the
// API only takes second-precision dates. ok is false when the window cannot
// be split further.
func (w SearchWindow) Split() (left, right SearchWindow, ok bool) {
	mid := w.Min.Add(w.Span() / 2).Truncate(time.Second)
	if !mid.After(w.Min) || !mid.Before(w.Max) {
		return w, w, false
	}
	left = SearchWindow{Min: w.Min, Max: mid, Depth: w.Depth + 1}
	right = SearchWindow{Min: mid, Max: w.Max, Depth: w.Depth + 1}
	return left, right, true
}

// Windower retrieves every listing of a creation-date range, bisecting the
// range wherever the upstream reports more matches than one query can reach.
type Windower struct {
	pager    Pager
	pageSize int
	minSpan  time.Duration
	logger   *slog.Logger

	// OnWindow, when set, observes every window before it is fetched.
	OnWindow func(SearchWindow)
}

// NewWindower builds a Windower over pager.
func NewWindower(pager Pager, logger *slog.Logger) *Windower {
	if logger == nil {
		logger = slog.Default()
	}
	return &Windower{
		pager:    pager,
		pageSize: PageSize,
		minSpan:  MinWindowSpan,
		logger:   logger.With("component", "windower"),
	}
}

// FetchWindow returns every listing matching filters whose creation date lies
// in [minDate, maxDate), each external id once. Any page error aborts the
// whole call.
func (w *Windower) FetchWindow(ctx context.Context, filters url.Values, minDate, maxDate time.Time) ([]model.RawListing, error) {
	minDate = minDate.UTC().Truncate(time.Second)
	maxDate = maxDate.UTC().Truncate(time.Second)
	if !maxDate.After(minDate) {
		return nil, nil
	}

	var (
		out  []model.RawListing
		seen = make(map[string]struct{})
	)

	// Pop order is left half first, so results come back in date order.
	stack := []SearchWindow{{Min: minDate, Max: maxDate}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		win := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if w.OnWindow != nil {
			w.OnWindow(win)
		}

		left, right, splittable := win.Split()
		splittable = splittable && win.Span() > w.minSpan

		items, total, err := w.fetchAllPages(ctx, windowFilters(filters, win), splittable)
		if err != nil {
			return nil, err
		}

		if total != nil && *total > ResultCeiling {
			if splittable {
				stack = append(stack, right, left)
				continue
			}
			w.logger.Warn("window still over the result ceiling, keeping truncated results",
				"min", win.Min.Format(dateLayout), "max", win.Max.Format(dateLayout),
				"total", *total, "kept", len(items))
		}

		for _, it := range items {
			if it.ID != "" {
				if _, dup := seen[it.ID]; dup {
					continue
				}
				seen[it.ID] = struct{}{}
			}
			out = append(out, it)
		}
	}

	return out, nil
}

// fetchAllPages walks the ranges of one query from index 0 up to the result
// ceiling. The last range may be clamped back to MaxFirstIndex, in which case
// the leading items already collected are dropped. With splittable set, an
// over-ceiling total stops the walk after the first page.
func (w *Windower) fetchAllPages(ctx context.Context, filters url.Values, splittable bool) ([]model.RawListing, *int, error) {
	var (
		items []model.RawListing
		total *int
		next  int
	)

	for next < ResultCeiling {
		page, err := w.pager.FetchPage(ctx, filters, next, w.pageSize)
		if err != nil {
			return nil, nil, err
		}
		if page.Total != nil {
			total = page.Total
		}
		if splittable && total != nil && *total > ResultCeiling {
			return nil, total, nil
		}

		got := page.Items
		if skip := next - page.First; skip > 0 {
			if skip >= len(got) {
				got = nil
			} else {
				got = got[skip:]
			}
		}
		items = append(items, got...)

		requested := page.Last - next + 1
		if len(got) < requested || page.Last >= MaxLastIndex {
			break
		}
		next = page.Last + 1
		if total != nil && next >= *total {
			break
		}
	}

	return items, total, nil
}

func windowFilters(filters url.Values, win SearchWindow) url.Values {
	q := make(url.Values, len(filters)+2)
	for k, v := range filters {
		q[k] = append([]string(nil), v...)
	}
	q.Set(paramMinCreationDate, win.Min.Format(dateLayout))
	q.Set(paramMaxCreationDate, win.Max.Format(dateLayout))
	return q
}
