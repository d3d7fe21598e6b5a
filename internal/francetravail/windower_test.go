package francetravail_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offresync/sync-service/internal/francetravail"
	"offresync/sync-service/internal/model"
)

type dated struct {
	id      string
	created time.Time
}

// fakePager serves a synthetic dataset the way the search endpoint does:
// creation-date filtering, Range clamping and a Content-Range total.
type fakePager struct {
	mu   sync.Mutex
	data []dated
	// inclusiveMax makes maxCreationDate inclusive, so boundary items show
	// up in two adjacent windows.
	inclusiveMax bool
	failOnCall   int
	calls        int
	filters      []url.Values
}

func (p *fakePager) FetchPage(_ context.Context, filters url.Values, from, size int) (*francetravail.Page, error) {
	p.mu.Lock()
	p.calls++
	p.filters = append(p.filters, filters)
	call := p.calls
	p.mu.Unlock()

	if p.failOnCall == call {
		return nil, fmt.Errorf("%w: search returned 503", francetravail.ErrFetchFailure)
	}

	minDate, err := time.Parse(time.RFC3339, filters.Get("minCreationDate"))
	if err != nil {
		return nil, err
	}
	maxDate, err := time.Parse(time.RFC3339, filters.Get("maxCreationDate"))
	if err != nil {
		return nil, err
	}

	var matches []dated
	for _, d := range p.data {
		if d.created.Before(minDate) || d.created.After(maxDate) {
			continue
		}
		if d.created.Equal(maxDate) && !p.inclusiveMax {
			continue
		}
		matches = append(matches, d)
	}

	first, last := francetravail.ClampRange(from, size)
	total := len(matches)
	page := &francetravail.Page{Total: &total, First: first, Last: last}
	for i := first; i <= last && i < len(matches); i++ {
		page.Items = append(page.Items, raw(matches[i].id))
	}
	return page, nil
}

func raw(id string) model.RawListing {
	return model.RawListing{ID: id, Payload: json.RawMessage(fmt.Sprintf(`{"id":%q}`, id))}
}

// spread returns n items created every step from start.
func spread(n int, start time.Time, step time.Duration) []dated {
	out := make([]dated, n)
	for i := range out {
		out[i] = dated{id: fmt.Sprintf("O%05d", i), created: start.Add(time.Duration(i) * step)}
	}
	return out
}

var (
	windowMin = time.Date(2025, 2, 24, 12, 0, 0, 0, time.UTC)
	windowMax = windowMin.Add(14 * 24 * time.Hour)
)

func newWindower(p francetravail.Pager) *francetravail.Windower {
	return francetravail.NewWindower(p, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func ids(items []model.RawListing) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ID]++
	}
	return out
}

func TestWindower_SmallResultSetIsOneWindow(t *testing.T) {
	p := &fakePager{data: spread(40, windowMin, time.Hour)}
	w := newWindower(p)
	var windows []francetravail.SearchWindow
	w.OnWindow = func(win francetravail.SearchWindow) { windows = append(windows, win) }

	items, err := w.FetchWindow(context.Background(), nil, windowMin, windowMax)
	require.NoError(t, err)

	assert.Len(t, items, 40)
	assert.Len(t, windows, 1)
	assert.Equal(t, 1, p.calls)
}

func TestWindower_ExactlyAtCeiling(t *testing.T) {
	p := &fakePager{data: spread(francetravail.ResultCeiling, windowMin, 5*time.Minute)}
	w := newWindower(p)
	var windows int
	w.OnWindow = func(francetravail.SearchWindow) { windows++ }

	items, err := w.FetchWindow(context.Background(), nil, windowMin, windowMax)
	require.NoError(t, err)

	got := ids(items)
	assert.Len(t, items, francetravail.ResultCeiling)
	assert.Len(t, got, francetravail.ResultCeiling, "no duplicates from the clamped last page")
	assert.Equal(t, 1, windows, "a result set at the ceiling is not split")
	// 0-149 … 900-1049, then the clamped 1000-1149.
	assert.Equal(t, 8, p.calls)
}

func TestWindower_SplitsDenseRangeIntoContiguousLeaves(t *testing.T) {
	data := spread(2500, windowMin, 483*time.Second)
	p := &fakePager{data: data}
	w := newWindower(p)
	var windows []francetravail.SearchWindow
	w.OnWindow = func(win francetravail.SearchWindow) { windows = append(windows, win) }

	items, err := w.FetchWindow(context.Background(), url.Values{"departement": {"31"}}, windowMin, windowMax)
	require.NoError(t, err)

	got := ids(items)
	assert.Len(t, items, 2500)
	for _, d := range data {
		assert.Equal(t, 1, got[d.id], d.id)
	}

	// Leaves are the windows that were not split again.
	var leaves []francetravail.SearchWindow
	for _, win := range windows {
		n := 0
		for _, d := range data {
			if !d.created.Before(win.Min) && d.created.Before(win.Max) {
				n++
			}
		}
		if n <= francetravail.ResultCeiling {
			leaves = append(leaves, win)
		}
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Min.Before(leaves[j].Min) })

	require.GreaterOrEqual(t, len(leaves), 3)
	assert.True(t, leaves[0].Min.Equal(windowMin))
	assert.True(t, leaves[len(leaves)-1].Max.Equal(windowMax))
	for i := 1; i < len(leaves); i++ {
		assert.True(t, leaves[i-1].Max.Equal(leaves[i].Min), "gap or overlap between leaves %d and %d", i-1, i)
	}

	for _, f := range p.filters {
		assert.Equal(t, "31", f.Get("departement"))
	}
}

func TestWindower_WindowBoundaries(t *testing.T) {
	data := []dated{
		{id: "at-min", created: windowMin},
		{id: "inside", created: windowMin.Add(time.Hour)},
		{id: "at-max", created: windowMax},
	}
	items, err := newWindower(&fakePager{data: data}).FetchWindow(context.Background(), nil, windowMin, windowMax)
	require.NoError(t, err)

	got := ids(items)
	assert.Contains(t, got, "at-min")
	assert.Contains(t, got, "inside")
	assert.NotContains(t, got, "at-max")
}

func TestWindower_DeduplicatesAcrossInclusiveBoundaries(t *testing.T) {
	data := spread(2500, windowMin, 483*time.Second)
	p := &fakePager{data: data, inclusiveMax: true}

	items, err := newWindower(p).FetchWindow(context.Background(), nil, windowMin, windowMax)
	require.NoError(t, err)

	got := ids(items)
	assert.Len(t, items, len(got))
	assert.Len(t, got, 2500)
}

func TestWindower_DenseSingleDayIsTruncated(t *testing.T) {
	dayMin := windowMin
	dayMax := dayMin.Add(24 * time.Hour)
	p := &fakePager{data: spread(1500, dayMin, 20*time.Second)}
	w := newWindower(p)
	var windows int
	w.OnWindow = func(francetravail.SearchWindow) { windows++ }

	items, err := w.FetchWindow(context.Background(), nil, dayMin, dayMax)
	require.NoError(t, err)

	assert.Len(t, items, francetravail.ResultCeiling)
	assert.Equal(t, 1, windows)
}

func TestWindower_PageErrorAbortsEverything(t *testing.T) {
	p := &fakePager{data: spread(2500, windowMin, 483*time.Second), failOnCall: 5}

	items, err := newWindower(p).FetchWindow(context.Background(), nil, windowMin, windowMax)
	require.Error(t, err)
	assert.True(t, errors.Is(err, francetravail.ErrFetchFailure))
	assert.Nil(t, items)
}

func TestWindower_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newWindower(&fakePager{}).FetchWindow(ctx, nil, windowMin, windowMax)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWindower_EmptyRange(t *testing.T) {
	p := &fakePager{}
	items, err := newWindower(p).FetchWindow(context.Background(), nil, windowMax, windowMin)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, p.calls)
}

func TestWindower_DateFilterFormat(t *testing.T) {
	p := &fakePager{}
	from := time.Date(2025, 3, 1, 0, 0, 0, 999, time.FixedZone("CET", 3600))
	to := from.Add(48 * time.Hour)

	_, err := newWindower(p).FetchWindow(context.Background(), url.Values{"motsCles": {"go"}}, from, to)
	require.NoError(t, err)

	require.Len(t, p.filters, 1)
	assert.Equal(t, "2025-02-28T23:00:00Z", p.filters[0].Get("minCreationDate"))
	assert.Equal(t, "2025-03-02T23:00:00Z", p.filters[0].Get("maxCreationDate"))
	assert.Equal(t, "go", p.filters[0].Get("motsCles"))
}

func TestSearchWindow_Split(t *testing.T) {
	win := francetravail.SearchWindow{
		Min: windowMin,
		Max: windowMin.Add(3*time.Hour + time.Second),
	}
	left, right, ok := win.Split()
	require.True(t, ok)

	assert.True(t, left.Min.Equal(win.Min))
	assert.True(t, left.Max.Equal(right.Min))
	assert.True(t, right.Max.Equal(win.Max))
	assert.Equal(t, time.Duration(0), left.Max.Sub(left.Max.Truncate(time.Second)))
	assert.Equal(t, 1, left.Depth)

	_, _, ok = francetravail.SearchWindow{Min: windowMin, Max: windowMin.Add(time.Second)}.Split()
	assert.False(t, ok)
}
