package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offresync/sync-service/internal/server"
	"offresync/sync-service/internal/syncer"
)

type fakeSyncer struct {
	running atomic.Bool
	last    *syncer.Stats

	mu    sync.Mutex
	calls []syncer.Options
}

func (f *fakeSyncer) Run(_ context.Context, opts syncer.Options) (*syncer.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	return &syncer.Stats{}, nil
}

func (f *fakeSyncer) Running() bool { return f.running.Load() }
func (f *fakeSyncer) LastStats() *syncer.Stats { return f.last }

func newHandler(f *fakeSyncer) *server.Handler {
	return server.NewHandler(context.Background(), f, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func do(t *testing.T, h *server.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newHandler(&fakeSyncer{}), http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"sync-service","version":"test"}`, rec.Body.String())
}

func TestStartSync_Accepted(t *testing.T) {
	f := &fakeSyncer{}
	h := newHandler(f)

	rec := do(t, h, http.MethodPost, "/sync?days=3&departements=31,%202A")
	h.Wait()

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.calls, 1)
	assert.Equal(t, 3, f.calls[0].LookbackDays)
	assert.Equal(t, []string{"31", "2A"}, f.calls[0].Partitions)
}

func TestStartSync_DefaultDays(t *testing.T) {
	f := &fakeSyncer{}
	h := newHandler(f)

	rec := do(t, h, http.MethodPost, "/sync")
	h.Wait()

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.calls, 1)
	assert.Equal(t, syncer.DefaultLookbackDays, f.calls[0].LookbackDays)
	assert.Empty(t, f.calls[0].Partitions)
}

func TestStartSync_ConflictWhileRunning(t *testing.T) {
	f := &fakeSyncer{}
	f.running.Store(true)
	h := newHandler(f)

	rec := do(t, h, http.MethodPost, "/sync?days=14")
	h.Wait()

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, f.calls)
}

func TestStartSync_BadDays(t *testing.T) {
	for _, days := range []string{"0", "-1", "abc", "366"} {
		t.Run(days, func(t *testing.T) {
			f := &fakeSyncer{}
			rec := do(t, newHandler(f), http.MethodPost, "/sync?days="+days)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, f.calls)
		})
	}
}

func TestStartSync_MethodNotAllowed(t *testing.T) {
	rec := do(t, newHandler(&fakeSyncer{}), http.MethodGet, "/sync")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSyncStatus(t *testing.T) {
	f := &fakeSyncer{last: &syncer.Stats{RunID: "run-7", Upserted: 42, Deactivated: 5}}
	f.running.Store(true)

	rec := do(t, newHandler(f), http.MethodGet, "/sync/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Running bool          `json:"running"`
		Last    *syncer.Stats `json:"last"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Running)
	require.NotNil(t, body.Last)
	assert.Equal(t, "run-7", body.Last.RunID)
	assert.Equal(t, 42, body.Last.Upserted)
}

func TestSyncStatus_BeforeFirstPass(t *testing.T) {
	rec := do(t, newHandler(&fakeSyncer{}), http.MethodGet, "/sync/status")
	assert.JSONEq(t, `{"running":false,"last":null}`, rec.Body.String())
}
