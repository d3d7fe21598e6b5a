package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offresync/sync-service/internal/scheduler"
	"offresync/sync-service/internal/syncer"
)

type countingRunner struct {
	mu    sync.Mutex
	calls []syncer.Options
	err   error
}

func (r *countingRunner) Run(_ context.Context, opts syncer.Options) (*syncer.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, opts)
	return &syncer.Stats{}, r.err
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestScheduler_RunsOnStart(t *testing.T) {
	r := &countingRunner{}
	s := scheduler.New(r, "0 */2 * * *", 7, true, quiet())

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 7, r.calls[0].LookbackDays)
}

func TestScheduler_NoRunOnStart(t *testing.T) {
	r := &countingRunner{}
	s := scheduler.New(r, "0 */2 * * *", 14, false, quiet())

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Zero(t, r.count())
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	r := &countingRunner{err: errors.New("upstream down")}
	s := scheduler.New(r, "@every 1s", 14, false, quiet())

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	// Failing passes are logged and the schedule keeps going.
	require.Eventually(t, func() bool { return r.count() >= 2 }, 4*time.Second, 20*time.Millisecond)
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := scheduler.New(&countingRunner{}, "every two hours", 14, true, quiet())
	assert.Error(t, s.Start(context.Background()))
}

func TestScheduler_SkipsWhenContextDone(t *testing.T) {
	r := &countingRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := scheduler.New(r, "0 */2 * * *", 14, true, quiet())
	require.NoError(t, s.Start(ctx))
	s.Stop()

	assert.Zero(t, r.count())
}
