package syncer_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/outbox"
	"github.com/roach88/replica/internal/syncer"
	"github.com/roach88/replica/internal/testutil"
)

func TestWorker_StartSchedulesCycles(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	fc := clockwork.NewFakeClock()

	var cycles atomic.Int32
	pull := func(ctx context.Context, cursor int64) (syncer.Page, error) {
		cycles.Add(1)
		return syncer.Page{Cursor: cursor}, nil
	}
	w := syncer.New(eng, nil, pull, syncer.Options{
		Interval: time.Minute,
		Clock:    fc,
		Logger:   zerolog.Nop(),
	})

	w.Start(context.Background())
	defer w.Stop()
	assert.True(t, w.Status().Running)

	require.Eventually(t, func() bool { return cycles.Load() == 1 },
		time.Second, time.Millisecond, "immediate first cycle")

	// The loop is parked on the interval timer; advancing fires cycle two.
	fc.BlockUntil(1)
	fc.Advance(time.Minute)
	require.Eventually(t, func() bool { return cycles.Load() == 2 },
		time.Second, time.Millisecond, "scheduled second cycle")

	w.Stop()
	assert.False(t, w.Status().Running)
	after := cycles.Load()
	fc.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, cycles.Load(), "stopped worker must not cycle")
}

func TestWorker_StartTwiceIsNoop(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	fc := clockwork.NewFakeClock()

	var cycles atomic.Int32
	pull := func(ctx context.Context, cursor int64) (syncer.Page, error) {
		cycles.Add(1)
		return syncer.Page{Cursor: cursor}, nil
	}
	w := syncer.New(eng, nil, pull, syncer.Options{
		Interval: time.Minute,
		Clock:    fc,
		Logger:   zerolog.Nop(),
	})

	ctx := context.Background()
	w.Start(ctx)
	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool { return cycles.Load() == 1 },
		time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), cycles.Load(), "second Start must not spawn a loop")
}

func TestWorker_NestedSyncNowIsNoop(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()

	var w *syncer.Worker
	cycles := 0
	pull := func(ctx context.Context, cursor int64) (syncer.Page, error) {
		cycles++
		// Re-entering mid-cycle must hit the processing guard, not start
		// a second cycle.
		w.SyncNow(ctx)
		return syncer.Page{Cursor: cursor}, nil
	}
	w = syncer.New(eng, nil, pull, syncer.Options{Logger: zerolog.Nop()})

	w.SyncNow(ctx)
	assert.Equal(t, 1, cycles)

	w.SyncNow(ctx)
	assert.Equal(t, 2, cycles, "guard must clear once the cycle finishes")
}

func TestWorker_PushCompletesBeforePull(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()
	for _, u := range []struct{ id, email string }{
		{"u-1", "a@example.com"}, {"u-2", "b@example.com"}, {"u-3", "c@example.com"},
	} {
		createUser(t, eng, u.id, u.email)
	}

	var phases []string
	push := func(ctx context.Context, batch []*outbox.Event) ([]syncer.Result, error) {
		phases = append(phases, "push")
		out := make([]syncer.Result, len(batch))
		for i, ev := range batch {
			out[i] = syncer.Result{ID: ev.ID}
		}
		return out, nil
	}
	pull := func(ctx context.Context, cursor int64) (syncer.Page, error) {
		phases = append(phases, "pull")
		batch, err := eng.Outbox().NextBatch(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, batch, "pull must only see a drained outbox")
		return syncer.Page{Cursor: cursor}, nil
	}
	w := syncer.New(eng, push, pull, syncer.Options{
		PushBatchSize: 1,
		Logger:        zerolog.Nop(),
	})
	w.SyncNow(ctx)

	assert.Equal(t, []string{"push", "push", "push", "pull"}, phases)
}

func TestWorker_StatusSubscription(t *testing.T) {
	eng, _ := testutil.NewEngine(t)

	w := syncer.New(eng, nil, func(ctx context.Context, cursor int64) (syncer.Page, error) {
		return syncer.Page{Cursor: cursor}, nil
	}, syncer.Options{Logger: zerolog.Nop()})

	var snapshots []syncer.Status
	tok := w.Subscribe(func(s syncer.Status) { snapshots = append(snapshots, s) })
	require.Len(t, snapshots, 1, "subscription delivers the current snapshot")

	w.SyncNow(context.Background())
	require.Greater(t, len(snapshots), 1)
	last := snapshots[len(snapshots)-1]
	assert.False(t, last.Processing)
	assert.NotNil(t, last.LastSyncAt)

	w.Unsubscribe(tok)
	before := len(snapshots)
	w.SyncNow(context.Background())
	assert.Equal(t, before, len(snapshots), "unsubscribed observer stays quiet")
}
