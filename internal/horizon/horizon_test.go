package horizon

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedline/internal/engine"
	"schedline/internal/store"
)

const week = 7 * 24 * time.Hour

type fixture struct {
	now   time.Time
	store *store.Store
	svc   *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "h.db"), store.Options{
		Location: time.UTC,
		Now:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	f.store = s

	eng := engine.New(engine.Options{Clock: func() time.Time { return f.now }, Location: time.UTC})
	f.svc = New(cfg, s, eng)
	return f
}

func (f *fixture) add(t *testing.T, entry string) int64 {
	t.Helper()
	id, err := f.store.AddItem(context.Background(), store.Record{Entry: entry, Type: "task", Subject: entry})
	require.NoError(t, err)
	return id
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	occs, err := f.store.Occurrences(context.Background(), time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return len(occs)
}

func TestMaterializeOpenEnded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Horizon: week})
	id := f.add(t, "~ Stretch @s 2025-03-03 07:00 @r d")

	require.NoError(t, f.svc.Materialize(ctx, id))
	assert.Equal(t, 5, f.count(t))
	state, err := f.store.ExpansionState(ctx, id)
	require.NoError(t, err)
	assert.False(t, state.Complete)
	assert.Equal(t, time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC), state.Through)

	// Within the horizon nothing changes.
	require.NoError(t, f.svc.Materialize(ctx, id))
	assert.Equal(t, 5, f.count(t))

	f.now = f.now.AddDate(0, 0, 4)
	require.NoError(t, f.svc.Materialize(ctx, id))
	assert.Equal(t, 12, f.count(t))
	state, err = f.store.ExpansionState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), state.Through)
}

func TestMaterializeBackfill(t *testing.T) {
	f := newFixture(t, Config{Horizon: week, Backfill: 2 * 24 * time.Hour})
	id := f.add(t, "~ Stretch @s 2025-02-20 07:00 @r d")
	require.NoError(t, f.svc.Materialize(context.Background(), id))
	// Two blocks from Feb 27 cover Feb 27 .. Mar 12.
	assert.Equal(t, 14, f.count(t))
}

func TestMaterializeFinite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Horizon: week})
	id := f.add(t, "* Team sync @s 2025-03-03 09:00 @e 1h @r w &i 1 &c 4")

	require.NoError(t, f.svc.Materialize(ctx, id))
	assert.Equal(t, 4, f.count(t))
	state, err := f.store.ExpansionState(ctx, id)
	require.NoError(t, err)
	assert.True(t, state.Complete)

	f.now = f.now.AddDate(1, 0, 0)
	require.NoError(t, f.svc.Materialize(ctx, id))
	assert.Equal(t, 4, f.count(t))

	note := f.add(t, "~ read more")
	require.NoError(t, f.svc.Materialize(ctx, note))
	state, err = f.store.ExpansionState(ctx, note)
	require.NoError(t, err)
	assert.True(t, state.Complete)
}

func TestMaterializeConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Horizon: week})
	id := f.add(t, "~ Stretch @s 2025-03-03 07:00 @r d")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.Materialize(ctx, id))
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, f.count(t))
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	var synced atomic.Int32
	f := newFixture(t, Config{Horizon: week, Sync: func(context.Context) error {
		synced.Add(1)
		return nil
	}})
	f.add(t, "~ Stretch @s 2025-03-03 07:00 @r d")
	f.add(t, "x broken")
	f.add(t, "* Team sync @s 2025-03-03 09:00 @e 1h @r w &i 1 &c 4")

	err := f.svc.Refresh(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 items failed")
	assert.Equal(t, int32(1), synced.Load())
	assert.Equal(t, 9, f.count(t))
}

func TestStart(t *testing.T) {
	f := newFixture(t, Config{Horizon: week, Refresh: "not a spec"})
	assert.Error(t, f.svc.Start(context.Background()))

	f = newFixture(t, Config{Horizon: week})
	f.add(t, "~ Stretch @s 2025-03-03 07:00 @r d")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.svc.Start(ctx))
	assert.Equal(t, 5, f.count(t))
	assert.Error(t, f.svc.Start(ctx))
	cancel()
	f.svc.Stop()
}

func TestMaterializeUntil(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Horizon: week})
	id := f.add(t, "~ Stretch @s 2025-03-03 07:00 @r d")

	require.NoError(t, f.svc.MaterializeUntil(ctx, id, f.now.AddDate(0, 0, 10)))
	state, err := f.store.ExpansionState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), state.Through)
	assert.Equal(t, 12, f.count(t))

	// An earlier bound never shrinks the materialized window.
	require.NoError(t, f.svc.MaterializeUntil(ctx, id, f.now))
	assert.Equal(t, 12, f.count(t))
}

func TestMaterializeAllBySource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Horizon: week})
	f.add(t, "~ Stretch @s 2025-03-03 07:00 @r d")
	_, err := f.store.ReplaceSource(ctx, "team", []store.Record{{
		Entry: "* Standup @s 2025-03-03 09:00", Type: "event", Subject: "Standup", UID: "standup",
	}})
	require.NoError(t, err)

	require.NoError(t, f.svc.MaterializeAll(ctx, store.Filter{Source: "team"}))
	assert.Equal(t, 1, f.count(t))
}

func TestMaterializeDenseRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Horizon: week})
	id := f.add(t, "~ Ping @s 2025-03-03 07:00 @r n &i 1")

	require.NoError(t, f.svc.Materialize(ctx, id))
	// 2025-03-03 07:00 up to 2025-03-08 00:00, one per minute.
	assert.Equal(t, 6780, f.count(t))
	state, err := f.store.ExpansionState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC), state.Through)

	occs, err := f.store.Occurrences(ctx, time.Date(2025, 3, 6, 12, 0, 0, 0, time.UTC), time.Date(2025, 3, 6, 12, 5, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, occs, 5)
}
