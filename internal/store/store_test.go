package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedline/internal/model"
)

var clock = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "schedline.db"), Options{
		Location: time.UTC,
		Now:      func() time.Time { return clock },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func day(d, hh int) time.Time {
	return time.Date(2025, 3, d, hh, 0, 0, 0, time.UTC)
}

func TestItems(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	id, err := s.AddItem(ctx, Record{Entry: "~ Pay rent @s 2025-03-03", Type: "task", Subject: "Pay rent"})
	require.NoError(t, err)

	rec, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "~ Pay rent @s 2025-03-03", rec.Entry)
	assert.Equal(t, clock, rec.CreatedAt)
	assert.Nil(t, rec.FinishedAt)

	done := day(3, 12)
	rec.Entry = "~ Pay rent @s 2025-03-03 @f 2025-03-03 12:00 z UTC"
	rec.FinishedAt = &done
	require.NoError(t, s.UpdateItem(ctx, rec))

	list, err := s.ListItems(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = s.ListItems(ctx, Filter{IncludeFinished: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, done, *list[0].FinishedAt)

	require.NoError(t, s.DeleteItem(ctx, id))
	_, err = s.GetItem(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(s.DeleteItem(ctx, id), ErrNotFound))
	assert.True(t, errors.Is(s.UpdateItem(ctx, Record{ID: id}), ErrNotFound))
}

func TestOccurrences(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	id, err := s.AddItem(ctx, Record{Entry: "* Team sync", Type: "event", Subject: "Team sync"})
	require.NoError(t, err)

	first := []model.Occurrence{
		{Start: day(3, 9), End: day(3, 10)},
		{Start: day(10, 9), End: day(10, 10)},
	}
	require.NoError(t, s.ReplaceOccurrences(ctx, id, first, Expansion{Through: day(11, 0)}))

	more := []model.Occurrence{
		{Start: day(10, 9), End: day(10, 10)},
		{Start: day(17, 9)},
	}
	require.NoError(t, s.AppendOccurrences(ctx, id, more, Expansion{Through: day(18, 0)}))

	got, err := s.Occurrences(ctx, day(1, 0), day(31, 0))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Team sync", got[0].Subject)
	assert.Equal(t, day(3, 9), got[0].Start)
	assert.Equal(t, day(10, 10), got[1].End)
	assert.False(t, got[2].HasEnd())

	got, err = s.Occurrences(ctx, day(10, 9), day(17, 9))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, day(10, 9), got[0].Start)

	state, err := s.ExpansionState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Expansion{Through: day(18, 0)}, state)

	require.NoError(t, s.ReplaceOccurrences(ctx, id, nil, Expansion{Complete: true}))
	state, err = s.ExpansionState(ctx, id)
	require.NoError(t, err)
	assert.True(t, state.Complete)
	assert.True(t, state.Through.IsZero())
	got, err = s.Occurrences(ctx, day(1, 0), day(31, 0))
	require.NoError(t, err)
	assert.Empty(t, got)

	state, err = s.ExpansionState(ctx, 999)
	require.NoError(t, err)
	assert.Equal(t, Expansion{}, state)
}

func TestJobOccurrencesShareAStart(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	id, err := s.AddItem(ctx, Record{Entry: "^ Move", Type: "project", Subject: "Move"})
	require.NoError(t, err)

	occs := []model.Occurrence{
		{Start: day(8, 9), Job: "book van", JobID: 1},
		{Start: day(8, 9), Job: "pack", JobID: 2},
	}
	require.NoError(t, s.AppendOccurrences(ctx, id, occs, Expansion{Complete: true}))
	got, err := s.Occurrences(ctx, day(8, 0), day(9, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "book van", got[0].Job)
	assert.Equal(t, 2, got[1].JobID)
}

func TestUpdateDropsOccurrences(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	id, err := s.AddItem(ctx, Record{Entry: "~ a @s 2025-03-03", Type: "task", Subject: "a"})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceOccurrences(ctx, id, []model.Occurrence{{Start: day(3, 0)}}, Expansion{Complete: true}))

	rec, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	rec.Entry = "~ a @s 2025-03-04"
	require.NoError(t, s.UpdateItem(ctx, rec))

	got, err := s.Occurrences(ctx, day(1, 0), day(31, 0))
	require.NoError(t, err)
	assert.Empty(t, got)
	state, err := s.ExpansionState(ctx, id)
	require.NoError(t, err)
	assert.False(t, state.Complete)
}

func TestCompletions(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	id, err := s.AddItem(ctx, Record{Entry: "~ a", Type: "task", Subject: "a"})
	require.NoError(t, err)

	rec, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.CompleteItem(ctx, rec, Completion{Occurrence: day(3, 9), CompletedAt: day(3, 10)}))
	require.NoError(t, s.CompleteItem(ctx, rec, Completion{Job: "pack", CompletedAt: day(4, 10)}))

	got, err := s.Completions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []Completion{
		{ItemID: id, Occurrence: day(3, 9), CompletedAt: day(3, 10)},
		{ItemID: id, Job: "pack", CompletedAt: day(4, 10)},
	}, got)

	require.NoError(t, s.DeleteItem(ctx, id))
	got, err = s.Completions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCompleteItem(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	id, err := s.AddItem(ctx, Record{Entry: "~ a @s 2025-03-03 @+ 2025-03-05", Type: "task", Subject: "a"})
	require.NoError(t, err)

	rec, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	rec.Entry = "~ a @s 2025-03-05"
	require.NoError(t, s.CompleteItem(ctx, rec, Completion{Occurrence: day(3, 0), CompletedAt: day(3, 10)}))

	got, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "~ a @s 2025-03-05", got.Entry)
	log, err := s.Completions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []Completion{{ItemID: id, Occurrence: day(3, 0), CompletedAt: day(3, 10)}}, log)

	// A failing log write leaves the item untouched.
	_, err = s.db.ExecContext(ctx, `DROP TABLE completions`)
	require.NoError(t, err)
	got.Entry = "~ a"
	require.Error(t, s.CompleteItem(ctx, got, Completion{Occurrence: day(5, 0), CompletedAt: day(5, 10)}))
	got, err = s.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "~ a @s 2025-03-05", got.Entry)

	missing := Record{ID: id + 100, Entry: "~ b", Type: "task", Subject: "b"}
	assert.True(t, errors.Is(s.CompleteItem(ctx, missing, Completion{CompletedAt: day(5, 10)}), ErrNotFound))
}

func TestReplaceSource(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	manual, err := s.AddItem(ctx, Record{Entry: "~ keep", Type: "task", Subject: "keep"})
	require.NoError(t, err)

	res, err := s.ReplaceSource(ctx, "team", []Record{
		{UID: "a", Entry: "* A @s 2025-03-03", Type: "event", Subject: "A"},
		{UID: "b", Entry: "* B @s 2025-03-04", Type: "event", Subject: "B"},
		{UID: "b", Entry: "* dup", Type: "event", Subject: "dup"},
	})
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Added: 2}, res)

	res, err = s.ReplaceSource(ctx, "team", []Record{
		{UID: "a", Entry: "* A @s 2025-03-03", Type: "event", Subject: "A"},
		{UID: "c", Entry: "* C @s 2025-03-05", Type: "event", Subject: "C"},
		{UID: "b", Entry: "* B @s 2025-03-06", Type: "event", Subject: "B"},
	})
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Added: 1, Updated: 1, Unchanged: 1}, res)

	res, err = s.ReplaceSource(ctx, "team", []Record{
		{UID: "c", Entry: "* C @s 2025-03-05", Type: "event", Subject: "C"},
	})
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Unchanged: 1, Removed: 2}, res)

	list, err := s.ListItems(ctx, Filter{Source: "team"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].UID)

	_, err = s.GetItem(ctx, manual)
	require.NoError(t, err)

	_, err = s.ReplaceSource(ctx, "", nil)
	assert.Error(t, err)
}
