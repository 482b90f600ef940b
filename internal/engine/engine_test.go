package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedline/internal/entry"
	"schedline/internal/expand"
	"schedline/internal/finish"
)

var now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newEngine() *Engine {
	return New(Options{
		Clock:    func() time.Time { return now },
		Location: time.UTC,
	})
}

func TestParseMaterializeFinish(t *testing.T) {
	e := newEngine()
	res, err := e.Parse("~ Team sync @s 2025-03-03 09:00 @e 1h @r w &i 1 &c 4")
	require.NoError(t, err)
	it := res.Item

	occ, err := e.Materialize(it, nil)
	require.NoError(t, err)
	assert.True(t, occ.Complete)
	require.Len(t, occ.Occurrences, 4)
	assert.Equal(t, time.Date(2025, 3, 24, 9, 0, 0, 0, time.UTC), occ.Occurrences[3].Start)

	done, err := e.Finish(it, now, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, finish.RuleRecurring, done.State)
	assert.Equal(t, "DTSTART:20250310T090000Z\nRRULE:FREQ=WEEKLY;INTERVAL=1;COUNT=3", done.RuleSet.String())

	occ, err = e.MaterializeRuleSet(done.RuleSet, it.Extent, nil)
	require.NoError(t, err)
	assert.Len(t, occ.Occurrences, 3)
}

func TestMaterializeOpenEnded(t *testing.T) {
	e := newEngine()
	res, err := e.Parse("~ Stretch @s 2025-03-03 07:00 @r d")
	require.NoError(t, err)

	_, err = e.Materialize(res.Item, nil)
	assert.True(t, errors.Is(err, expand.ErrNoWindow))

	occ, err := e.Materialize(res.Item, &expand.Window{From: now, To: now.AddDate(0, 0, 7)})
	require.NoError(t, err)
	assert.False(t, occ.Complete)
	assert.Len(t, occ.Occurrences, 6)
}

func TestFinishJob(t *testing.T) {
	e := newEngine()
	res, err := e.Parse("^ Move @s 2025-04-01 @j pack &r 1 @j load &r 2: 1")
	require.NoError(t, err)

	done, err := e.FinishJob(res.Item, finish.JobRef{ID: 1}, now)
	require.NoError(t, err)
	require.NotNil(t, done.Graph)
	assert.Equal(t, []int{2}, done.Graph.Available)
}

func TestParseAllKeepsOrder(t *testing.T) {
	e := newEngine()
	var entries []string
	for i := 0; i < 40; i++ {
		switch i % 4 {
		case 0:
			entries = append(entries, fmt.Sprintf("~ task %d @s 2025-03-%02d", i, i%28+1))
		case 1:
			entries = append(entries, fmt.Sprintf("* event %d", i))
		case 2:
			entries = append(entries, fmt.Sprintf("%% note %d @t n%d", i, i))
		default:
			entries = append(entries, fmt.Sprintf("x bad %d", i))
		}
	}

	out, err := e.ParseAll(context.Background(), entries, 4)
	require.NoError(t, err)
	require.Len(t, out, len(entries))
	for i, p := range out {
		assert.Equal(t, entries[i], p.Text)
		switch i % 4 {
		case 0, 2:
			require.NoError(t, p.Err, p.Text)
			assert.Equal(t, fmt.Sprint(i), p.Result.Item.Subject[len(p.Result.Item.Subject)-len(fmt.Sprint(i)):])
		case 1:
			var ge *entry.GrammarError
			assert.True(t, errors.As(p.Err, &ge), p.Text)
		default:
			var le *entry.LexError
			assert.True(t, errors.As(p.Err, &le), p.Text)
		}
	}
}

func TestParseAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngine().ParseAll(ctx, []string{"~ a", "~ b"}, 2)
	assert.True(t, errors.Is(err, context.Canceled))
}
