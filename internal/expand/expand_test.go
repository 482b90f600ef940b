package expand

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedline/internal/model"
	"schedline/internal/recur"
)

const spanLayout = "2006-01-02 15:04"

// spans renders occurrences as "start-end" in their own location so tests
// don't depend on *time.Location identity.
func spans(occs []model.Occurrence) []string {
	out := make([]string, len(occs))
	for i, o := range occs {
		s := o.Start.Format(spanLayout)
		if o.HasEnd() {
			s += " - " + o.End.Format(spanLayout)
		}
		if o.Job != "" {
			s += " " + o.Job
		}
		out[i] = s
	}
	return out
}

func mustRuleSet(t *testing.T, text string) *recur.RuleSet {
	t.Helper()
	rs, err := recur.ParseRuleSet(text)
	require.NoError(t, err)
	return rs
}

func TestMaterializeFinite(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name   string
		text   string
		extent time.Duration
		loc    *time.Location
		want   []string
	}{
		{
			name:   "weekly count",
			text:   "DTSTART:20250303T090000Z\nRRULE:FREQ=WEEKLY;INTERVAL=1;COUNT=4",
			extent: time.Hour,
			loc:    time.UTC,
			want: []string{
				"2025-03-03 09:00 - 2025-03-03 10:00",
				"2025-03-10 09:00 - 2025-03-10 10:00",
				"2025-03-17 09:00 - 2025-03-17 10:00",
				"2025-03-24 09:00 - 2025-03-24 10:00",
			},
		},
		{
			name:   "aware converted across a DST change",
			text:   "DTSTART:20250303T090000Z\nRRULE:FREQ=WEEKLY;COUNT=2",
			extent: 30 * time.Minute,
			loc:    ny,
			want: []string{
				"2025-03-03 04:00 - 2025-03-03 04:30",
				"2025-03-10 05:00 - 2025-03-10 05:30",
			},
		},
		{
			name: "naive keeps its wall clock",
			text: "DTSTART:20250308T090000\nRRULE:FREQ=DAILY;COUNT=2",
			loc:  ny,
			want: []string{"2025-03-08 09:00", "2025-03-09 09:00"},
		},
		{
			name: "until is inclusive",
			text: "DTSTART:20250303T090000Z\nRRULE:FREQ=DAILY;UNTIL=20250306T090000Z",
			loc:  time.UTC,
			want: []string{"2025-03-03 09:00", "2025-03-04 09:00", "2025-03-05 09:00", "2025-03-06 09:00"},
		},
		{
			name: "date list",
			text: "RDATE:20250303,20250305",
			loc:  ny,
			want: []string{"2025-03-03 00:00", "2025-03-05 00:00"},
		},
		{
			name:   "date with extent",
			text:   "RDATE:20250303",
			extent: 2 * time.Hour,
			loc:    time.UTC,
			want:   []string{"2025-03-03 00:00 - 2025-03-03 02:00"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Materialize(mustRuleSet(t, tt.text), tt.extent, Options{Location: tt.loc})
			require.NoError(t, err)
			assert.True(t, res.Complete)
			assert.False(t, res.Truncated)
			assert.Equal(t, tt.want, spans(res.Occurrences))
			for _, o := range res.Occurrences {
				assert.Equal(t, tt.loc.String(), o.Start.Location().String())
			}
		})
	}
}

func TestMaterializeCount(t *testing.T) {
	for _, n := range []int{1, 7, 52} {
		rs, err := recur.NewBuilder(recur.KindNaive, time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)).
			WithRule(recur.Rule{Freq: recur.Weekly, Count: n}).
			Build()
		require.NoError(t, err)
		res, err := Materialize(rs, 0, Options{Location: time.UTC})
		require.NoError(t, err)
		assert.Len(t, res.Occurrences, n)
	}
}

func TestMaterializeSplitsAtMidnight(t *testing.T) {
	tests := []struct {
		name   string
		extent time.Duration
		want   []string
	}{
		{
			name:   "crosses one midnight",
			extent: 4 * time.Hour,
			want: []string{
				"2025-03-03 22:00 - 2025-03-04 00:00",
				"2025-03-04 00:00 - 2025-03-04 02:00",
			},
		},
		{
			name:   "ends at midnight",
			extent: 2 * time.Hour,
			want:   []string{"2025-03-03 22:00 - 2025-03-04 00:00"},
		},
		{
			name:   "spans two days",
			extent: 28 * time.Hour,
			want: []string{
				"2025-03-03 22:00 - 2025-03-04 00:00",
				"2025-03-04 00:00 - 2025-03-05 00:00",
				"2025-03-05 00:00 - 2025-03-05 02:00",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Materialize(mustRuleSet(t, "RDATE:20250303T220000"), tt.extent, Options{Location: time.UTC})
			require.NoError(t, err)
			assert.Equal(t, tt.want, spans(res.Occurrences))
		})
	}
}

func TestMaterializeOpenEnded(t *testing.T) {
	rs := mustRuleSet(t, "DTSTART:20250303T090000Z\nRRULE:FREQ=DAILY")

	_, err := Materialize(rs, 0, Options{Location: time.UTC})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoWindow))
	var me *MaterializationError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "no window", me.Reason)

	win := &Window{
		From: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC),
	}
	res, err := Materialize(rs, 0, Options{Location: time.UTC, Window: win})
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, []string{"2025-03-05 09:00", "2025-03-06 09:00", "2025-03-07 09:00"}, spans(res.Occurrences))

	_, err = Materialize(rs, 0, Options{Location: time.UTC, Window: &Window{From: win.To, To: win.From}})
	assert.Error(t, err)
}

func TestMaterializeNaiveWindow(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	rs := mustRuleSet(t, "DTSTART:20250303T090000\nRRULE:FREQ=DAILY")

	// 13:00Z is 08:00 in New York, so the 09:00 occurrence that day is in.
	win := &Window{
		From: time.Date(2025, 3, 5, 13, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 3, 6, 13, 0, 0, 0, time.UTC),
	}
	res, err := Materialize(rs, 0, Options{Location: ny, Window: win})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-05 09:00"}, spans(res.Occurrences))
}

func TestMaterializeTruncates(t *testing.T) {
	open := mustRuleSet(t, "DTSTART:20250101T090000Z\nRRULE:FREQ=DAILY")
	res, err := Materialize(open, 0, Options{
		Location:       time.UTC,
		MaxOccurrences: 10,
		Window: &Window{
			From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 10)
	assert.True(t, res.Truncated)
	assert.False(t, res.Complete)
	assert.Equal(t, time.Date(2025, 1, 10, 9, 0, 0, 1, time.UTC), res.Resume)

	rest, err := Materialize(open, 0, Options{
		Location:       time.UTC,
		MaxOccurrences: 10,
		Window:         &Window{From: res.Resume, To: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	assert.False(t, rest.Truncated)
	assert.True(t, rest.Resume.IsZero())
	require.Len(t, rest.Occurrences, 4)
	assert.Equal(t, "2025-01-11 09:00", spans(rest.Occurrences)[0])

	finite := mustRuleSet(t, "DTSTART:20250101T090000Z\nRRULE:FREQ=DAILY;COUNT=20")
	res, err = Materialize(finite, 0, Options{Location: time.UTC, MaxOccurrences: 5})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 5)
	assert.True(t, res.Truncated)
	assert.False(t, res.Complete)
	assert.True(t, res.Resume.IsZero())
}

func TestMaterializeNoSchedule(t *testing.T) {
	_, err := Materialize(nil, 0, Options{})
	var me *MaterializationError
	require.True(t, errors.As(err, &me))

	_, err = MaterializeItem(&model.Item{Type: model.Task, Subject: "x"}, Options{})
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "item has no schedule", me.Reason)
}

func TestMaterializeItemJobs(t *testing.T) {
	finished := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	it := &model.Item{
		Type:    model.Project,
		Subject: "Move",
		Kind:    recur.KindNaive,
		Extent:  3 * time.Hour,
		RuleSet: mustRuleSet(t, "RDATE:20250310T090000"),
		Jobs: []model.Job{
			{ID: 1, Summary: "book van", Offset: 48 * time.Hour, Extent: time.Hour},
			{ID: 2, Summary: "pack", Requires: []int{1}, Offset: 12 * time.Hour},
			{ID: 3, Summary: "sort books", Finished: &finished},
			{Summary: "load"},
		},
	}
	res, err := MaterializeItem(it, Options{Location: time.UTC})
	require.NoError(t, err)
	assert.True(t, res.Complete)
	got := spans(res.Occurrences)
	assert.Equal(t, []string{
		"2025-03-08 09:00 - 2025-03-08 10:00 book van",
		"2025-03-09 21:00 - 2025-03-10 00:00 pack",
		"2025-03-10 09:00 - 2025-03-10 12:00 load",
	}, got)
	ids := make([]int, len(res.Occurrences))
	for i, o := range res.Occurrences {
		ids[i] = o.JobID
	}
	assert.Equal(t, []int{1, 2, 0}, ids)
}

func TestMaterializeItemWithoutJobs(t *testing.T) {
	it := &model.Item{
		Type:    model.Event,
		Subject: "Team sync",
		Kind:    recur.KindAware,
		Zone:    "UTC",
		Extent:  time.Hour,
		RuleSet: mustRuleSet(t, "DTSTART:20250303T090000Z\nRRULE:FREQ=WEEKLY;INTERVAL=1;COUNT=4"),
	}
	res, err := MaterializeItem(it, Options{Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 4)
	for i := 1; i < len(res.Occurrences); i++ {
		assert.Equal(t, 7*24*time.Hour, res.Occurrences[i].Start.Sub(res.Occurrences[i-1].Start))
		assert.Equal(t, time.Hour, res.Occurrences[i].End.Sub(res.Occurrences[i].Start))
	}
}

func TestBetween(t *testing.T) {
	base := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	occs := []model.Occurrence{
		{Start: base},
		{Start: base.Add(24 * time.Hour)},
		{Start: base.Add(48 * time.Hour)},
	}
	got := Between(occs, base.Add(time.Hour), base.Add(48*time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, base.Add(24*time.Hour), got[0].Start)
	assert.Empty(t, Between(occs, base.Add(72*time.Hour), base.Add(96*time.Hour)))
}
