package finish

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedline/internal/model"
	"schedline/internal/recur"
)

var utc = Options{Location: time.UTC}

func at(d, hh int) time.Time {
	return time.Date(2025, 3, d, hh, 0, 0, 0, time.UTC)
}

func task(t *testing.T, text string) *model.Item {
	t.Helper()
	rs, err := recur.ParseRuleSet(text)
	require.NoError(t, err)
	return &model.Item{Type: model.Task, Subject: "water plants", Kind: rs.Kind, RuleSet: rs}
}

func TestStateOf(t *testing.T) {
	done := at(1, 12)
	tests := []struct {
		name string
		item *model.Item
		want State
	}{
		{name: "unscheduled", item: &model.Item{Type: model.Task}, want: Unscheduled},
		{name: "once", item: task(t, "RDATE:20250303"), want: Once},
		{name: "date list", item: task(t, "RDATE:20250303,20250310"), want: DateListRecurring},
		{name: "rule", item: task(t, "DTSTART:20250303T090000Z\nRRULE:FREQ=DAILY"), want: RuleRecurring},
		{name: "finished", item: &model.Item{Type: model.Task, Finished: &done}, want: Finished},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StateOf(tt.item))
		})
	}

	offset := task(t, "RDATE:20250303")
	offset.Offset = &model.Offset{Every: 24 * time.Hour}
	assert.Equal(t, OffsetRecurring, StateOf(offset))
	assert.Equal(t, "offset-recurring", OffsetRecurring.String())
}

func TestFinishNotCompletable(t *testing.T) {
	for _, typ := range []model.ItemType{model.Event, model.Note} {
		_, err := Finish(&model.Item{Type: typ}, at(3, 9), utc)
		assert.True(t, errors.Is(err, ErrNotCompletable), typ.String())
	}

	done := at(1, 12)
	_, err := Finish(&model.Item{Type: model.Task, Finished: &done}, at(3, 9), utc)
	assert.True(t, errors.Is(err, ErrAlreadyFinished))
}

func TestFinishUnscheduled(t *testing.T) {
	in := &model.Item{Type: model.Goal, Subject: "read more"}
	res, err := Finish(in, at(3, 9), utc)
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.Equal(t, Finished, res.State)
	require.NotNil(t, res.Item.Finished)
	assert.Equal(t, at(3, 9), *res.Item.Finished)
	assert.Nil(t, in.Finished)
}

func TestFinishDateList(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		occurrence time.Time
		want       string
		state      State
		completed  time.Time
	}{
		{
			name:      "single date",
			text:      "RDATE:20250303",
			state:     Finished,
			completed: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "earliest of several",
			text:      "RDATE:20250303,20250310,20250317",
			want:      "RDATE:20250310,20250317",
			state:     DateListRecurring,
			completed: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "one of two stays a list",
			text:      "RDATE:20250303,20250310",
			want:      "RDATE:20250310",
			state:     DateListRecurring,
			completed: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "named occurrence",
			text:       "RDATE:20250303,20250310,20250317",
			occurrence: at(10, 15),
			want:       "RDATE:20250303,20250317",
			state:      DateListRecurring,
			completed:  time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "unknown date is excluded",
			text:       "RDATE:20250303,20250310",
			occurrence: at(20, 9),
			want:       "RDATE:20250303,20250310\nEXDATE:20250320",
			state:      DateListRecurring,
			completed:  time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "naive single",
			text:      "RDATE:20250303T090000",
			state:     Finished,
			completed: at(3, 9),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := task(t, tt.text)
			before := in.Clone()
			opts := utc
			opts.Occurrence = tt.occurrence

			res, err := Finish(in, at(3, 12), opts)
			require.NoError(t, err)
			assert.Equal(t, before, in)
			assert.Equal(t, tt.state, res.State)
			assert.Equal(t, tt.completed, res.Occurrence)
			if tt.state == Finished {
				assert.True(t, res.Finished)
				assert.Nil(t, res.RuleSet)
				assert.Nil(t, res.Item.RuleSet)
				assert.Equal(t, recur.KindNone, res.Item.Kind)
				return
			}
			assert.False(t, res.Finished)
			assert.Equal(t, tt.want, res.RuleSet.String())
		})
	}
}

func TestFinishRule(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		occurrence time.Time
		want       string
		completed  time.Time
	}{
		{
			name:      "count is decremented",
			text:      "DTSTART:20250303T090000Z\nRRULE:FREQ=WEEKLY;INTERVAL=1;COUNT=4",
			want:      "DTSTART:20250310T090000Z\nRRULE:FREQ=WEEKLY;INTERVAL=1;COUNT=3",
			completed: at(3, 9),
		},
		{
			name:      "open-ended rule advances",
			text:      "DTSTART:20250303T090000Z\nRRULE:FREQ=DAILY",
			want:      "DTSTART:20250304T090000Z\nRRULE:FREQ=DAILY",
			completed: at(3, 9),
		},
		{
			name:      "until is kept",
			text:      "DTSTART:20250303T090000\nRRULE:FREQ=DAILY;UNTIL=20250310T090000",
			want:      "DTSTART:20250304T090000\nRRULE:FREQ=DAILY;UNTIL=20250310T090000",
			completed: at(3, 9),
		},
		{
			name:      "inclusion date is consumed first",
			text:      "DTSTART:20250303T090000Z\nRRULE:FREQ=WEEKLY;COUNT=2\nRDATE:20250301T090000Z",
			want:      "DTSTART:20250303T090000Z\nRRULE:FREQ=WEEKLY;COUNT=2",
			completed: at(1, 9),
		},
		{
			name:       "named occurrence skips ahead",
			text:       "DTSTART:20250303T090000Z\nRRULE:FREQ=WEEKLY;COUNT=4\nEXDATE:20250310T090000Z",
			occurrence: at(17, 9),
			want:       "DTSTART:20250324T090000Z\nRRULE:FREQ=WEEKLY;COUNT=1",
			completed:  at(17, 9),
		},
		{
			name:      "excluded first occurrence is skipped",
			text:      "DTSTART;VALUE=DATE:20250303\nRRULE:FREQ=DAILY;COUNT=3\nEXDATE:20250303",
			want:      "DTSTART;VALUE=DATE:20250305\nRRULE:FREQ=DAILY;COUNT=1",
			completed: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := task(t, tt.text)
			before := in.Clone()
			opts := utc
			opts.Occurrence = tt.occurrence

			res, err := Finish(in, at(20, 9), opts)
			require.NoError(t, err)
			assert.Equal(t, before, in)
			assert.Equal(t, RuleRecurring, res.State)
			assert.False(t, res.Finished)
			assert.Equal(t, tt.completed, res.Occurrence)
			assert.Equal(t, tt.want, res.RuleSet.String())
		})
	}
}

func TestFinishRuleRunsOut(t *testing.T) {
	it := task(t, "DTSTART:20250303T090000Z\nRRULE:FREQ=WEEKLY;COUNT=2")
	var err error
	var res Result
	for i := 0; i < 2; i++ {
		res, err = Finish(it, at(3+7*i, 10), utc)
		require.NoError(t, err)
		it = res.Item
	}
	assert.True(t, res.Finished)
	assert.Nil(t, res.RuleSet)
	assert.Equal(t, at(10, 9), res.Occurrence)

	_, err = Finish(it, at(20, 9), utc)
	assert.True(t, errors.Is(err, ErrAlreadyFinished))
}

func TestFinishRuleLeavesDateList(t *testing.T) {
	it := task(t, "DTSTART:20250303T090000Z\nRRULE:FREQ=DAILY;COUNT=1\nRDATE:20250310T090000Z")
	res, err := Finish(it, at(3, 10), utc)
	require.NoError(t, err)
	assert.False(t, res.Finished)
	assert.Equal(t, Once, res.State)
	assert.Equal(t, "RDATE:20250310T090000Z", res.RuleSet.String())
}

func TestFinishOffset(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		offset    model.Offset
		completed time.Time
		want      string
		every     time.Duration
	}{
		{
			name:      "fixed offset from completion",
			text:      "RDATE:20250303T090000",
			offset:    model.Offset{Every: 7 * 24 * time.Hour},
			completed: at(5, 18),
			want:      "RDATE:20250312T180000",
			every:     7 * 24 * time.Hour,
		},
		{
			name:      "date schedule",
			text:      "RDATE:20250303",
			offset:    model.Offset{Every: 48 * time.Hour},
			completed: at(5, 15),
			want:      "RDATE:20250307",
			every:     48 * time.Hour,
		},
		{
			name:      "learning offset blends the observed interval",
			text:      "RDATE:20250303T090000",
			offset:    model.Offset{Every: 7 * 24 * time.Hour, Learn: true},
			completed: at(5, 9),
			want:      "RDATE:20250309T210000",
			every:     108 * time.Hour,
		},
		{
			name:      "learning offset ignores early completion",
			text:      "RDATE:20250303T090000Z",
			offset:    model.Offset{Every: 24 * time.Hour, Learn: true},
			completed: at(2, 9),
			want:      "RDATE:20250303T090000Z",
			every:     24 * time.Hour,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := task(t, tt.text)
			off := tt.offset
			in.Offset = &off

			res, err := Finish(in, tt.completed, utc)
			require.NoError(t, err)
			assert.Equal(t, OffsetRecurring, res.State)
			assert.Equal(t, tt.want, res.RuleSet.String())
			assert.Equal(t, tt.every, res.Item.Offset.Every)
			assert.Equal(t, tt.offset.Every, in.Offset.Every)
		})
	}
}

func project(t *testing.T, text string) *model.Item {
	t.Helper()
	it := task(t, text)
	it.Type = model.Project
	it.Subject = "Move"
	it.Jobs = []model.Job{
		{ID: 1, Summary: "book van"},
		{ID: 2, Summary: "pack", Requires: []int{1}},
		{ID: 3, Summary: "load", Requires: []int{2}},
		{Summary: "label boxes"},
	}
	return it
}

func TestFinishJob(t *testing.T) {
	it := project(t, "RDATE:20250310")

	res, err := FinishJob(it, JobRef{ID: 1}, at(3, 9), utc)
	require.NoError(t, err)
	require.NotNil(t, res.Graph)
	assert.Equal(t, []int{2}, res.Graph.Available)
	assert.Equal(t, []int{3}, res.Graph.Waiting)
	assert.False(t, res.Finished)
	assert.Nil(t, it.Jobs[0].Finished)

	_, err = FinishJob(res.Item, JobRef{ID: 1}, at(3, 10), utc)
	assert.True(t, errors.Is(err, ErrJobFinished))
	_, err = FinishJob(res.Item, JobRef{ID: 9}, at(3, 10), utc)
	assert.True(t, errors.Is(err, ErrJobNotFound))
	_, err = FinishJob(task(t, "RDATE:20250310"), JobRef{ID: 1}, at(3, 10), utc)
	assert.True(t, errors.Is(err, ErrNoJobs))

	for _, ref := range []JobRef{{ID: 2}, {ID: 3}} {
		res, err = FinishJob(res.Item, ref, at(4, 9), utc)
		require.NoError(t, err)
		assert.False(t, res.Finished)
	}

	res, err = FinishJob(res.Item, JobRef{Summary: "label boxes"}, at(5, 9), utc)
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.Equal(t, Finished, res.State)
	assert.Equal(t, []int{1, 2, 3}, res.Graph.Finished)
}

func TestFinishJobRecurringProject(t *testing.T) {
	it := project(t, "DTSTART:20250303T090000Z\nRRULE:FREQ=WEEKLY")
	it.Jobs = it.Jobs[:1]

	res, err := FinishJob(it, JobRef{ID: 1}, at(3, 8), utc)
	require.NoError(t, err)
	assert.False(t, res.Finished)
	assert.Equal(t, "DTSTART:20250310T090000Z\nRRULE:FREQ=WEEKLY", res.RuleSet.String())
	assert.Nil(t, res.Item.Jobs[0].Finished)
	assert.Equal(t, []int{1}, res.Graph.Available)
}
