package ics

import (
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/cockroachdb/errors"

	"schedline/internal/model"
	"schedline/internal/recur"
)

// Component is an item to export with the UID it is published under.
type Component struct {
	UID  string
	Item *model.Item
}

// ExportOptions configures Export.
type ExportOptions struct {
	// Name is written as X-WR-CALNAME when set.
	Name string
	// Now stamps every component; defaults to time.Now.
	Now time.Time
}

// Export writes comps as one calendar. Events and notes become VEVENTs,
// everything else a VTODO. Zoned schedules keep their zone through TZID so
// that repetitions follow its daylight saving changes.
func Export(w io.Writer, comps []Component, opts ExportOptions) error {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	cal := ical.NewCalendarFor("schedline")
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for _, c := range comps {
		if c.Item == nil || c.UID == "" {
			return errors.Newf("export: component %q has no item or uid", c.UID)
		}
		it := c.Item
		var cb *ical.ComponentBase
		switch it.Type {
		case model.Event, model.Note:
			ev := cal.AddEvent(c.UID)
			cb = &ev.ComponentBase
			if it.Priority > 0 {
				ev.SetPriority(icsPriority(it.Priority))
			}
			if err := writeSchedule(cb, it, false); err != nil {
				return errors.Wrapf(err, "export %s", c.UID)
			}
			addAlarms(it, ev.AddAlarm)
		default:
			todo := cal.AddTodo(c.UID)
			cb = &todo.ComponentBase
			if it.Priority > 0 {
				todo.SetPriority(icsPriority(it.Priority))
			}
			if err := writeSchedule(cb, it, true); err != nil {
				return errors.Wrapf(err, "export %s", c.UID)
			}
			if it.Finished != nil {
				todo.SetCompletedAt(*it.Finished)
				todo.SetStatus(ical.ObjectStatusCompleted)
			} else {
				todo.SetStatus(ical.ObjectStatusNeedsAction)
			}
			addAlarms(it, todo.AddAlarm)
		}

		cb.SetDtStampTime(opts.Now)
		cb.SetSummary(it.Subject)
		if it.Description != "" {
			cb.SetDescription(it.Description)
		}
		if it.Location != "" {
			cb.SetLocation(it.Location)
		}
		if it.URL != "" {
			cb.SetURL(it.URL)
		}
		for _, t := range it.Tags {
			cb.AddCategory(t)
		}
		for _, a := range it.Attendees {
			cb.AddAttendee(a)
		}
	}
	return cal.SerializeTo(w)
}

// icsPriority maps 1..5 onto the 1..9 scale.
func icsPriority(p int) int {
	return 2*p - 1
}

func addAlarms(it *model.Item, add func() *ical.VAlarm) {
	if !it.Scheduled() {
		return
	}
	for _, a := range it.Alerts {
		for _, off := range a.Offsets {
			alarm := add()
			alarm.SetAction(ical.ActionDisplay)
			alarm.SetTrigger("-" + formatDuration(off))
			alarm.SetProperty(ical.ComponentPropertyDescription, it.Subject)
		}
	}
}

// writeSchedule sets DTSTART, the end or duration and the recurrence
// properties of it.
func writeSchedule(cb *ical.ComponentBase, it *model.Item, todo bool) error {
	rs := it.RuleSet
	if rs.Empty() {
		if it.Extent > 0 && todo {
			cb.SetProperty(ical.ComponentPropertyDuration, formatDuration(it.Extent))
		}
		return nil
	}
	loc := time.UTC
	if rs.Kind == recur.KindAware && it.Zone != "" {
		l, err := time.LoadLocation(it.Zone)
		if err != nil {
			return errors.Wrapf(err, "zone %q", it.Zone)
		}
		loc = l
	}
	w := stampWriter{kind: rs.Kind, loc: loc}

	includes := rs.RDates
	var first time.Time
	if rs.Rule != nil {
		first = *rs.Anchor
	} else {
		first, includes = rs.RDates[0], rs.RDates[1:]
	}

	value, params := w.format(first)
	cb.SetProperty(ical.ComponentPropertyDtStart, value, params...)
	if it.Extent > 0 {
		if todo {
			cb.SetProperty(ical.ComponentPropertyDuration, formatDuration(it.Extent))
		} else {
			value, params := w.format(first.Add(it.Extent))
			cb.SetProperty(ical.ComponentPropertyDtEnd, value, params...)
		}
	}

	if rs.Rule != nil {
		cb.AddRrule(ruleValue(rs))
	}
	if len(includes) > 0 {
		value, params := w.formatList(includes)
		cb.AddRdate(value, params...)
	}
	if len(rs.ExDates) > 0 {
		value, params := w.formatList(rs.ExDates)
		cb.AddExdate(value, params...)
	}
	return nil
}

// ruleValue is the RRULE value of the canonical serialization.
func ruleValue(rs *recur.RuleSet) string {
	for _, line := range strings.Split(rs.String(), "\n") {
		if v, ok := strings.CutPrefix(line, "RRULE:"); ok {
			return v
		}
	}
	return ""
}

type stampWriter struct {
	kind recur.Kind
	loc  *time.Location
}

func (w stampWriter) params() []ical.PropertyParameter {
	switch w.kind {
	case recur.KindDate:
		return []ical.PropertyParameter{ical.WithValue(string(ical.ValueDataTypeDate))}
	case recur.KindAware:
		if w.loc != time.UTC {
			return []ical.PropertyParameter{ical.WithTZID(w.loc.String())}
		}
	}
	return nil
}

func (w stampWriter) one(t time.Time) string {
	if w.kind == recur.KindAware && w.loc != time.UTC {
		return t.In(w.loc).Format(recur.LayoutNaive)
	}
	return w.kind.Format(t)
}

func (w stampWriter) format(t time.Time) (string, []ical.PropertyParameter) {
	return w.one(t), w.params()
}

func (w stampWriter) formatList(ts []time.Time) (string, []ical.PropertyParameter) {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = w.one(t)
	}
	return strings.Join(parts, ","), w.params()
}
