// Package expand turns a recurrence rule set into concrete occurrences.
package expand

import (
	"errors"
	"fmt"
	"time"

	appLog "schedline/internal/log"
	"schedline/internal/model"
	"schedline/internal/recur"
)

const (
	defaultMaxOccurrences = 5000
)

// Window is a half-open range [From, To) of instants.
type Window struct {
	From time.Time
	To   time.Time
}

// Options controls how expansion is performed.
type Options struct {
	// Window bounds the expansion of open-ended rules. Finite rule sets are
	// always expanded in full and ignore it.
	Window *Window

	// Location is the zone occurrences are reported in. If nil, time.Local
	// is used.
	Location *time.Location

	// MaxOccurrences is a safety cap. If zero, defaultMaxOccurrences is used.
	MaxOccurrences int
}

// Result wraps the expanded occurrences.
type Result struct {
	Occurrences []model.Occurrence

	// Complete is set when the rule set is finite and was expanded in full,
	// so it never needs expanding again.
	Complete bool

	// Truncated is set when MaxOccurrences was reached.
	Truncated bool

	// Resume is where a truncated windowed expansion should continue: just
	// after the last start it returned. Zero unless Truncated.
	Resume time.Time
}

// MaterializationError reports a rule set that cannot be expanded.
type MaterializationError struct {
	Reason string
	Err    error
}

func (e *MaterializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("materialize: %s: %v", e.Reason, e.Err)
	}
	return "materialize: " + e.Reason
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// ErrNoWindow is wrapped when an open-ended rule is expanded without a window.
var ErrNoWindow = errors.New("open-ended rule needs a window")

// Materialize expands rs into occurrences of the given extent.
//
//   - Finite sets (date lists, or rules with COUNT or UNTIL) are expanded
//     exhaustively and the result is marked Complete.
//   - Open-ended rules are expanded only inside opts.Window.
//   - Occurrences are reported as wall-clock times in opts.Location. Aware
//     timestamps are converted; naive and date ones keep their wall clock.
//   - An occurrence spanning several local days is split at each midnight.
func Materialize(rs *recur.RuleSet, extent time.Duration, opts Options) (Result, error) {
	opts = opts.normalize()
	times, result, err := instants(rs, opts)
	if err != nil {
		return result, err
	}
	for _, t := range times {
		result.Occurrences = append(result.Occurrences, split(makeOccurrence(t, extent, rs.Kind, opts.Location), opts.Location)...)
	}
	return result, nil
}

func (o Options) normalize() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.MaxOccurrences <= 0 {
		o.MaxOccurrences = defaultMaxOccurrences
	}
	return o
}

// instants returns the raw timestamps of rs selected by opts, in the
// representation of the rule set.
func instants(rs *recur.RuleSet, opts Options) ([]time.Time, Result, error) {
	var result Result
	if rs == nil {
		return nil, result, &MaterializationError{Reason: "no schedule"}
	}
	set, err := rs.Compile()
	if err != nil {
		return nil, result, &MaterializationError{Reason: "invalid rule set", Err: err}
	}

	finite := rs.Finite()
	var from, to time.Time
	if !finite {
		if opts.Window == nil {
			return nil, result, &MaterializationError{Reason: "no window", Err: ErrNoWindow}
		}
		if opts.Window.To.Before(opts.Window.From) {
			return nil, result, &MaterializationError{Reason: "window ends before it starts"}
		}
		from = toRuleSpace(opts.Window.From, rs.Kind, opts.Location)
		to = toRuleSpace(opts.Window.To, rs.Kind, opts.Location)
	}

	var out []time.Time
	next := set.Iterator()
	for {
		t, ok := next()
		if !ok {
			break
		}
		if !finite {
			if !t.Before(to) {
				break
			}
			if t.Before(from) {
				continue
			}
		}
		if len(out) == opts.MaxOccurrences {
			result.Truncated = true
			if !finite {
				last := makeOccurrence(out[len(out)-1], 0, rs.Kind, opts.Location)
				result.Resume = last.Start.Add(time.Nanosecond)
			}
			appLog.Warn("materialize: truncated occurrences due to cap", "cap", opts.MaxOccurrences, "kind", rs.Kind.String())
			break
		}
		out = append(out, t)
	}
	result.Complete = finite && !result.Truncated
	return out, result, nil
}

// toRuleSpace maps a window bound into the time representation of the rule
// set: an instant for aware sets, floating wall clock otherwise.
func toRuleSpace(t time.Time, kind recur.Kind, loc *time.Location) time.Time {
	if kind == recur.KindAware {
		return t.UTC()
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC)
}

// makeOccurrence converts one expanded timestamp into a local occurrence.
func makeOccurrence(t time.Time, extent time.Duration, kind recur.Kind, loc *time.Location) model.Occurrence {
	var start time.Time
	if kind == recur.KindAware {
		start = t.In(loc)
	} else {
		start = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
	}
	occ := model.Occurrence{Start: start}
	if extent > 0 {
		if kind == recur.KindAware {
			occ.End = t.Add(extent).In(loc)
		} else {
			occ.End = start.Add(extent)
		}
	}
	return occ
}

// split breaks an occurrence that crosses midnight into one piece per local
// day. An end exactly at midnight does not produce an empty trailing piece.
func split(occ model.Occurrence, loc *time.Location) []model.Occurrence {
	if !occ.HasEnd() {
		return []model.Occurrence{occ}
	}
	var out []model.Occurrence
	start := occ.Start
	for {
		midnight := time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, loc)
		if !occ.End.After(midnight) {
			out = append(out, model.Occurrence{Start: start, End: occ.End, Job: occ.Job, JobID: occ.JobID})
			return out
		}
		out = append(out, model.Occurrence{Start: start, End: midnight, Job: occ.Job, JobID: occ.JobID})
		start = midnight
	}
}
