// Package finish advances or closes an item's schedule when an occurrence is
// marked done.
package finish

import (
	"errors"
	"fmt"
	"time"

	"schedline/internal/jobs"
	appLog "schedline/internal/log"
	"schedline/internal/model"
	"schedline/internal/recur"
)

// State classifies an item for completion.
type State uint8

const (
	Unscheduled State = iota
	Once
	OffsetRecurring
	DateListRecurring
	RuleRecurring
	Finished
)

func (s State) String() string {
	switch s {
	case Unscheduled:
		return "unscheduled"
	case Once:
		return "once"
	case OffsetRecurring:
		return "offset-recurring"
	case DateListRecurring:
		return "date-list-recurring"
	case RuleRecurring:
		return "rule-recurring"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// learnWeight is the share of the observed interval in a learning offset.
const learnWeight = 0.5

var (
	ErrNotCompletable  = errors.New("item type cannot be completed")
	ErrAlreadyFinished = errors.New("item is already finished")
	ErrNoJobs          = errors.New("item has no jobs")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobFinished     = errors.New("job is already finished")
)

// Options controls a completion.
type Options struct {
	// Location interprets completion times for date and naive schedules.
	// If nil, time.Local is used.
	Location *time.Location

	// Occurrence selects the occurrence being completed. If zero, the
	// earliest pending occurrence is used.
	Occurrence time.Time
}

// Result is the outcome of a completion. The input item is never modified.
type Result struct {
	Item *model.Item
	// RuleSet is the updated rule set, nil once the item is finished.
	RuleSet *recur.RuleSet
	// Occurrence is the completed occurrence in the rule set's
	// representation; zero for unscheduled and offset items completed off
	// schedule.
	Occurrence time.Time
	Finished   bool

	// State is the state the transition leaves the item in. A date list
	// stays DateListRecurring until its last date is done, even when
	// StateOf would now report Once.
	State State

	// Graph is the recomputed job partition; set by FinishJob only.
	Graph *jobs.Graph
}

// StateOf reports the completion state of it.
func StateOf(it *model.Item) State {
	switch {
	case it.Finished != nil:
		return Finished
	case !it.Scheduled():
		return Unscheduled
	case it.Offset != nil:
		return OffsetRecurring
	case it.RuleSet.Rule != nil:
		return RuleRecurring
	case len(it.RuleSet.RDates) > 1:
		return DateListRecurring
	default:
		return Once
	}
}

// Completable reports whether items of type t can be marked done.
func Completable(t model.ItemType) bool {
	return t != model.Event && t != model.Note
}

// Finish marks the current occurrence of it done at completedAt.
func Finish(it *model.Item, completedAt time.Time, opts Options) (Result, error) {
	if it == nil {
		return Result{}, errors.New("finish: nil item")
	}
	if !Completable(it.Type) {
		return Result{}, fmt.Errorf("finish %s: %w", it.Type, ErrNotCompletable)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	out := it.Clone()
	res, err := advance(out, completedAt, opts)
	if err != nil {
		return Result{}, err
	}
	appLog.Debug("finish: item completed", "subject", it.Subject, "state", res.State.String(), "finished", res.Finished)
	return res, nil
}

func advance(it *model.Item, completedAt time.Time, opts Options) (Result, error) {
	state := StateOf(it)
	res := Result{Item: it}
	var err error
	switch state {
	case Finished:
		return Result{}, ErrAlreadyFinished
	case Unscheduled:
		closeItem(it, completedAt)
	case OffsetRecurring:
		res.Occurrence, err = finishOffset(it, completedAt, opts)
	case Once, DateListRecurring:
		res.Occurrence, err = finishDateList(it, completedAt, opts)
	case RuleRecurring:
		res.Occurrence, err = finishRule(it, completedAt, opts)
	}
	if err != nil {
		return Result{}, err
	}
	if it.Finished == nil {
		resetJobs(it)
	}
	res.RuleSet = it.RuleSet
	res.State = StateOf(it)
	if state == DateListRecurring && res.State == Once {
		res.State = DateListRecurring
	}
	res.Finished = res.State == Finished
	return res, nil
}

// closeItem moves it to Finished and clears its schedule.
func closeItem(it *model.Item, completedAt time.Time) {
	t := completedAt.UTC()
	it.Finished = &t
	it.RuleSet = nil
	it.Kind = recur.KindNone
	it.Zone = ""
}

// resetJobs reopens every job of a project that moved on to its next
// occurrence.
func resetJobs(it *model.Item) {
	for i := range it.Jobs {
		it.Jobs[i].Finished = nil
	}
}

func finishOffset(it *model.Item, completedAt time.Time, opts Options) (time.Time, error) {
	rs := it.RuleSet
	prev, _ := rs.First()
	every := it.Offset.Every
	if it.Offset.Learn && !prev.IsZero() {
		observed := completedAt.Sub(instant(prev, rs.Kind, opts.Location))
		if observed > 0 {
			blended := time.Duration(learnWeight*float64(observed) + (1-learnWeight)*float64(every))
			every = blended.Truncate(time.Minute)
			if every <= 0 {
				every = it.Offset.Every
			}
			it.Offset.Every = every
		}
	}

	next := ruleSpace(completedAt.Add(every), rs.Kind, opts.Location)
	updated, err := recur.NewBuilder(rs.Kind, next).Build()
	if err != nil {
		return time.Time{}, fmt.Errorf("finish: reschedule: %w", err)
	}
	it.RuleSet = updated
	return prev, nil
}

func finishDateList(it *model.Item, completedAt time.Time, opts Options) (time.Time, error) {
	rs := it.RuleSet
	target := selectOccurrence(rs, opts)
	// Build removes a matching inclusion and only records an exclusion
	// when there is none.
	updated, err := recur.FromRuleSet(rs).Exclude(target).Build()
	if err != nil {
		return time.Time{}, fmt.Errorf("finish: rebuild dates: %w", err)
	}
	if len(updated.RDates) == 0 {
		closeItem(it, completedAt)
		return target, nil
	}
	it.RuleSet = updated
	return target, nil
}

func finishRule(it *model.Item, completedAt time.Time, opts Options) (time.Time, error) {
	rs := it.RuleSet
	target := selectOccurrence(rs, opts)

	if contains(rs.RDates, target) && !producedByRule(rs, target) {
		updated, err := recur.NewBuilder(rs.Kind, *rs.Anchor).
			WithRule(*rs.Rule).
			Include(without(rs.RDates, target)...).
			Exclude(rs.ExDates...).
			Build()
		if err != nil {
			return time.Time{}, fmt.Errorf("finish: rebuild rule: %w", err)
		}
		it.RuleSet = updated
		return target, nil
	}

	rdates := later(rs.RDates, target)
	exdates := later(rs.ExDates, target)

	own := &recur.RuleSet{Kind: rs.Kind, Anchor: rs.Anchor, Rule: rs.Rule}
	next, ok := own.After(target)
	if !ok {
		if len(rdates) == 0 {
			closeItem(it, completedAt)
			return target, nil
		}
		// The rule is spent; what is left is a plain date list.
		updated, err := recur.NewBuilder(rs.Kind, rdates[0]).Include(rdates[1:]...).Exclude(exdates...).Build()
		if err != nil {
			return time.Time{}, fmt.Errorf("finish: rebuild dates: %w", err)
		}
		it.RuleSet = updated
		return target, nil
	}

	rule := rs.Rule.Clone()
	if rule.Count > 0 {
		rule.Count -= consumed(own, target)
		if rule.Count <= 0 {
			rule.Count = 0
		}
	}
	updated, err := recur.NewBuilder(rs.Kind, next).
		WithRule(rule).
		Include(rdates...).
		Exclude(exdates...).
		Build()
	if err != nil {
		return time.Time{}, fmt.Errorf("finish: rebuild rule: %w", err)
	}
	if _, ok := updated.First(); !ok {
		closeItem(it, completedAt)
		return target, nil
	}
	it.RuleSet = updated
	return target, nil
}

// producedByRule reports whether the repetition rule of rs yields t.
func producedByRule(rs *recur.RuleSet, t time.Time) bool {
	own := &recur.RuleSet{Kind: rs.Kind, Anchor: rs.Anchor, Rule: rs.Rule}
	set, err := own.Compile()
	if err != nil {
		return false
	}
	return len(set.Between(t, t, true)) > 0
}

// consumed counts the rule occurrences up to and including t.
func consumed(own *recur.RuleSet, t time.Time) int {
	set, err := own.Compile()
	if err != nil {
		return 0
	}
	return len(set.Between(*own.Anchor, t, true))
}

// later returns the timestamps strictly after t.
func later(ts []time.Time, t time.Time) []time.Time {
	var out []time.Time
	for _, v := range ts {
		if v.After(t) {
			out = append(out, v)
		}
	}
	return out
}

// selectOccurrence returns the occurrence named by opts, or the first one.
func selectOccurrence(rs *recur.RuleSet, opts Options) time.Time {
	if !opts.Occurrence.IsZero() {
		return ruleSpace(opts.Occurrence, rs.Kind, opts.Location)
	}
	first, _ := rs.First()
	return first
}

// ruleSpace converts an instant to the timestamp representation of kind.
func ruleSpace(t time.Time, kind recur.Kind, loc *time.Location) time.Time {
	if kind == recur.KindAware {
		return t.UTC()
	}
	l := t.In(loc)
	if kind == recur.KindDate {
		return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), 0, time.UTC)
}

// instant is the inverse of ruleSpace.
func instant(t time.Time, kind recur.Kind, loc *time.Location) time.Time {
	if kind == recur.KindAware {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}

func contains(ts []time.Time, t time.Time) bool {
	for _, v := range ts {
		if v.Equal(t) {
			return true
		}
	}
	return false
}

func without(ts []time.Time, t time.Time) []time.Time {
	var out []time.Time
	for _, v := range ts {
		if !v.Equal(t) {
			out = append(out, v)
		}
	}
	return out
}
