package model

import (
	"time"

	"schedline/internal/recur"
)

// ItemType selects the grammar an entry is validated against. The value is
// the marker character that starts the entry.
type ItemType byte

const (
	Event   ItemType = '*'
	Task    ItemType = '~'
	Project ItemType = '^'
	Note    ItemType = '%'
	Goal    ItemType = '+'
	Draft   ItemType = '?'
)

// ItemTypes lists every item type in marker order.
var ItemTypes = []ItemType{Event, Task, Project, Note, Goal, Draft}

// ParseItemType reports whether c is a known item-type marker.
func ParseItemType(c byte) (ItemType, bool) {
	for _, t := range ItemTypes {
		if byte(t) == c {
			return t, true
		}
	}
	return 0, false
}

func (t ItemType) String() string {
	switch t {
	case Event:
		return "event"
	case Task:
		return "task"
	case Project:
		return "project"
	case Note:
		return "note"
	case Goal:
		return "goal"
	case Draft:
		return "draft"
	default:
		return "unknown"
	}
}

// Alert fires each command at each offset before an occurrence starts.
type Alert struct {
	Offsets  []time.Duration
	Commands []string
}

// Offset re-schedules a task relative to its completion. A learning offset
// blends the observed completion interval into the stored one.
type Offset struct {
	Every time.Duration
	Learn bool
}

// Job is one step of a project.
type Job struct {
	// ID is the explicit identifier; zero means none was given.
	ID       int
	Summary  string
	Requires []int
	Finished *time.Time
	// Offset is how long before the parent occurrence the job is due.
	Offset time.Duration
	Extent time.Duration
}

// Item is the structured result of parsing one entry.
//
// RuleSet is non-nil iff the entry carried a scheduling token; Kind is fixed
// by that token and Zone names the location used when Kind is aware.
type Item struct {
	Type        ItemType
	Subject     string
	Description string

	// Priority is 1 (highest) to 5; zero means unset.
	Priority  int
	Tags      []string
	Attendees []string
	Alerts    []Alert
	BeginBy   time.Duration
	Context   string
	Bin       string
	Location  string
	URL       string

	Extent time.Duration
	Offset *Offset

	Kind    recur.Kind
	Zone    string
	RuleSet *recur.RuleSet

	Jobs     []Job
	Finished *time.Time
}

// Scheduled reports whether the item carries a schedule.
func (it *Item) Scheduled() bool {
	return it != nil && it.RuleSet != nil
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	out := *it
	out.Tags = cloneStrings(it.Tags)
	out.Attendees = cloneStrings(it.Attendees)
	if it.Alerts != nil {
		out.Alerts = make([]Alert, len(it.Alerts))
		for i, a := range it.Alerts {
			out.Alerts[i] = Alert{
				Offsets:  append([]time.Duration(nil), a.Offsets...),
				Commands: cloneStrings(a.Commands),
			}
		}
	}
	if it.Offset != nil {
		o := *it.Offset
		out.Offset = &o
	}
	out.RuleSet = it.RuleSet.Clone()
	if it.Jobs != nil {
		out.Jobs = make([]Job, len(it.Jobs))
		for i, j := range it.Jobs {
			out.Jobs[i] = j.Clone()
		}
	}
	out.Finished = cloneTime(it.Finished)
	return &out
}

// Clone returns a deep copy of the job.
func (j Job) Clone() Job {
	j.Requires = append([]int(nil), j.Requires...)
	j.Finished = cloneTime(j.Finished)
	return j
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Occurrence is a single concrete instance produced by expanding a rule set.
// Start and End are local wall-clock times; a zero End means the occurrence
// has no extent.
type Occurrence struct {
	Start time.Time
	End   time.Time

	// Job is the summary of the job a project occurrence belongs to and
	// JobID its identifier, zero for untracked jobs.
	Job   string
	JobID int
}

// HasEnd reports whether the occurrence carries an end time.
func (o Occurrence) HasEnd() bool { return !o.End.IsZero() }
