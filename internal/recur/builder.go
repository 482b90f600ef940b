package recur

import (
	"errors"
	"fmt"
	"time"
)

// Builder accumulates the parts of a rule set. It is a value: every method
// returns an updated copy, and Build derives the rule set from scratch, so
// running the same sequence twice gives identical output.
type Builder struct {
	kind     Kind
	start    *time.Time
	rule     *Rule
	includes []time.Time
	excludes []time.Time
}

// NewBuilder starts a rule set anchored at start.
func NewBuilder(kind Kind, start time.Time) Builder {
	return Builder{kind: kind, start: &start}
}

// FromRuleSet seeds a builder with an existing rule set so that a mutated
// set can be re-canonicalized.
func FromRuleSet(rs *RuleSet) Builder {
	if rs == nil {
		return Builder{}
	}
	b := Builder{kind: rs.Kind}
	if rs.Rule != nil {
		r := rs.Rule.Clone()
		b.rule = &r
		if rs.Anchor != nil {
			a := *rs.Anchor
			b.start = &a
		}
	}
	b.includes = append(b.includes, rs.RDates...)
	b.excludes = append(b.excludes, rs.ExDates...)
	return b
}

// Kind is the timestamp kind the builder was created with.
func (b Builder) Kind() Kind { return b.kind }

// WithRule attaches a repetition rule.
func (b Builder) WithRule(r Rule) Builder {
	c := r.Clone()
	b.rule = &c
	return b
}

// WithoutRule drops the repetition rule, turning the set into a date list.
func (b Builder) WithoutRule() Builder {
	b.rule = nil
	return b
}

// WithStart replaces the anchor.
func (b Builder) WithStart(t time.Time) Builder {
	b.start = &t
	return b
}

// Include appends explicit inclusion dates.
func (b Builder) Include(ts ...time.Time) Builder {
	b.includes = append(append([]time.Time(nil), b.includes...), ts...)
	return b
}

// Exclude appends explicit exclusion dates.
func (b Builder) Exclude(ts ...time.Time) Builder {
	b.excludes = append(append([]time.Time(nil), b.excludes...), ts...)
	return b
}

// Build returns the canonical rule set.
//
// With a rule, the start becomes the DTSTART anchor and inclusions and
// exclusions are kept as separate lists. Without one, the start is the first
// entry of the inclusion list and each exclusion removes a matching
// inclusion, falling back to the exclusion list when none matches.
func (b Builder) Build() (*RuleSet, error) {
	if b.kind == KindNone {
		return nil, errors.New("rule set needs a schedule kind")
	}
	rs := &RuleSet{Kind: b.kind}

	if b.rule != nil {
		if b.start == nil {
			return nil, errors.New("repetition rule needs an anchor")
		}
		if err := b.rule.Validate(); err != nil {
			return nil, err
		}
		if b.kind == KindDate && b.rule.timeOfDay() {
			return nil, fmt.Errorf("%s repetition needs a schedule with a time of day", b.rule.Freq)
		}
		anchor := *b.start
		r := b.rule.Clone()
		rs.Anchor = &anchor
		rs.Rule = &r
		rs.RDates = append(rs.RDates, b.includes...)
		rs.ExDates = append(rs.ExDates, b.excludes...)
		return rs, nil
	}

	if b.start != nil {
		rs.RDates = append(rs.RDates, *b.start)
	}
	rs.RDates = append(rs.RDates, b.includes...)
	for _, ex := range b.excludes {
		if i := indexOf(rs.RDates, ex); i >= 0 {
			rs.RDates = append(rs.RDates[:i], rs.RDates[i+1:]...)
			continue
		}
		rs.ExDates = append(rs.ExDates, ex)
	}
	return rs, nil
}

func (r *Rule) timeOfDay() bool {
	return r.Freq == Hourly || r.Freq == Minutely || len(r.ByHour) > 0 || len(r.ByMinute) > 0
}

func indexOf(ts []time.Time, t time.Time) int {
	for i, v := range ts {
		if v.Equal(t) {
			return i
		}
	}
	return -1
}
