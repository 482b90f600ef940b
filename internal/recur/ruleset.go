// Package recur holds the canonical recurrence description of an item: an
// optional anchor, an optional repetition rule and explicit inclusion and
// exclusion dates, together with its line-oriented iCalendar serialization.
package recur

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind records how the timestamps of a rule set are represented. It is fixed
// by the first scheduling value of an item and governs how every later
// timestamp is parsed and serialized.
type Kind uint8

const (
	KindNone Kind = iota
	KindDate
	KindNaive
	KindAware
)

func (k Kind) String() string {
	switch k {
	case KindDate:
		return "date"
	case KindNaive:
		return "naive"
	case KindAware:
		return "aware"
	default:
		return "none"
	}
}

// Compact timestamp layouts used in the serialized form.
const (
	LayoutDate  = "20060102"
	LayoutNaive = "20060102T150405"
	LayoutAware = "20060102T150405Z"
)

// Format renders t in the compact layout for kind k. Aware timestamps are
// normalized to UTC first.
func (k Kind) Format(t time.Time) string {
	switch k {
	case KindDate:
		return t.Format(LayoutDate)
	case KindAware:
		return t.UTC().Format(LayoutAware)
	default:
		return t.Format(LayoutNaive)
	}
}

// ParseTime reads a compact timestamp and reports the kind implied by its
// layout. Naive and date values are returned in UTC as floating wall-clock
// times.
func ParseTime(v string) (time.Time, Kind, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, KindNone, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse(LayoutAware, v)
		return t, KindAware, err
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation(LayoutNaive, v, time.UTC)
		return t, KindNaive, err
	default:
		t, err := time.ParseInLocation(LayoutDate, v, time.UTC)
		return t, KindDate, err
	}
}

// RuleSet is the canonical recurrence description. Without a Rule it is in
// date-list mode and RDates carries every occurrence.
type RuleSet struct {
	Kind    Kind
	Anchor  *time.Time
	Rule    *Rule
	RDates  []time.Time
	ExDates []time.Time
}

// DateList reports whether the set has no repetition rule.
func (rs *RuleSet) DateList() bool {
	return rs != nil && rs.Rule == nil
}

// Finite reports whether the set describes a bounded number of occurrences.
func (rs *RuleSet) Finite() bool {
	if rs == nil || rs.Rule == nil {
		return true
	}
	return rs.Rule.Count > 0 || rs.Rule.Until != nil
}

// Empty reports whether the set can no longer produce any occurrence.
func (rs *RuleSet) Empty() bool {
	return rs == nil || (rs.Rule == nil && len(rs.RDates) == 0)
}

// Clone returns a deep copy of rs.
func (rs *RuleSet) Clone() *RuleSet {
	if rs == nil {
		return nil
	}
	out := &RuleSet{Kind: rs.Kind}
	if rs.Anchor != nil {
		a := *rs.Anchor
		out.Anchor = &a
	}
	if rs.Rule != nil {
		r := rs.Rule.Clone()
		out.Rule = &r
	}
	out.RDates = append([]time.Time(nil), rs.RDates...)
	out.ExDates = append([]time.Time(nil), rs.ExDates...)
	return out
}

// String serializes rs as DTSTART / RRULE / RDATE / EXDATE lines.
func (rs *RuleSet) String() string {
	if rs == nil {
		return ""
	}
	var lines []string
	if rs.Rule != nil && rs.Anchor != nil {
		if rs.Kind == KindDate {
			lines = append(lines, "DTSTART;VALUE=DATE:"+rs.Kind.Format(*rs.Anchor))
		} else {
			lines = append(lines, "DTSTART:"+rs.Kind.Format(*rs.Anchor))
		}
	}
	if rs.Rule != nil {
		lines = append(lines, "RRULE:"+rs.Rule.format(rs.Kind))
	}
	if len(rs.RDates) > 0 {
		lines = append(lines, "RDATE:"+rs.joinDates(rs.RDates))
	}
	if len(rs.ExDates) > 0 {
		lines = append(lines, "EXDATE:"+rs.joinDates(rs.ExDates))
	}
	return strings.Join(lines, "\n")
}

func (rs *RuleSet) joinDates(ts []time.Time) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = rs.Kind.Format(t)
	}
	return strings.Join(parts, ",")
}

// ParseRuleSet reads the serialized form produced by String.
func ParseRuleSet(text string) (*RuleSet, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty rule set")
	}
	rs := &RuleSet{}
	var ruleText string
	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: missing ':' in %q", n+1, line)
		}
		name, params, _ := strings.Cut(name, ";")
		switch strings.ToUpper(name) {
		case "DTSTART":
			t, k, err := ParseTime(value)
			if err != nil {
				return nil, fmt.Errorf("DTSTART: %w", err)
			}
			if strings.EqualFold(params, "VALUE=DATE") {
				k = KindDate
			}
			if err := rs.observe(k); err != nil {
				return nil, err
			}
			rs.Anchor = &t
		case "RRULE":
			ruleText = value
		case "RDATE", "EXDATE":
			for _, part := range strings.Split(value, ",") {
				t, k, err := ParseTime(part)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", name, err)
				}
				if err := rs.observe(k); err != nil {
					return nil, err
				}
				if strings.EqualFold(name, "RDATE") {
					rs.RDates = append(rs.RDates, t)
				} else {
					rs.ExDates = append(rs.ExDates, t)
				}
			}
		default:
			return nil, fmt.Errorf("line %d: unsupported property %q", n+1, name)
		}
	}
	if ruleText != "" {
		r, err := parseRule(ruleText)
		if err != nil {
			return nil, fmt.Errorf("RRULE: %w", err)
		}
		if r.Until != nil {
			_, k, _ := ParseTime(untilText(ruleText))
			if err := rs.observe(k); err != nil {
				return nil, err
			}
		}
		rs.Rule = &r
	}
	if rs.Rule != nil && rs.Anchor == nil {
		return nil, errors.New("RRULE without DTSTART")
	}
	return rs, nil
}

// observe fixes the kind of the set from the first timestamp seen and
// rejects later timestamps of a different kind.
func (rs *RuleSet) observe(k Kind) error {
	if rs.Kind == KindNone {
		rs.Kind = k
		return nil
	}
	if rs.Kind != k {
		return fmt.Errorf("mixed timestamp kinds: %s and %s", rs.Kind, k)
	}
	return nil
}

func untilText(ruleText string) string {
	for _, part := range strings.Split(ruleText, ";") {
		if k, v, ok := strings.Cut(part, "="); ok && strings.EqualFold(k, "UNTIL") {
			return v
		}
	}
	return ""
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
