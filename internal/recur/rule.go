package recur

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is the repetition unit of a rule.
type Frequency uint8

const (
	Yearly Frequency = iota + 1
	Monthly
	Weekly
	Daily
	Hourly
	Minutely
)

var freqNames = map[Frequency]string{
	Yearly:   "YEARLY",
	Monthly:  "MONTHLY",
	Weekly:   "WEEKLY",
	Daily:    "DAILY",
	Hourly:   "HOURLY",
	Minutely: "MINUTELY",
}

var freqCodes = map[string]Frequency{
	"y": Yearly,
	"m": Monthly,
	"w": Weekly,
	"d": Daily,
	"h": Hourly,
	"n": Minutely,
}

func (f Frequency) String() string {
	if s, ok := freqNames[f]; ok {
		return s
	}
	return "UNKNOWN"
}

// FrequencyFromCode maps the one-letter entry code (y, m, w, d, h, n) to a
// frequency.
func FrequencyFromCode(code string) (Frequency, error) {
	f, ok := freqCodes[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return 0, fmt.Errorf("invalid frequency %q: expected one of y, m, w, d, h, n", code)
	}
	return f, nil
}

// Code is the inverse of FrequencyFromCode.
func (f Frequency) Code() string {
	for code, freq := range freqCodes {
		if freq == f {
			return code
		}
	}
	return ""
}

func frequencyFromName(name string) (Frequency, error) {
	for f, n := range freqNames {
		if strings.EqualFold(n, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown FREQ %q", name)
}

// Param names a repetition rule parameter.
type Param uint8

const (
	ParamInterval Param = iota + 1
	ParamCount
	ParamUntil
	ParamByMonth
	ParamByMonthDay
	ParamByDay
	ParamByHour
	ParamByMinute
	ParamBySetPos
	ParamByWeekNo
	ParamByEaster
)

var paramNames = map[Param]string{
	ParamInterval:   "INTERVAL",
	ParamCount:      "COUNT",
	ParamUntil:      "UNTIL",
	ParamByMonth:    "BYMONTH",
	ParamByMonthDay: "BYMONTHDAY",
	ParamByDay:      "BYDAY",
	ParamByHour:     "BYHOUR",
	ParamByMinute:   "BYMINUTE",
	ParamBySetPos:   "BYSETPOS",
	ParamByWeekNo:   "BYWEEKNO",
	ParamByEaster:   "BYEASTER",
}

func (p Param) String() string { return paramNames[p] }

// intRange bounds the values of an integer list parameter. Zero is never
// allowed when nonzero is set.
type intRange struct {
	min, max int
	nonzero  bool
}

var paramRanges = map[Param]intRange{
	ParamInterval:   {1, 1 << 16, true},
	ParamCount:      {1, 1 << 16, true},
	ParamByMonth:    {1, 12, true},
	ParamByMonthDay: {-31, 31, true},
	ParamByHour:     {0, 23, false},
	ParamByMinute:   {0, 59, false},
	ParamBySetPos:   {-366, 366, true},
	ParamByWeekNo:   {-53, 53, true},
	ParamByEaster:   {-366, 366, false},
}

// Rule is a repetition rule. Zero Interval and Count mean unset.
type Rule struct {
	Freq       Frequency
	Interval   int
	Count      int
	Until      *time.Time
	ByMonth    []int
	ByMonthDay []int
	ByDay      []Weekday
	ByHour     []int
	ByMinute   []int
	BySetPos   []int
	ByWeekNo   []int
	ByEaster   []int
}

// Clone returns a deep copy of r.
func (r Rule) Clone() Rule {
	out := r
	if r.Until != nil {
		u := *r.Until
		out.Until = &u
	}
	out.ByMonth = cloneInts(r.ByMonth)
	out.ByMonthDay = cloneInts(r.ByMonthDay)
	out.ByDay = append([]Weekday(nil), r.ByDay...)
	out.ByHour = cloneInts(r.ByHour)
	out.ByMinute = cloneInts(r.ByMinute)
	out.BySetPos = cloneInts(r.BySetPos)
	out.ByWeekNo = cloneInts(r.ByWeekNo)
	out.ByEaster = cloneInts(r.ByEaster)
	return out
}

func cloneInts(v []int) []int {
	if v == nil {
		return nil
	}
	return append([]int(nil), v...)
}

// ParseInts reads a comma separated integer list for p and checks its range.
func ParseInts(p Param, value string) ([]int, error) {
	rng, ok := paramRanges[p]
	if !ok {
		return nil, fmt.Errorf("%s does not take integers", p)
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an integer", p, part)
		}
		if n < rng.min || n > rng.max || (rng.nonzero && n == 0) {
			return nil, fmt.Errorf("%s: %d out of range [%d, %d]", p, n, rng.min, rng.max)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: missing value", p)
	}
	return out, nil
}

// SetInts assigns an integer parameter. Interval and Count take one value.
func (r *Rule) SetInts(p Param, vals []int) error {
	switch p {
	case ParamInterval, ParamCount:
		if len(vals) != 1 {
			return fmt.Errorf("%s takes a single value", p)
		}
		if p == ParamInterval {
			r.Interval = vals[0]
		} else {
			r.Count = vals[0]
		}
	case ParamByMonth:
		r.ByMonth = vals
	case ParamByMonthDay:
		r.ByMonthDay = vals
	case ParamByHour:
		r.ByHour = vals
	case ParamByMinute:
		r.ByMinute = vals
	case ParamBySetPos:
		r.BySetPos = vals
	case ParamByWeekNo:
		r.ByWeekNo = vals
	case ParamByEaster:
		r.ByEaster = vals
	default:
		return fmt.Errorf("%s is not an integer parameter", p)
	}
	return nil
}

// Validate checks cross-parameter constraints.
func (r *Rule) Validate() error {
	if _, ok := freqNames[r.Freq]; !ok {
		return fmt.Errorf("missing or invalid frequency")
	}
	if r.Count > 0 && r.Until != nil {
		return fmt.Errorf("COUNT and UNTIL are mutually exclusive")
	}
	return nil
}

// format renders the RRULE value with parameters in a fixed order.
func (r *Rule) format(k Kind) string {
	parts := []string{"FREQ=" + r.Freq.String()}
	if r.Interval > 0 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+k.Format(*r.Until))
	}
	add := func(p Param, vals []int) {
		if len(vals) > 0 {
			parts = append(parts, p.String()+"="+joinInts(vals))
		}
	}
	add(ParamByMonth, r.ByMonth)
	add(ParamByMonthDay, r.ByMonthDay)
	if len(r.ByDay) > 0 {
		parts = append(parts, "BYDAY="+FormatWeekdays(r.ByDay))
	}
	add(ParamByHour, r.ByHour)
	add(ParamByMinute, r.ByMinute)
	add(ParamBySetPos, r.BySetPos)
	add(ParamByWeekNo, r.ByWeekNo)
	add(ParamByEaster, r.ByEaster)
	return strings.Join(parts, ";")
}

func parseRule(text string) (Rule, error) {
	var r Rule
	for _, part := range strings.Split(text, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return r, fmt.Errorf("malformed parameter %q", part)
		}
		key = strings.ToUpper(key)
		switch key {
		case "FREQ":
			f, err := frequencyFromName(value)
			if err != nil {
				return r, err
			}
			r.Freq = f
		case "UNTIL":
			t, _, err := ParseTime(value)
			if err != nil {
				return r, fmt.Errorf("UNTIL: %w", err)
			}
			r.Until = &t
		case "BYDAY":
			days, err := ParseWeekdays(value)
			if err != nil {
				return r, err
			}
			r.ByDay = days
		default:
			p, ok := paramByName(key)
			if !ok {
				return r, fmt.Errorf("unsupported parameter %q", key)
			}
			vals, err := ParseInts(p, value)
			if err != nil {
				return r, err
			}
			if err := r.SetInts(p, vals); err != nil {
				return r, err
			}
		}
	}
	return r, r.Validate()
}

func paramByName(name string) (Param, bool) {
	for p, n := range paramNames {
		if n == name {
			return p, true
		}
	}
	return 0, false
}
