package recur

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Weekday is a BYDAY entry: a day with an optional signed ordinal (N == 0
// means every such day in the period).
type Weekday struct {
	N   int
	Day time.Weekday
}

var weekdayAbbrevs = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

var weekdayNames = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

func (w Weekday) String() string {
	if w.N == 0 {
		return weekdayNames[w.Day]
	}
	return strconv.Itoa(w.N) + weekdayNames[w.Day]
}

// WeekdayError describes one invalid BYDAY entry and which half of it is
// wrong.
type WeekdayError struct {
	Entry string
	Part  string // "ordinal" or "abbreviation"
}

func (e *WeekdayError) Error() string {
	switch e.Part {
	case "ordinal":
		return fmt.Sprintf("%q: invalid ordinal, expected a signed integer between -53 and 53 (not 0)", e.Entry)
	default:
		return fmt.Sprintf("%q: invalid weekday abbreviation, expected one of MO, TU, WE, TH, FR, SA, SU", e.Entry)
	}
}

// WeekdayErrors collects the bad entries of one BYDAY value.
type WeekdayErrors []*WeekdayError

func (es WeekdayErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return "by-day: " + strings.Join(msgs, "; ")
}

// ParseWeekdays reads a comma separated list such as "MO,+2TU,-1FR". Every
// bad entry is reported, not just the first one.
func ParseWeekdays(value string) ([]Weekday, error) {
	var (
		out  []Weekday
		errs WeekdayErrors
	)
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		w, err := parseWeekday(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, w)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("by-day: missing value")
	}
	return out, nil
}

func parseWeekday(entry string) (Weekday, *WeekdayError) {
	upper := strings.ToUpper(entry)
	if len(upper) < 2 {
		return Weekday{}, &WeekdayError{Entry: entry, Part: "abbreviation"}
	}
	ordinal, abbrev := upper[:len(upper)-2], upper[len(upper)-2:]

	day, ok := weekdayAbbrevs[abbrev]
	if !ok {
		return Weekday{}, &WeekdayError{Entry: entry, Part: "abbreviation"}
	}
	w := Weekday{Day: day}
	if ordinal == "" {
		return w, nil
	}
	n, err := strconv.Atoi(ordinal)
	if err != nil || n == 0 || n < -53 || n > 53 {
		return Weekday{}, &WeekdayError{Entry: entry, Part: "ordinal"}
	}
	w.N = n
	return w, nil
}

// FormatWeekdays is the inverse of ParseWeekdays.
func FormatWeekdays(days []Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}
