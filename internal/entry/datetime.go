package entry

import (
	"fmt"
	"strings"
	"time"

	"schedline/internal/recur"
)

// ZoneResolver maps a timezone name to a location.
type ZoneResolver interface {
	LoadLocation(name string) (*time.Location, error)
}

// ZoneFunc adapts a function to ZoneResolver.
type ZoneFunc func(name string) (*time.Location, error)

func (f ZoneFunc) LoadLocation(name string) (*time.Location, error) { return f(name) }

// Options carries the collaborators of a parse: a clock for relative dates,
// the local zone and a zone resolver for "z <name>" directives.
type Options struct {
	Now      func() time.Time
	Location *time.Location
	Zones    ZoneResolver
}

// DefaultOptions uses the system clock, time.Local and time.LoadLocation.
func DefaultOptions() Options {
	return Options{
		Now:      time.Now,
		Location: time.Local,
		Zones:    ZoneFunc(time.LoadLocation),
	}
}

func (o Options) normalize() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Zones == nil {
		o.Zones = ZoneFunc(time.LoadLocation)
	}
	return o
}

// dateLayouts are tried in order against the date part of a value.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"20060102",
	"Jan 2 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// dateTimeLayouts are tried against the whole value before splitting it.
var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"20060102T150405",
}

var clockLayouts = []string{
	"15:04:05",
	"15:04",
	"3:04pm",
	"3pm",
}

var relativeDays = map[string]int{
	"yesterday": -1,
	"today":     0,
	"tomorrow":  1,
}

var weekdayWords = map[string]time.Weekday{
	"mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday, "thu": time.Thursday,
	"fri": time.Friday, "sat": time.Saturday, "sun": time.Sunday,
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday, "sunday": time.Sunday,
}

// parseWallClock reads a date with an optional time of day and returns it as
// a floating wall-clock time in UTC. Relative words resolve against now in
// loc.
func parseWallClock(text string, now time.Time, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return t, nil
		}
	}

	fields := strings.Fields(text)
	// The clock, when present, is the last field or the last two ("3 pm").
	for n := 0; n <= 2 && n < len(fields); n++ {
		datePart := strings.Join(fields[:len(fields)-n], " ")
		clockPart := strings.ToLower(strings.Join(fields[len(fields)-n:], ""))

		var (
			date time.Time
			ok   bool
		)
		if datePart == "" {
			date, ok = dayOf(now.In(loc)), true
		} else {
			date, ok = parseDate(datePart, now.In(loc))
		}
		if !ok {
			continue
		}
		if n == 0 {
			return date, nil
		}
		clock, ok := parseClock(clockPart)
		if !ok {
			continue
		}
		return date.Add(clock), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", text)
}

func parseDate(s string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(s)
	if off, ok := relativeDays[lower]; ok {
		return dayOf(now).AddDate(0, 0, off), true
	}
	if wd, ok := weekdayWords[lower]; ok {
		ahead := (int(wd) - int(now.Weekday()) + 7) % 7
		return dayOf(now).AddDate(0, 0, ahead), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseClock(s string) (time.Duration, bool) {
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, true
		}
	}
	return 0, false
}

// dayOf drops the time of day and the zone, keeping the calendar date.
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// zoneDirective is the trailing "z <name>" or "z none" of a value.
type zoneDirective struct {
	present bool
	name    string
}

func (z zoneDirective) none() bool {
	return z.present && strings.EqualFold(z.name, "none")
}

// splitZone strips a trailing zone directive from value.
func splitZone(value string) (string, zoneDirective) {
	fields := strings.Fields(value)
	n := len(fields)
	switch {
	case n >= 2 && fields[n-2] == "z":
		return strings.Join(fields[:n-2], " "), zoneDirective{present: true, name: fields[n-1]}
	case n >= 1 && fields[n-1] == "z":
		return strings.Join(fields[:n-1], " "), zoneDirective{present: true}
	}
	return value, zoneDirective{}
}

// moment is a resolved scheduling value.
type moment struct {
	t    time.Time
	kind recur.Kind
	loc  *time.Location
}

// resolveSchedule decides the kind of a scheduling value: a zero time of day
// without a directive is a date, "z none" keeps a naive wall clock, anything
// else is attached to the named (or local) zone and normalized to UTC.
func resolveSchedule(value string, opts Options) (moment, error) {
	text, z := splitZone(value)
	wall, err := parseWallClock(text, opts.Now(), opts.Location)
	if err != nil {
		return moment{}, err
	}
	switch {
	case !z.present && isMidnight(wall):
		return moment{t: wall, kind: recur.KindDate}, nil
	case z.none():
		return moment{t: wall, kind: recur.KindNaive}, nil
	}
	loc, err := lookupZone(z, opts)
	if err != nil {
		return moment{}, err
	}
	return moment{t: attach(wall, loc), kind: recur.KindAware, loc: loc}, nil
}

// resolveIn parses a later value in the kind fixed by the schedule.
func resolveIn(value string, kind recur.Kind, loc *time.Location, opts Options) (time.Time, error) {
	text, z := splitZone(value)
	wall, err := parseWallClock(text, opts.Now(), opts.Location)
	if err != nil {
		return time.Time{}, err
	}
	switch kind {
	case recur.KindDate:
		if z.present {
			return time.Time{}, fmt.Errorf("zone directive not allowed for a date schedule")
		}
		if !isMidnight(wall) {
			return time.Time{}, fmt.Errorf("%q has a time of day but the schedule is a date", text)
		}
		return wall, nil
	case recur.KindNaive:
		if z.present && !z.none() {
			return time.Time{}, fmt.Errorf("zone directive not allowed for a naive schedule")
		}
		return wall, nil
	case recur.KindAware:
		if z.none() {
			return time.Time{}, fmt.Errorf("z none not allowed for a zoned schedule")
		}
		if z.present {
			if loc, err = lookupZone(z, opts); err != nil {
				return time.Time{}, err
			}
		}
		return attach(wall, loc), nil
	default:
		return time.Time{}, fmt.Errorf("no schedule")
	}
}

// resolveInstant parses a completion timestamp. It carries its own
// directive, defaults to the local zone and is stored in UTC.
func resolveInstant(value string, opts Options) (time.Time, error) {
	text, z := splitZone(value)
	wall, err := parseWallClock(text, opts.Now(), opts.Location)
	if err != nil {
		return time.Time{}, err
	}
	if z.none() {
		return wall, nil
	}
	loc, err := lookupZone(z, opts)
	if err != nil {
		return time.Time{}, err
	}
	return attach(wall, loc), nil
}

func lookupZone(z zoneDirective, opts Options) (*time.Location, error) {
	if z.name == "" {
		return opts.Location, nil
	}
	loc, err := opts.Zones.LoadLocation(z.name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", z.name)
	}
	return loc, nil
}

// attach reads the wall-clock fields of wall in loc and returns the instant
// in UTC.
func attach(wall time.Time, loc *time.Location) time.Time {
	return time.Date(wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), 0, loc).UTC()
}

// formatWall renders a wall clock for an entry, dropping zero seconds.
func formatWall(t time.Time) string {
	if t.Second() != 0 {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.Format("2006-01-02 15:04")
}
