package ics

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/cockroachdb/errors"

	"schedline/internal/entry"
	appLog "schedline/internal/log"
	"schedline/internal/recur"
)

// ParsedEvent is the normalized representation of a VEVENT or VTODO as
// read from a calendar. Times keep the kind their property was written in.
type ParsedEvent struct {
	UID  string
	Seq  int
	Todo bool

	Summary     string
	Description string
	Location    string
	URL         string
	Categories  []string
	Priority    int
	Cancelled   bool

	Start  Stamp
	End    *Stamp
	Extent time.Duration

	RawRRule   string
	RDates     []Stamp
	ExDates    []Stamp
	Recurrence *Stamp // RECURRENCE-ID (if present)
	IsOverride bool   // true if this component overrides one recurring instance
}

// Stamp is one DATE or DATE-TIME value. Date and floating values are wall
// clocks in UTC; zoned and UTC values are instants in UTC with Loc naming the
// zone they were written in.
type Stamp struct {
	T    time.Time
	Kind recur.Kind
	Loc  *time.Location
}

// ParseICS parses a single ICS payload. Components that cannot be read are
// logged and skipped; zones named by TZID are resolved through zones.
func ParseICS(body []byte, zones entry.ZoneResolver) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if zones == nil {
		zones = entry.ZoneFunc(time.LoadLocation)
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "parse calendar")
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseComponent(&comp.ComponentBase, zones)
		if perr != nil {
			appLog.Warn("ics: vevent skipped", "uid", comp.Id(), "err", perr)
			continue
		}
		events = append(events, ev)
	}
	for _, comp := range cal.Todos() {
		ev, perr := parseComponent(&comp.ComponentBase, zones)
		if perr != nil {
			appLog.Warn("ics: vtodo skipped", "uid", comp.Id(), "err", perr)
			continue
		}
		ev.Todo = true
		events = append(events, ev)
	}

	appLog.Debug("ics: parse completed", "event_count", len(events))
	return events, nil
}

func parseComponent(cb *ical.ComponentBase, zones entry.ZoneResolver) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := cb.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	// SEQUENCE (optional, used for overrides/versioning)
	if seqProp := cb.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	out.Summary = value(cb, ical.ComponentPropertySummary)
	out.Description = value(cb, ical.ComponentPropertyDescription)
	out.Location = value(cb, ical.ComponentPropertyLocation)
	out.URL = value(cb, ical.ComponentPropertyUrl)
	out.Cancelled = strings.EqualFold(value(cb, ical.ComponentPropertyStatus), string(ical.ObjectStatusCancelled))
	if p := value(cb, ical.ComponentPropertyPriority); p != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out.Priority = n
		}
	}
	for _, p := range cb.GetProperties(ical.ComponentPropertyCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}

	start := cb.GetProperty(ical.ComponentPropertyDtStart)
	if start == nil {
		// VTODOs may carry only a due date.
		start = cb.GetProperty(ical.ComponentPropertyDue)
	}
	if start == nil {
		return out, nil
	}
	stamps, err := readStamps(start, zones)
	if err != nil {
		return out, errors.Wrap(err, "DTSTART")
	}
	out.Start = stamps[0]

	if endProp := cb.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		ends, err := readStamps(endProp, zones)
		if err != nil {
			return out, errors.Wrap(err, "DTEND")
		}
		out.End = &ends[0]
		out.Extent = out.End.In(out.Start.Kind, out.Start.Loc).Sub(out.Start.T)
	} else if d := value(cb, ical.ComponentPropertyDuration); d != "" {
		if out.Extent, err = parseDuration(d); err != nil {
			return out, errors.Wrap(err, "DURATION")
		}
	}

	// RRULE (we only keep the raw value here; it is compiled with the item).
	if rruleProp := cb.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}
	for _, p := range cb.GetProperties(ical.ComponentPropertyRdate) {
		if v, ok := p.ICalParameters[string(ical.ParameterValue)]; ok && len(v) > 0 && strings.EqualFold(v[0], "PERIOD") {
			continue
		}
		ts, err := readStamps(p, zones)
		if err != nil {
			return out, errors.Wrap(err, "RDATE")
		}
		out.RDates = append(out.RDates, ts...)
	}
	for _, p := range cb.GetProperties(ical.ComponentPropertyExdate) {
		ts, err := readStamps(p, zones)
		if err != nil {
			return out, errors.Wrap(err, "EXDATE")
		}
		out.ExDates = append(out.ExDates, ts...)
	}

	// RECURRENCE-ID (overridden instance)
	if ridProp := cb.GetProperty(ical.ComponentPropertyRecurrenceId); ridProp != nil {
		ts, err := readStamps(ridProp, zones)
		if err != nil {
			return out, errors.Wrap(err, "RECURRENCE-ID")
		}
		out.Recurrence = &ts[0]
		out.IsOverride = true
	}
	return out, nil
}

func value(cb *ical.ComponentBase, p ical.ComponentProperty) string {
	if prop := cb.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

// readStamps reads every comma separated value of a date property, honoring
// its VALUE and TZID parameters.
func readStamps(p *ical.IANAProperty, zones entry.ZoneResolver) ([]Stamp, error) {
	var (
		dateOnly bool
		loc      *time.Location
	)
	if vs, ok := p.ICalParameters[string(ical.ParameterValue)]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		dateOnly = true
	}
	if tzs, ok := p.ICalParameters[string(ical.ParameterTzid)]; ok && len(tzs) > 0 && tzs[0] != "" {
		l, err := zones.LoadLocation(tzs[0])
		if err != nil {
			return nil, errors.Wrapf(err, "unknown TZID %q", tzs[0])
		}
		loc = l
	}

	var out []Stamp
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s, err := parseICSTime(part, dateOnly, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("empty time value")
	}
	return out, nil
}

// parseICSTime reads one DATE or DATE-TIME value.
func parseICSTime(v string, dateOnly bool, loc *time.Location) (Stamp, error) {
	if dateOnly && len(v) > len(recur.LayoutDate) {
		v = v[:len(recur.LayoutDate)]
	}
	t, kind, err := recur.ParseTime(v)
	if err != nil {
		return Stamp{}, errors.Wrapf(err, "time value %q", v)
	}
	switch {
	case kind == recur.KindAware:
		return Stamp{T: t, Kind: kind, Loc: time.UTC}, nil
	case kind == recur.KindNaive && loc != nil:
		return Stamp{T: attach(t, loc), Kind: recur.KindAware, Loc: loc}, nil
	}
	return Stamp{T: t, Kind: kind}, nil
}

// In converts s to the kind of another value. Zoned values become dates or
// wall clocks in their own zone; wall clocks become instants in loc.
func (s Stamp) In(kind recur.Kind, loc *time.Location) time.Time {
	if s.Kind == kind {
		return s.T
	}
	wall := s.T
	if s.Kind == recur.KindAware {
		wall = floating(s.T.In(s.Loc))
	}
	switch kind {
	case recur.KindDate:
		return time.Date(wall.Year(), wall.Month(), wall.Day(), 0, 0, 0, 0, time.UTC)
	case recur.KindAware:
		if loc == nil {
			loc = time.UTC
		}
		return attach(wall, loc)
	default:
		return wall
	}
}

func attach(wall time.Time, loc *time.Location) time.Time {
	return time.Date(wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), 0, loc).UTC()
}

func floating(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// parseDuration reads an RFC 5545 DURATION value such as P1W, PT1H30M or
// -P2D.
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg, s = true, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, errors.Newf("malformed duration %q", v)
	}
	s = s[1:]

	var (
		d       time.Duration
		inTime  bool
		pending bool // T seen without a time part yet
		num     = -1
	)
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			if num < 0 {
				num = 0
			}
			num = num*10 + int(c-'0')
			continue
		case c == 'T':
			if inTime || num >= 0 {
				return 0, errors.Newf("malformed duration %q", v)
			}
			inTime, pending = true, true
			continue
		}
		if num < 0 {
			return 0, errors.Newf("malformed duration %q", v)
		}
		unit, ok := durationUnit(c, inTime)
		if !ok {
			return 0, errors.Newf("malformed duration %q", v)
		}
		d += time.Duration(num) * unit
		num, pending = -1, false
	}
	if num >= 0 || pending {
		return 0, errors.Newf("malformed duration %q", v)
	}
	if neg {
		d = -d
	}
	return d, nil
}

func durationUnit(c rune, inTime bool) (time.Duration, bool) {
	if inTime {
		switch c {
		case 'H':
			return time.Hour, true
		case 'M':
			return time.Minute, true
		case 'S':
			return time.Second, true
		}
		return 0, false
	}
	switch c {
	case 'W':
		return 7 * 24 * time.Hour, true
	case 'D':
		return 24 * time.Hour, true
	}
	return 0, false
}

// formatDuration renders d as an RFC 5545 DURATION value.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteByte('P')
	day := 24 * time.Hour
	if d%(7*day) == 0 {
		b.WriteString(strconv.FormatInt(int64(d/(7*day)), 10) + "W")
		return b.String()
	}
	if n := d / day; n > 0 {
		b.WriteString(strconv.FormatInt(int64(n), 10) + "D")
		d -= n * day
	}
	if d == 0 {
		return b.String()
	}
	b.WriteByte('T')
	for _, u := range []struct {
		unit time.Duration
		sym  string
	}{{time.Hour, "H"}, {time.Minute, "M"}, {time.Second, "S"}} {
		if n := d / u.unit; n > 0 {
			b.WriteString(strconv.FormatInt(int64(n), 10) + u.sym)
			d -= n * u.unit
		}
	}
	return b.String()
}
