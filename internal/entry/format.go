package entry

import (
	"strconv"
	"strings"
	"time"

	"schedline/internal/jobs"
	"schedline/internal/model"
	"schedline/internal/recur"
)

// Format renders the canonical entry text of an item. Parsing the result
// gives back an identical item.
func Format(it *model.Item) string {
	f := formatter{}
	f.b.WriteByte(byte(it.Type))
	f.b.WriteByte(' ')
	f.b.WriteString(it.Subject)

	loc := zoneOf(it)
	rs := it.RuleSet
	if !rs.Empty() {
		var (
			start    time.Time
			includes = rs.RDates
		)
		if rs.Rule != nil {
			start = *rs.Anchor
		} else {
			start, includes = rs.RDates[0], rs.RDates[1:]
		}
		f.at("s", formatIn(start, it, loc, true))
		if it.Extent > 0 {
			f.at("e", FormatDuration(it.Extent))
		}
		if rs.Rule != nil {
			f.rule(rs.Rule, it, loc)
		}
		if len(includes) > 0 {
			f.at("+", formatList(includes, it, loc))
		}
		if len(rs.ExDates) > 0 {
			f.at("-", formatList(rs.ExDates, it, loc))
		}
	} else if it.Extent > 0 {
		f.at("e", FormatDuration(it.Extent))
	}

	if it.Offset != nil {
		v := FormatDuration(it.Offset.Every)
		if it.Offset.Learn {
			v = "~" + v
		}
		f.at("o", v)
	}
	for _, a := range it.Alerts {
		f.at("a", formatDurations(a.Offsets)+": "+strings.Join(a.Commands, ","))
	}
	if it.BeginBy > 0 {
		f.at("b", FormatDuration(it.BeginBy))
	}
	if it.Priority > 0 {
		f.at("p", strconv.Itoa(it.Priority))
	}
	for _, t := range it.Tags {
		f.at("t", t)
	}
	for _, u := range it.Attendees {
		f.at("u", u)
	}
	f.opt("c", it.Context)
	f.opt("i", it.Bin)
	f.opt("l", it.Location)
	f.opt("g", it.URL)
	f.opt("d", it.Description)
	if it.Finished != nil {
		f.at("f", formatInstant(*it.Finished))
	}

	for _, j := range it.Jobs {
		f.at("j", j.Summary)
		if j.ID > 0 {
			f.amp("r", jobs.FormatRef(j.ID, j.Requires))
		}
		if j.Offset != 0 {
			f.amp("s", FormatDuration(j.Offset))
		}
		if j.Extent > 0 {
			f.amp("e", FormatDuration(j.Extent))
		}
		if j.Finished != nil {
			f.amp("f", formatInstant(*j.Finished))
		}
	}
	return f.b.String()
}

type formatter struct {
	b strings.Builder
}

func (f *formatter) at(key, value string) {
	f.b.WriteString(" @")
	f.b.WriteString(key)
	f.b.WriteByte(' ')
	f.b.WriteString(value)
}

func (f *formatter) amp(key, value string) {
	f.b.WriteString(" &")
	f.b.WriteString(key)
	f.b.WriteByte(' ')
	f.b.WriteString(value)
}

func (f *formatter) opt(key, value string) {
	if value != "" {
		f.at(key, value)
	}
}

func (f *formatter) rule(r *recur.Rule, it *model.Item, loc *time.Location) {
	f.at("r", r.Freq.Code())
	ints := func(key string, vals []int) {
		if len(vals) == 0 {
			return
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = strconv.Itoa(v)
		}
		f.amp(key, strings.Join(parts, ","))
	}
	if r.Interval > 0 {
		f.amp("i", strconv.Itoa(r.Interval))
	}
	if r.Count > 0 {
		f.amp("c", strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		f.amp("u", formatIn(*r.Until, it, loc, false))
	}
	ints("m", r.ByMonth)
	ints("d", r.ByMonthDay)
	if len(r.ByDay) > 0 {
		f.amp("w", recur.FormatWeekdays(r.ByDay))
	}
	ints("H", r.ByHour)
	ints("M", r.ByMinute)
	ints("s", r.BySetPos)
	ints("n", r.ByWeekNo)
	ints("E", r.ByEaster)
}

// formatIn renders t in the kind of the item. The zone directive is only
// written for the scheduling value; later values inherit it.
func formatIn(t time.Time, it *model.Item, loc *time.Location, withZone bool) string {
	switch it.Kind {
	case recur.KindDate:
		return t.Format("2006-01-02")
	case recur.KindNaive:
		if withZone {
			return formatWall(t) + " z none"
		}
		return formatWall(t)
	default:
		s := formatWall(t.In(loc))
		if withZone {
			s += " z " + loc.String()
		}
		return s
	}
}

func formatList(ts []time.Time, it *model.Item, loc *time.Location) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = formatIn(t, it, loc, false)
	}
	return strings.Join(parts, ", ")
}

func formatInstant(t time.Time) string {
	return formatWall(t.UTC()) + " z UTC"
}

func zoneOf(it *model.Item) *time.Location {
	if it.Zone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(it.Zone)
	if err != nil {
		return time.UTC
	}
	return loc
}
