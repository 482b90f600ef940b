package recur

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"
)

var rruleFreqs = map[Frequency]rrule.Frequency{
	Yearly:   rrule.YEARLY,
	Monthly:  rrule.MONTHLY,
	Weekly:   rrule.WEEKLY,
	Daily:    rrule.DAILY,
	Hourly:   rrule.HOURLY,
	Minutely: rrule.MINUTELY,
}

var rruleDays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Option converts the rule into rrule-go options anchored at dtstart.
func (r *Rule) Option(dtstart time.Time) (rrule.ROption, error) {
	freq, ok := rruleFreqs[r.Freq]
	if !ok {
		return rrule.ROption{}, errors.New("invalid frequency")
	}
	opt := rrule.ROption{
		Freq:       freq,
		Dtstart:    dtstart,
		Interval:   r.Interval,
		Count:      r.Count,
		Bymonth:    r.ByMonth,
		Bymonthday: r.ByMonthDay,
		Byhour:     r.ByHour,
		Byminute:   r.ByMinute,
		Bysetpos:   r.BySetPos,
		Byweekno:   r.ByWeekNo,
		Byeaster:   r.ByEaster,
	}
	if r.Until != nil {
		opt.Until = *r.Until
	}
	for _, d := range r.ByDay {
		wd := rruleDays[d.Day]
		if d.N != 0 {
			wd = wd.Nth(d.N)
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}
	return opt, nil
}

// Compile builds an rrule-go set from rs. All timestamps are used as stored:
// aware values in UTC, naive and date values as floating UTC wall clock.
func (rs *RuleSet) Compile() (*rrule.Set, error) {
	if rs == nil {
		return nil, errors.New("nil rule set")
	}
	set := &rrule.Set{}
	if rs.Rule != nil {
		if rs.Anchor == nil {
			return nil, errors.New("repetition rule without anchor")
		}
		opt, err := rs.Rule.Option(*rs.Anchor)
		if err != nil {
			return nil, err
		}
		r, err := rrule.NewRRule(opt)
		if err != nil {
			return nil, err
		}
		set.DTStart(*rs.Anchor)
		set.RRule(r)
	}
	for _, t := range rs.RDates {
		set.RDate(t)
	}
	for _, t := range rs.ExDates {
		set.ExDate(t)
	}
	return set, nil
}

// First returns the earliest occurrence of rs, if any.
func (rs *RuleSet) First() (time.Time, bool) {
	set, err := rs.Compile()
	if err != nil {
		return time.Time{}, false
	}
	t := set.After(time.Time{}, true)
	return t, !t.IsZero()
}

// After returns the first occurrence strictly after t.
func (rs *RuleSet) After(t time.Time) (time.Time, bool) {
	set, err := rs.Compile()
	if err != nil {
		return time.Time{}, false
	}
	next := set.After(t, false)
	return next, !next.IsZero()
}
