package ics

import (
	"io"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"schedline/internal/entry"
	appLog "schedline/internal/log"
	"schedline/internal/model"
	"schedline/internal/recur"
)

// Imported is one calendar component converted to an item.
type Imported struct {
	// UID identifies the component within its calendar. Overrides of a
	// single recurring instance get the master UID plus the instance
	// timestamp.
	UID   string
	Item  *model.Item
	Entry string
}

// ImportOptions configures Import.
type ImportOptions struct {
	// Zones resolves TZID parameters; defaults to time.LoadLocation.
	Zones entry.ZoneResolver
}

// Import reads a calendar and converts its events to event entries and its
// to-dos to task entries. Cancelled components are dropped; an override of
// one recurring instance excludes that instance from its master and becomes
// an entry of its own.
func Import(r io.Reader, opts ImportOptions) ([]Imported, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read calendar")
	}
	events, err := ParseICS(body, opts.Zones)
	if err != nil {
		return nil, err
	}
	return Convert(events), nil
}

// Convert turns parsed components into items. Components that do not fit
// the entry model are logged and skipped.
func Convert(events []ParsedEvent) []Imported {
	masters := map[string]int{}
	for i, ev := range events {
		if !ev.IsOverride {
			masters[ev.UID] = i
		}
	}
	// Overridden instances are removed from their master.
	exclude := map[string][]Stamp{}
	for _, ev := range events {
		if ev.IsOverride {
			if _, ok := masters[ev.UID]; ok {
				exclude[ev.UID] = append(exclude[ev.UID], *ev.Recurrence)
			}
		}
	}

	var out []Imported
	for _, ev := range events {
		if ev.Cancelled {
			continue
		}
		uid := ev.UID
		if ev.IsOverride {
			uid += "@" + ev.Recurrence.Kind.Format(ev.Recurrence.T)
			ev.RawRRule, ev.RDates, ev.ExDates = "", nil, nil
		} else {
			ev.ExDates = append(ev.ExDates, exclude[ev.UID]...)
		}
		it, err := toItem(ev)
		if err != nil {
			appLog.Warn("ics: component skipped", "uid", uid, "err", err)
			continue
		}
		out = append(out, Imported{UID: uid, Item: it, Entry: entry.Format(it)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

func toItem(ev ParsedEvent) (*model.Item, error) {
	it := &model.Item{
		Type:        model.Event,
		Subject:     clean(ev.Summary),
		Description: clean(ev.Description),
		Location:    clean(ev.Location),
		URL:         clean(ev.URL),
	}
	if ev.Todo {
		it.Type = model.Task
	}
	if it.Subject == "" {
		it.Subject = "(no title)"
	}
	if ev.Priority > 0 {
		// RFC 5545 uses 1..9 with 1 highest.
		it.Priority = min((ev.Priority+1)/2, 5)
	}
	for _, c := range ev.Categories {
		if tag := strings.Join(strings.Fields(clean(c)), "-"); tag != "" {
			it.Tags = append(it.Tags, tag)
		}
	}

	if ev.Start.Kind == recur.KindNone {
		if it.Type == model.Event {
			return nil, errors.New("event without DTSTART")
		}
		return it, nil
	}

	kind, loc := ev.Start.Kind, ev.Start.Loc
	b := recur.NewBuilder(kind, ev.Start.T)
	if ev.RawRRule != "" {
		rule, err := compileRule(ev.RawRRule, ev.Start)
		if err != nil {
			return nil, err
		}
		b = b.WithRule(rule)
	}
	for _, s := range ev.RDates {
		b = b.Include(s.In(kind, loc))
	}
	for _, s := range ev.ExDates {
		b = b.Exclude(s.In(kind, loc))
	}
	rs, err := b.Build()
	if err != nil {
		return nil, errors.Wrap(err, "schedule")
	}
	if rs.Empty() {
		return nil, errors.New("every occurrence is excluded")
	}
	it.Kind, it.RuleSet = kind, rs
	if kind == recur.KindAware {
		it.Zone = loc.String()
	}

	switch {
	case ev.Extent <= 0:
	case kind == recur.KindDate && ev.Extent <= 24*time.Hour:
		// A one-day all-day event covers its date.
	default:
		it.Extent = ev.Extent
	}
	return it, nil
}

// compileRule reads an RRULE value in the kind of its DTSTART. UNTIL is
// converted when the feed wrote it in another kind. WKST is dropped.
func compileRule(raw string, start Stamp) (recur.Rule, error) {
	var parts []string
	for _, part := range strings.Split(raw, ";") {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "WKST":
			continue
		case "UNTIL":
			until, err := parseICSTime(strings.TrimSpace(val), false, nil)
			if err != nil {
				return recur.Rule{}, errors.Wrap(err, "RRULE UNTIL")
			}
			part = "UNTIL=" + start.Kind.Format(until.In(start.Kind, start.Loc))
		}
		parts = append(parts, part)
	}

	head := "DTSTART:"
	if start.Kind == recur.KindDate {
		head = "DTSTART;VALUE=DATE:"
	}
	rs, err := recur.ParseRuleSet(head + start.Kind.Format(start.T) + "\nRRULE:" + strings.Join(parts, ";"))
	if err != nil {
		return recur.Rule{}, errors.Wrapf(err, "RRULE %q", raw)
	}
	return *rs.Rule, nil
}

// clean folds text onto one line and strips the markers that would start
// an entry token.
func clean(s string) string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimLeft(f, "@&")
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}
