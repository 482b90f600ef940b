package entry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedline/internal/jobs"
	"schedline/internal/model"
	"schedline/internal/recur"
)

// fieldHandler parses one token value into the item under construction.
type fieldHandler func(d *dispatcher, tok Token) error

// handlers is indexed by Key. Every key has an entry; a missing one is a
// programming error caught by tests.
var handlers = [numKeys]fieldHandler{
	KeySchedule:    (*dispatcher).schedule,
	KeyExtent:      (*dispatcher).extent,
	KeyAlert:       (*dispatcher).alert,
	KeyBeginBy:     (*dispatcher).beginBy,
	KeyContext:     text(func(it *model.Item, v string) { it.Context = v }),
	KeyBin:         text(func(it *model.Item, v string) { it.Bin = v }),
	KeyDescription: text(func(it *model.Item, v string) { it.Description = v }),
	KeyPriority:    (*dispatcher).priority,
	KeyTag:         text(func(it *model.Item, v string) { it.Tags = append(it.Tags, v) }),
	KeyAttendee:    text(func(it *model.Item, v string) { it.Attendees = append(it.Attendees, v) }),
	KeyLocation:    text(func(it *model.Item, v string) { it.Location = v }),
	KeyURL:         text(func(it *model.Item, v string) { it.URL = v }),
	KeyOffset:      (*dispatcher).offset,
	KeyRepeat:      (*dispatcher).repeat,
	KeyInclude:     (*dispatcher).include,
	KeyExclude:     (*dispatcher).exclude,
	KeyFinished:    (*dispatcher).finished,
	KeyJob:         (*dispatcher).job,

	KeyRepeatInterval: (*dispatcher).ruleInts,
	KeyRepeatCount:    (*dispatcher).ruleInts,
	KeyRepeatUntil:    (*dispatcher).ruleUntil,
	KeyRepeatMonth:    (*dispatcher).ruleInts,
	KeyRepeatMonthDay: (*dispatcher).ruleInts,
	KeyRepeatWeekday:  (*dispatcher).ruleWeekdays,
	KeyRepeatHour:     (*dispatcher).ruleInts,
	KeyRepeatMinute:   (*dispatcher).ruleInts,
	KeyRepeatSetPos:   (*dispatcher).ruleInts,
	KeyRepeatWeekNo:   (*dispatcher).ruleInts,
	KeyRepeatEaster:   (*dispatcher).ruleInts,

	KeyJobRef:      (*dispatcher).jobRef,
	KeyJobOffset:   (*dispatcher).jobOffset,
	KeyJobExtent:   (*dispatcher).jobExtent,
	KeyJobFinished: (*dispatcher).jobFinished,
}

// scheduleDependent keys are skipped when the schedule itself failed, since
// their values are parsed in its kind.
var scheduleDependent = setOf(KeyRepeat, KeyInclude, KeyExclude, KeyOffset)

var errEveryDateExcluded = errors.New("exclusions remove every date")

// dispatcher holds the state of one parse. It is created per call and
// discarded afterwards.
type dispatcher struct {
	opts Options
	item *model.Item

	errs FieldErrors

	// Schedule state, folded into a recur.Builder at the end.
	start    *time.Time
	loc      *time.Location
	rule     *recur.Rule
	includes []time.Time
	excludes []time.Time

	scheduleFailed bool
	anchorFailed   bool
}

func text(set func(*model.Item, string)) fieldHandler {
	return func(d *dispatcher, tok Token) error {
		if tok.Value == "" {
			return fmt.Errorf("missing value")
		}
		set(d.item, tok.Value)
		return nil
	}
}

// dispatch runs every handler over validated tokens. The scheduling token is
// handled first since it fixes the kind later values are parsed in.
func dispatch(tokens []Token, opts Options) (*model.Item, FieldErrors) {
	typ, _ := model.ParseItemType(tokens[0].Text[0])
	d := &dispatcher{
		opts: opts,
		item: &model.Item{Type: typ, Subject: Subject(tokens)},
	}

	for _, tok := range tokens[2:] {
		if tok.Kind == TokenAt && tok.Key == keyTable[KeySchedule].char {
			d.run(KeySchedule, tok)
		}
	}

	anchor := noKey
	for _, tok := range tokens[2:] {
		switch tok.Kind {
		case TokenAt:
			k, _ := atKey(tok.Key)
			anchor = noKey
			if k == KeyRepeat || k == KeyJob {
				anchor = k
			}
			if k == KeySchedule {
				continue
			}
			if d.scheduleFailed && scheduleDependent.has(k) {
				d.anchorFailed = true
				continue
			}
			d.anchorFailed = !d.run(k, tok) && anchor != noKey
		case TokenAmp:
			if d.anchorFailed {
				continue
			}
			k, ok := ampKey(anchor, tok.Key)
			if !ok {
				continue
			}
			d.run(k, tok)
		}
	}

	d.build()
	return d.item, d.errs
}

// run invokes the handler for k and records a failure. It reports whether
// the handler succeeded.
func (d *dispatcher) run(k Key, tok Token) bool {
	if err := handlers[k](d, tok); err != nil {
		d.fail(k, tok, err)
		return false
	}
	return true
}

func (d *dispatcher) fail(k Key, tok Token, err error) {
	label := k.String()
	if k.IsSub() {
		label = keyTable[k].anchor.String() + " " + label
	}
	d.errs = append(d.errs, &FieldError{Key: label, Token: tok, Err: err})
}

// build folds the schedule state into a rule set and checks the job graph.
func (d *dispatcher) build() {
	if d.start != nil {
		b := recur.NewBuilder(d.item.Kind, *d.start)
		if d.rule != nil {
			b = b.WithRule(*d.rule)
		}
		rs, err := b.Include(d.includes...).Exclude(d.excludes...).Build()
		switch {
		case err != nil:
			d.errs = append(d.errs, &FieldError{Key: KeyRepeat.String(), Err: err})
		case rs.Empty():
			d.errs = append(d.errs, &FieldError{Key: KeySchedule.String(), Err: errEveryDateExcluded})
		default:
			d.item.RuleSet = rs
		}
	}
	if len(d.item.Jobs) > 0 {
		if err := jobs.Validate(d.item.Jobs); err != nil {
			d.errs = append(d.errs, &FieldError{Key: KeyJob.String(), Err: err})
		}
	}
}

func (d *dispatcher) schedule(tok Token) error {
	m, err := resolveSchedule(tok.Value, d.opts)
	if err != nil {
		d.scheduleFailed = true
		return err
	}
	d.item.Kind = m.kind
	d.start = &m.t
	d.loc = m.loc
	if m.loc != nil {
		d.item.Zone = m.loc.String()
	}
	return nil
}

func (d *dispatcher) extent(tok Token) error {
	v, err := positiveDuration(tok.Value)
	if err != nil {
		return err
	}
	d.item.Extent = v
	return nil
}

func (d *dispatcher) beginBy(tok Token) error {
	v, err := positiveDuration(tok.Value)
	if err != nil {
		return err
	}
	d.item.BeginBy = v
	return nil
}

func positiveDuration(s string) (time.Duration, error) {
	v, err := ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", FormatDuration(v))
	}
	return v, nil
}

// alert reads "<dur>[,<dur>]: <cmd>[,<cmd>]".
func (d *dispatcher) alert(tok Token) error {
	durs, cmds, ok := strings.Cut(tok.Value, ":")
	if !ok {
		return fmt.Errorf("expected <durations>: <commands>")
	}
	offsets, err := parseDurations(durs)
	if err != nil {
		return err
	}
	var commands []string
	for _, c := range strings.Split(cmds, ",") {
		if c = strings.TrimSpace(c); c != "" {
			commands = append(commands, c)
		}
	}
	if len(commands) == 0 {
		return fmt.Errorf("missing alert command")
	}
	d.item.Alerts = append(d.item.Alerts, model.Alert{Offsets: offsets, Commands: commands})
	return nil
}

func (d *dispatcher) priority(tok Token) error {
	p, err := strconv.Atoi(strings.TrimSpace(tok.Value))
	if err != nil || p < 1 || p > 5 {
		return fmt.Errorf("invalid priority %q: expected 1 to 5", tok.Value)
	}
	d.item.Priority = p
	return nil
}

func (d *dispatcher) offset(tok Token) error {
	v := strings.TrimSpace(tok.Value)
	learn := strings.HasPrefix(v, "~")
	every, err := positiveDuration(strings.TrimPrefix(v, "~"))
	if err != nil {
		return err
	}
	d.item.Offset = &model.Offset{Every: every, Learn: learn}
	return nil
}

func (d *dispatcher) repeat(tok Token) error {
	f, err := recur.FrequencyFromCode(tok.Value)
	if err != nil {
		return err
	}
	d.rule = &recur.Rule{Freq: f}
	return nil
}

func (d *dispatcher) dates(value string) ([]time.Time, error) {
	var out []time.Time
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		t, err := resolveIn(part, d.item.Kind, d.loc, d.opts)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("missing date")
	}
	return out, nil
}

func (d *dispatcher) include(tok Token) error {
	ts, err := d.dates(tok.Value)
	if err != nil {
		return err
	}
	d.includes = append(d.includes, ts...)
	return nil
}

func (d *dispatcher) exclude(tok Token) error {
	ts, err := d.dates(tok.Value)
	if err != nil {
		return err
	}
	d.excludes = append(d.excludes, ts...)
	return nil
}

func (d *dispatcher) finished(tok Token) error {
	t, err := resolveInstant(tok.Value, d.opts)
	if err != nil {
		return err
	}
	d.item.Finished = &t
	return nil
}

func (d *dispatcher) job(tok Token) error {
	if tok.Value == "" {
		return fmt.Errorf("missing job summary")
	}
	d.item.Jobs = append(d.item.Jobs, model.Job{Summary: tok.Value})
	return nil
}

// currentJob is the job opened by the last @j.
func (d *dispatcher) currentJob() *model.Job {
	return &d.item.Jobs[len(d.item.Jobs)-1]
}

func (d *dispatcher) ruleInts(tok Token) error {
	k, _ := ampKey(KeyRepeat, tok.Key)
	p := keyTable[k].param
	vals, err := recur.ParseInts(p, tok.Value)
	if err != nil {
		return err
	}
	return d.rule.SetInts(p, vals)
}

func (d *dispatcher) ruleUntil(tok Token) error {
	t, err := resolveIn(tok.Value, d.item.Kind, d.loc, d.opts)
	if err != nil {
		return err
	}
	d.rule.Until = &t
	return nil
}

func (d *dispatcher) ruleWeekdays(tok Token) error {
	days, err := recur.ParseWeekdays(tok.Value)
	if err != nil {
		return err
	}
	d.rule.ByDay = days
	return nil
}

func (d *dispatcher) jobRef(tok Token) error {
	id, deps, err := jobs.ParseRef(tok.Value)
	if err != nil {
		return err
	}
	j := d.currentJob()
	j.ID = id
	j.Requires = deps
	return nil
}

func (d *dispatcher) jobOffset(tok Token) error {
	v, err := ParseDuration(tok.Value)
	if err != nil {
		return err
	}
	d.currentJob().Offset = v
	return nil
}

func (d *dispatcher) jobExtent(tok Token) error {
	v, err := positiveDuration(tok.Value)
	if err != nil {
		return err
	}
	d.currentJob().Extent = v
	return nil
}

func (d *dispatcher) jobFinished(tok Token) error {
	t, err := resolveInstant(tok.Value, d.opts)
	if err != nil {
		return err
	}
	d.currentJob().Finished = &t
	return nil
}
