// Package engine ties the entry parser, the materializer and the completion
// state machine to one set of collaborators: a clock, a local zone and a
// timezone resolver.
package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"schedline/internal/entry"
	"schedline/internal/expand"
	"schedline/internal/finish"
	appLog "schedline/internal/log"
	"schedline/internal/model"
	"schedline/internal/recur"
)

// Options configures an Engine. Zero fields fall back to the system clock,
// time.Local and time.LoadLocation.
type Options struct {
	Clock          func() time.Time
	Location       *time.Location
	Zones          entry.ZoneResolver
	MaxOccurrences int
}

type Engine struct {
	opts Options
}

func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Zones == nil {
		opts.Zones = entry.ZoneFunc(time.LoadLocation)
	}
	return &Engine{opts: opts}
}

// Location is the zone occurrences are reported in.
func (e *Engine) Location() *time.Location { return e.opts.Location }

// Now reads the engine clock.
func (e *Engine) Now() time.Time { return e.opts.Clock() }

func (e *Engine) entryOptions() entry.Options {
	return entry.Options{Now: e.opts.Clock, Location: e.opts.Location, Zones: e.opts.Zones}
}

// Parse compiles one entry. See entry.Parse for the error contract.
func (e *Engine) Parse(text string) (*entry.Result, error) {
	return entry.Parse(text, e.entryOptions())
}

// Materialize expands it; w bounds open-ended schedules and may be nil for
// finite ones.
func (e *Engine) Materialize(it *model.Item, w *expand.Window) (expand.Result, error) {
	return expand.MaterializeItem(it, e.expandOptions(w))
}

// MaterializeRuleSet expands a bare rule set.
func (e *Engine) MaterializeRuleSet(rs *recur.RuleSet, extent time.Duration, w *expand.Window) (expand.Result, error) {
	return expand.Materialize(rs, extent, e.expandOptions(w))
}

func (e *Engine) expandOptions(w *expand.Window) expand.Options {
	return expand.Options{Window: w, Location: e.opts.Location, MaxOccurrences: e.opts.MaxOccurrences}
}

// Finish completes the occurrence of it starting at occurrence, or the
// earliest pending one when occurrence is zero.
func (e *Engine) Finish(it *model.Item, completedAt, occurrence time.Time) (finish.Result, error) {
	return finish.Finish(it, completedAt, finish.Options{Location: e.opts.Location, Occurrence: occurrence})
}

// FinishJob completes one job of a project.
func (e *Engine) FinishJob(it *model.Item, ref finish.JobRef, completedAt time.Time) (finish.Result, error) {
	return finish.FinishJob(it, ref, completedAt, finish.Options{Location: e.opts.Location})
}

// Parsed is the outcome of one entry in ParseAll.
type Parsed struct {
	Text   string
	Result *entry.Result
	Err    error
}

// ParseAll parses entries with at most workers goroutines and returns the
// outcomes in input order. Parse errors are reported per entry; the returned
// error is only set when ctx is cancelled.
func (e *Engine) ParseAll(ctx context.Context, entries []string, workers int) ([]Parsed, error) {
	if workers <= 0 {
		workers = 1
	}
	out := make([]Parsed, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, text := range entries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.Parse(text)
			out[i] = Parsed{Text: text, Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	failed := 0
	for _, p := range out {
		if p.Err != nil {
			failed++
		}
	}
	appLog.Debug("engine: parsed entries", "count", len(entries), "failed", failed, "workers", workers)
	return out, nil
}
