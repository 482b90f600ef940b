// Package planner ties the item store, the engine and the horizon service
// together into the operations the CLI and the HTTP API expose.
package planner

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"schedline/internal/engine"
	"schedline/internal/entry"
	"schedline/internal/finish"
	"schedline/internal/horizon"
	appLog "schedline/internal/log"
	"schedline/internal/model"
	"schedline/internal/store"
)

// ErrReadOnly is returned for changes to items owned by a subscription.
var ErrReadOnly = errors.New("item belongs to a subscription")

type Service struct {
	store *store.Store
	eng   *engine.Engine
	hz    *horizon.Service
}

func New(st *store.Store, eng *engine.Engine, hz *horizon.Service) *Service {
	return &Service{store: st, eng: eng, hz: hz}
}

// Item is a stored record together with its parsed form.
type Item struct {
	store.Record
	Item *model.Item
}

// Add parses text, stores its canonical form and materializes it.
func (s *Service) Add(ctx context.Context, text string) (Item, error) {
	res, err := s.eng.Parse(text)
	if err != nil {
		return Item{}, err
	}
	it := res.Item
	id, err := s.store.AddItem(ctx, store.Record{
		Entry:      entry.Format(it),
		Type:       it.Type.String(),
		Subject:    it.Subject,
		FinishedAt: it.Finished,
	})
	if err != nil {
		return Item{}, err
	}
	if err := s.hz.Materialize(ctx, id); err != nil {
		return Item{}, errors.Wrapf(err, "materialize item %d", id)
	}
	rec, err := s.store.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	appLog.Info("planner: item added", "id", id, "type", rec.Type, "subject", rec.Subject)
	return Item{Record: rec, Item: it}, nil
}

// Get returns item id.
func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	rec, err := s.store.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	res, err := s.eng.Parse(rec.Entry)
	if err != nil {
		return Item{}, errors.Wrapf(err, "item %d", id)
	}
	return Item{Record: rec, Item: res.Item}, nil
}

// List returns the stored items matching f. Entries that no longer parse
// are logged and left out.
func (s *Service) List(ctx context.Context, f store.Filter) ([]Item, error) {
	recs, err := s.store.ListItems(ctx, f)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(recs))
	for i, rec := range recs {
		texts[i] = rec.Entry
	}
	parsed, err := s.eng.ParseAll(ctx, texts, 4)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(recs))
	for i, p := range parsed {
		if p.Err != nil {
			appLog.Warn("planner: skipping unparsable item", "id", recs[i].ID, "err", p.Err)
			continue
		}
		out = append(out, Item{Record: recs[i], Item: p.Result.Item})
	}
	return out, nil
}

// Delete removes a hand-added item.
func (s *Service) Delete(ctx context.Context, id int64) error {
	rec, err := s.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if rec.Source != "" {
		return errors.Wrapf(ErrReadOnly, "item %d", id)
	}
	return s.store.DeleteItem(ctx, id)
}

// FinishRequest describes a completion.
type FinishRequest struct {
	// At is the completion time; zero means now.
	At time.Time
	// Occurrence selects the occurrence being completed; zero means the
	// earliest pending one.
	Occurrence time.Time
	// Job, when set, finishes one job of a project instead of the item.
	Job *finish.JobRef
}

// Finish completes item id, stores the updated entry, logs the completion
// and rematerializes what is left of the schedule.
func (s *Service) Finish(ctx context.Context, id int64, req FinishRequest) (finish.Result, error) {
	rec, err := s.store.GetItem(ctx, id)
	if err != nil {
		return finish.Result{}, err
	}
	if rec.Source != "" {
		return finish.Result{}, errors.Wrapf(ErrReadOnly, "item %d", id)
	}
	if rec.FinishedAt != nil {
		return finish.Result{}, errors.Wrapf(finish.ErrAlreadyFinished, "item %d", id)
	}
	parsed, err := s.eng.Parse(rec.Entry)
	if err != nil {
		return finish.Result{}, errors.Wrapf(err, "item %d", id)
	}
	it := parsed.Item

	at := req.At
	if at.IsZero() {
		at = s.eng.Now()
	}
	var res finish.Result
	if req.Job != nil {
		res, err = s.eng.FinishJob(it, *req.Job, at)
	} else {
		res, err = s.eng.Finish(it, at, req.Occurrence)
	}
	if err != nil {
		return finish.Result{}, err
	}

	updated := res.Item
	rec.Entry = entry.Format(updated)
	rec.Type = updated.Type.String()
	rec.Subject = updated.Subject
	if res.Finished {
		done := at
		if updated.Finished != nil {
			done = *updated.Finished
		}
		rec.FinishedAt = &done
	}
	c := store.Completion{ItemID: id, Occurrence: res.Occurrence, CompletedAt: at}
	if req.Job != nil {
		c.Job = jobSummary(it, *req.Job)
	}
	if err := s.store.CompleteItem(ctx, rec, c); err != nil {
		return finish.Result{}, err
	}

	if !res.Finished {
		if err := s.hz.Materialize(ctx, id); err != nil {
			return finish.Result{}, errors.Wrapf(err, "materialize item %d", id)
		}
	}
	appLog.Info("planner: item finished", "id", id, "state", res.State.String(), "finished", res.Finished, "job", c.Job)
	return res, nil
}

func jobSummary(it *model.Item, ref finish.JobRef) string {
	if ref.ID == 0 {
		return ref.Summary
	}
	for _, j := range it.Jobs {
		if j.ID == ref.ID {
			return j.Summary
		}
	}
	return ref.Summary
}

// Window is the agenda range of days days starting backfill days before
// the start of today.
func (s *Service) Window(days, backfill int) (from, to time.Time) {
	now := s.eng.Now().In(s.eng.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return today.AddDate(0, 0, -backfill), today.AddDate(0, 0, days)
}

// Agenda returns the occurrences starting in [from, to), extending open
// ended schedules far enough first. Items that fail to materialize are
// logged and keep whatever was stored before.
func (s *Service) Agenda(ctx context.Context, from, to time.Time) ([]store.Occurrence, error) {
	recs, err := s.store.ListItems(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if err := s.hz.MaterializeUntil(ctx, rec.ID, to); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			appLog.Warn("planner: materialize failed", "id", rec.ID, "err", err)
		}
	}
	return s.store.Occurrences(ctx, from, to)
}

// Completions returns the completion log of item id.
func (s *Service) Completions(ctx context.Context, id int64) ([]store.Completion, error) {
	return s.store.Completions(ctx, id)
}
