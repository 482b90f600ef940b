// Package horizon keeps the stored occurrences of every item materialized up
// to a rolling horizon.
package horizon

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"schedline/internal/engine"
	"schedline/internal/expand"
	appLog "schedline/internal/log"
	"schedline/internal/model"
	"schedline/internal/store"
)

// Repository is the part of the store the service needs.
type Repository interface {
	GetItem(ctx context.Context, id int64) (store.Record, error)
	ListItems(ctx context.Context, f store.Filter) ([]store.Record, error)
	ExpansionState(ctx context.Context, id int64) (store.Expansion, error)
	ReplaceOccurrences(ctx context.Context, id int64, occs []model.Occurrence, state store.Expansion) error
	AppendOccurrences(ctx context.Context, id int64, occs []model.Occurrence, state store.Expansion) error
}

// Config controls the service.
type Config struct {
	// Horizon is how far past today open-ended schedules are kept
	// materialized; it is also the size of each extension block.
	Horizon time.Duration
	// Backfill is how far before today the first window of an open-ended
	// schedule starts.
	Backfill time.Duration
	// Refresh is the cron spec Start schedules Refresh with.
	Refresh string
	// Sync, if set, runs at the start of every Refresh, e.g. to re-import
	// subscriptions.
	Sync func(ctx context.Context) error
}

type Service struct {
	cfg  Config
	repo Repository
	eng  *engine.Engine

	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	cmu sync.Mutex
	c   *cron.Cron
}

func New(cfg Config, repo Repository, eng *engine.Engine) *Service {
	if cfg.Horizon <= 0 {
		cfg.Horizon = 4 * 7 * 24 * time.Hour
	}
	if cfg.Backfill < 0 {
		cfg.Backfill = 0
	}
	return &Service{cfg: cfg, repo: repo, eng: eng, locks: map[int64]*sync.Mutex{}}
}

// lock serializes expansion of one item.
func (s *Service) lock(id int64) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Target is the instant open-ended schedules are materialized up to.
func (s *Service) Target() time.Time {
	return startOfDay(s.eng.Now(), s.eng.Location()).Add(s.cfg.Horizon)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// Materialize brings the stored occurrences of item id up to date. Finite
// schedules are expanded once and marked complete; open-ended ones are
// extended block by block until they reach Target.
func (s *Service) Materialize(ctx context.Context, id int64) error {
	return s.MaterializeUntil(ctx, id, time.Time{})
}

// MaterializeUntil is Materialize with open-ended schedules extended to at
// least until.
func (s *Service) MaterializeUntil(ctx context.Context, id int64, until time.Time) error {
	unlock := s.lock(id)
	defer unlock()

	rec, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if rec.FinishedAt != nil {
		return nil
	}
	state, err := s.repo.ExpansionState(ctx, id)
	if err != nil {
		return err
	}
	if state.Complete {
		return nil
	}

	parsed, err := s.eng.Parse(rec.Entry)
	if err != nil {
		return errors.Wrapf(err, "item %d", id)
	}
	it := parsed.Item
	if !it.Scheduled() {
		return s.repo.ReplaceOccurrences(ctx, id, nil, store.Expansion{Complete: true})
	}

	if it.RuleSet.Finite() {
		res, err := s.eng.Materialize(it, nil)
		if err != nil {
			return errors.Wrapf(err, "item %d", id)
		}
		appLog.Debug("horizon: expanded finite item", "id", id, "count", len(res.Occurrences), "complete", res.Complete)
		return s.repo.ReplaceOccurrences(ctx, id, res.Occurrences, store.Expansion{Complete: res.Complete})
	}

	target := s.Target()
	if until.After(target) {
		target = until
	}
	through := state.Through
	if through.IsZero() {
		through = startOfDay(s.eng.Now(), s.eng.Location()).Add(-s.cfg.Backfill)
	}
	blocks := 0
	var end time.Time
	for through.Before(target) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !end.After(through) {
			end = through.Add(s.cfg.Horizon)
		}
		next := end
		res, err := s.eng.Materialize(it, &expand.Window{From: through, To: end})
		if err != nil {
			return errors.Wrapf(err, "item %d", id)
		}
		// A capped block is only stored up to its last start; the rest of
		// it is expanded on the next pass.
		if res.Truncated {
			if !res.Resume.After(through) {
				return errors.Newf("item %d: expansion stalled at %s", id, through)
			}
			next = res.Resume
		}
		if err := s.repo.AppendOccurrences(ctx, id, res.Occurrences, store.Expansion{Through: next}); err != nil {
			return err
		}
		through = next
		blocks++
	}
	if blocks > 0 {
		appLog.Debug("horizon: extended item", "id", id, "blocks", blocks, "through", through)
	}
	return nil
}

// Refresh runs Sync, if configured, and materializes every unfinished item.
// A failing item is logged and does not stop the others.
func (s *Service) Refresh(ctx context.Context) error {
	if s.cfg.Sync != nil {
		if err := s.cfg.Sync(ctx); err != nil {
			appLog.Error("horizon: sync failed", err)
		}
	}
	return s.MaterializeAll(ctx, store.Filter{})
}

// MaterializeAll materializes every unfinished item matching f.
func (s *Service) MaterializeAll(ctx context.Context, f store.Filter) error {
	recs, err := s.repo.ListItems(ctx, f)
	if err != nil {
		return err
	}
	failed := 0
	var first error
	for _, rec := range recs {
		if err := s.Materialize(ctx, rec.ID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			appLog.Error("horizon: materialize failed", err, "id", rec.ID, "subject", rec.Subject)
			failed++
			if first == nil {
				first = err
			}
		}
	}
	appLog.Info("horizon: materialized items", "items", len(recs), "failed", failed)
	if failed > 0 {
		return errors.Wrapf(first, "refresh: %d of %d items failed", failed, len(recs))
	}
	return nil
}

// Start runs Refresh once and then on the configured cron schedule until
// ctx is done.
func (s *Service) Start(ctx context.Context) error {
	spec := s.cfg.Refresh
	if spec == "" {
		spec = "0 * * * *"
	}
	c := cron.New(cron.WithLocation(s.eng.Location()))
	if _, err := c.AddFunc(spec, func() {
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			appLog.Warn("horizon: scheduled refresh incomplete", "err", err)
		}
	}); err != nil {
		return errors.Wrapf(err, "refresh spec %q", spec)
	}

	s.cmu.Lock()
	if s.c != nil {
		s.cmu.Unlock()
		return errors.New("horizon: already started")
	}
	s.c = c
	s.cmu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		appLog.Warn("horizon: initial refresh incomplete", "err", err)
	}
	c.Start()
	appLog.Info("horizon: started", "refresh", spec, "tz", s.eng.Location().String())

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the cron schedule and waits for a running refresh to return.
func (s *Service) Stop() {
	s.cmu.Lock()
	c := s.c
	s.c = nil
	s.cmu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	appLog.Info("horizon: stopped")
}
