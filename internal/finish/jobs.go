package finish

import (
	"errors"
	"fmt"
	"time"

	"schedline/internal/jobs"
	appLog "schedline/internal/log"
	"schedline/internal/model"
)

// JobRef selects a job of a project: by ID when it is non-zero, otherwise by
// summary, which is how jobs without an identifier are addressed.
type JobRef struct {
	ID      int
	Summary string
}

func (r JobRef) match(j model.Job) bool {
	if r.ID != 0 {
		return j.ID == r.ID
	}
	return j.ID == 0 && j.Summary == r.Summary
}

func (r JobRef) String() string {
	if r.ID != 0 {
		return fmt.Sprintf("job %d", r.ID)
	}
	return fmt.Sprintf("job %q", r.Summary)
}

// FinishJob marks one job of it done at completedAt and recomputes the job
// partition. Finishing the last open job completes the project itself as
// Finish would, which reopens every job when the project recurs.
func FinishJob(it *model.Item, ref JobRef, completedAt time.Time, opts Options) (Result, error) {
	if it == nil {
		return Result{}, errors.New("finish: nil item")
	}
	if len(it.Jobs) == 0 {
		return Result{}, ErrNoJobs
	}
	if it.Finished != nil {
		return Result{}, ErrAlreadyFinished
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	out := it.Clone()
	idx := -1
	for i, j := range out.Jobs {
		if ref.match(j) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Result{}, fmt.Errorf("finish %s: %w", ref, ErrJobNotFound)
	}
	if out.Jobs[idx].Finished != nil {
		return Result{}, fmt.Errorf("finish %s: %w", ref, ErrJobFinished)
	}
	t := completedAt.UTC()
	out.Jobs[idx].Finished = &t

	if !jobs.Done(out.Jobs) {
		g := jobs.Resolve(out.Jobs)
		appLog.Debug("finish: job completed", "subject", it.Subject, "job", ref.String(), "available", len(g.Available), "waiting", len(g.Waiting))
		return Result{
			Item:    out,
			RuleSet: out.RuleSet,
			State:   StateOf(out),
			Graph:   &g,
		}, nil
	}

	res, err := advance(out, completedAt, opts)
	if err != nil {
		return Result{}, err
	}
	g := jobs.Resolve(res.Item.Jobs)
	res.Graph = &g
	appLog.Debug("finish: last job completed", "subject", it.Subject, "job", ref.String(), "state", res.State.String())
	return res, nil
}
