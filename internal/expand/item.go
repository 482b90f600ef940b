package expand

import (
	"time"

	"schedline/internal/model"
)

// MaterializeItem expands a whole item. Items without jobs expand like
// Materialize with the item's extent. Items with jobs never produce an
// occurrence of their own: for every parent occurrence each unfinished job
// gets one, moved back by the job's offset and lasting the job's extent, or
// the item's when the job has none.
func MaterializeItem(it *model.Item, opts Options) (Result, error) {
	if !it.Scheduled() {
		return Result{}, &MaterializationError{Reason: "item has no schedule"}
	}
	if len(it.Jobs) == 0 {
		return Materialize(it.RuleSet, it.Extent, opts)
	}

	opts = opts.normalize()
	times, result, err := instants(it.RuleSet, opts)
	if err != nil {
		return result, err
	}
	for _, t := range times {
		parent := makeOccurrence(t, 0, it.RuleSet.Kind, opts.Location)
		for _, j := range it.Jobs {
			if j.Finished != nil {
				continue
			}
			extent := j.Extent
			if extent <= 0 {
				extent = it.Extent
			}
			occ := model.Occurrence{
				Start: parent.Start.Add(-j.Offset),
				Job:   j.Summary,
				JobID: j.ID,
			}
			if extent > 0 {
				occ.End = occ.Start.Add(extent)
			}
			result.Occurrences = append(result.Occurrences, split(occ, opts.Location)...)
		}
	}
	return result, nil
}

// Between returns the occurrences starting in [from, to).
func Between(occs []model.Occurrence, from, to time.Time) []model.Occurrence {
	var out []model.Occurrence
	for _, o := range occs {
		if !o.Start.Before(from) && o.Start.Before(to) {
			out = append(out, o)
		}
	}
	return out
}
