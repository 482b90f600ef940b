// Package jobs resolves the prerequisite graph between the jobs of a
// project into available, waiting and finished partitions.
package jobs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"schedline/internal/model"
)

// Status is the partition a job falls into.
type Status uint8

const (
	Available Status = iota + 1
	Waiting
	Finished
)

func (s Status) String() string {
	switch s {
	case Available:
		return "available"
	case Waiting:
		return "waiting"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Graph is the derived view of a job list. It is recomputed in full from the
// jobs every time and never stored.
type Graph struct {
	Available []int
	Waiting   []int
	Finished  []int

	// Closure maps each identified job to its unfinished transitive
	// prerequisites, sorted.
	Closure map[int][]int

	// Blocking is a display hint attached to available jobs: the ratio of
	// waiting to available job counts.
	Blocking map[int]float64

	// Untracked holds the list indexes of jobs without an identifier. They
	// take no part in the graph and are available until finished.
	Untracked []int
}

// Resolve computes the graph for jobs.
func Resolve(list []model.Job) Graph {
	g := Graph{
		Closure:  map[int][]int{},
		Blocking: map[int]float64{},
	}

	byID := make(map[int]model.Job, len(list))
	finished := map[int]bool{}
	var ids []int
	for i, j := range list {
		if j.ID == 0 {
			g.Untracked = append(g.Untracked, i)
			continue
		}
		if _, dup := byID[j.ID]; dup {
			continue
		}
		byID[j.ID] = j
		ids = append(ids, j.ID)
		if j.Finished != nil {
			finished[j.ID] = true
		}
	}
	sort.Ints(ids)

	for _, id := range ids {
		if finished[id] {
			g.Finished = append(g.Finished, id)
			continue
		}
		closure := closureOf(id, byID, finished)
		g.Closure[id] = closure
		if len(closure) > 0 {
			g.Waiting = append(g.Waiting, id)
		} else {
			g.Available = append(g.Available, id)
		}
	}

	if n := len(g.Available); n > 0 {
		w := float64(len(g.Waiting)) / float64(n)
		for _, id := range g.Available {
			g.Blocking[id] = w
		}
	}
	return g
}

// closureOf expands prerequisites breadth first, skipping finished ones at
// every step.
func closureOf(id int, byID map[int]model.Job, finished map[int]bool) []int {
	seen := map[int]bool{id: true}
	var out []int
	queue := append([]int(nil), byID[id].Requires...)
	for len(queue) > 0 {
		dep := queue[0]
		queue = queue[1:]
		if seen[dep] || finished[dep] {
			continue
		}
		seen[dep] = true
		out = append(out, dep)
		queue = append(queue, byID[dep].Requires...)
	}
	sort.Ints(out)
	return out
}

// Status reports the partition of the job with the given identifier.
func (g Graph) Status(id int) Status {
	for _, v := range g.Finished {
		if v == id {
			return Finished
		}
	}
	if len(g.Closure[id]) > 0 {
		return Waiting
	}
	if _, ok := g.Closure[id]; ok {
		return Available
	}
	return 0
}

// Done reports whether every job, tracked or not, is finished.
func Done(list []model.Job) bool {
	if len(list) == 0 {
		return false
	}
	for _, j := range list {
		if j.Finished == nil {
			return false
		}
	}
	return true
}

// Validate rejects duplicate identifiers, prerequisites that name no job and
// dependency cycles.
func Validate(list []model.Job) error {
	known := map[int]bool{}
	for _, j := range list {
		if j.ID == 0 {
			continue
		}
		if known[j.ID] {
			return fmt.Errorf("duplicate job id %d", j.ID)
		}
		known[j.ID] = true
	}
	deps := map[int][]int{}
	for _, j := range list {
		if j.ID == 0 {
			if len(j.Requires) > 0 {
				return fmt.Errorf("job %q has prerequisites but no id", j.Summary)
			}
			continue
		}
		for _, d := range j.Requires {
			if d == j.ID {
				return fmt.Errorf("job %d requires itself", j.ID)
			}
			if !known[d] {
				return fmt.Errorf("job %d requires unknown job %d", j.ID, d)
			}
		}
		deps[j.ID] = j.Requires
	}
	if cyc := findCycle(deps); cyc != nil {
		parts := make([]string, len(cyc))
		for i, id := range cyc {
			parts[i] = strconv.Itoa(id)
		}
		return fmt.Errorf("job dependency cycle: %s", strings.Join(parts, " -> "))
	}
	return nil
}

func findCycle(deps map[int][]int) []int {
	const (
		white = iota
		grey
		black
	)
	color := map[int]int{}
	var stack []int
	var visit func(int) []int
	visit = func(n int) []int {
		color[n] = grey
		stack = append(stack, n)
		for _, d := range deps[n] {
			switch color[d] {
			case grey:
				for i, v := range stack {
					if v == d {
						return append(append([]int(nil), stack[i:]...), d)
					}
				}
			case white:
				if c := visit(d); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}
	ids := make([]int, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if color[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// ParseRef reads a job reference of the form "<id>[: dep,dep,...]".
func ParseRef(s string) (int, []int, error) {
	head, tail, hasDeps := strings.Cut(s, ":")
	id, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil || id <= 0 {
		return 0, nil, fmt.Errorf("invalid job id %q: expected a positive integer", strings.TrimSpace(head))
	}
	if !hasDeps {
		return id, nil, nil
	}
	var deps []int
	for _, part := range strings.Split(tail, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d <= 0 {
			return 0, nil, fmt.Errorf("invalid prerequisite id %q for job %d", part, id)
		}
		deps = append(deps, d)
	}
	return id, deps, nil
}

// FormatRef is the inverse of ParseRef.
func FormatRef(id int, deps []int) string {
	if len(deps) == 0 {
		return strconv.Itoa(id)
	}
	parts := make([]string, len(deps))
	for i, d := range deps {
		parts[i] = strconv.Itoa(d)
	}
	return strconv.Itoa(id) + ": " + strings.Join(parts, ",")
}
