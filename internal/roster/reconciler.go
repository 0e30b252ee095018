// Package roster merges the independently polled pending, running and history
// snapshots into one stable task ordering.
//
// Task Order is append-only: an id is appended the first time any bucket
// reports it and is only removed by Remove. A task changing bucket never moves
// in the ordered view; only Move swaps positions. A Reconciler is not safe for
// concurrent use; callers serialize access (see internal/eventloop).
package roster

import (
	"errors"

	"flowdeck/internal/api"
)

var (
	ErrNotPending = errors.New("task is not pending")
	ErrNoNeighbor = errors.New("no pending neighbor in that direction")
)

type Reconciler struct {
	pending []api.Task
	running []api.Task
	history []api.Task

	order []string
	known map[string]struct{}

	taskRounds    uint64
	historyRounds uint64
}

func New() *Reconciler {
	return &Reconciler{known: map[string]struct{}{}}
}

// Seed restores a previously persisted Task Order. Ids already tracked and
// duplicates are skipped.
func (r *Reconciler) Seed(order []string) {
	for _, id := range order {
		if id == "" {
			continue
		}
		if _, ok := r.known[id]; ok {
			continue
		}
		r.known[id] = struct{}{}
		r.order = append(r.order, id)
	}
}

// ApplyTasks replaces the pending and running buckets and returns the ids seen
// for the first time.
func (r *Reconciler) ApplyTasks(pending, running []api.Task) []string {
	r.pending = cloneTasks(pending)
	r.running = cloneTasks(running)
	r.taskRounds++
	return r.track()
}

// ApplyHistory replaces the history bucket and returns the ids seen for the
// first time.
func (r *Reconciler) ApplyHistory(history []api.Task) []string {
	r.history = cloneTasks(history)
	r.historyRounds++
	return r.track()
}

// Deliveries counts the task and history snapshots applied so far.
func (r *Reconciler) Deliveries() (tasks, history uint64) {
	return r.taskRounds, r.historyRounds
}

// track appends unknown ids from the union of all buckets. The sibling buckets
// are whatever was last delivered.
func (r *Reconciler) track() []string {
	var firstSeen []string
	for _, bucket := range [][]api.Task{r.running, r.pending, r.history} {
		for _, t := range bucket {
			if t.ID == "" {
				continue
			}
			if _, ok := r.known[t.ID]; ok {
				continue
			}
			r.known[t.ID] = struct{}{}
			r.order = append(r.order, t.ID)
			firstSeen = append(firstSeen, t.ID)
		}
	}
	return firstSeen
}

// Lookup resolves id to its current record, preferring running over pending
// over history.
func (r *Reconciler) Lookup(id string) (api.Task, bool) {
	for _, bucket := range [][]api.Task{r.running, r.pending, r.history} {
		if i := indexOf(bucket, id); i >= 0 {
			return bucket[i], true
		}
	}
	return api.Task{}, false
}

func (r *Reconciler) Tracked(id string) bool {
	_, ok := r.known[id]
	return ok
}

// OrderedView returns Task Order restricted to ids present in some bucket.
func (r *Reconciler) OrderedView() []api.Task {
	current := r.index()
	out := make([]api.Task, 0, len(current))
	for _, id := range r.order {
		if t, ok := current[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (r *Reconciler) index() map[string]api.Task {
	current := make(map[string]api.Task, len(r.pending)+len(r.running)+len(r.history))
	for _, bucket := range [][]api.Task{r.history, r.pending, r.running} {
		for _, t := range bucket {
			current[t.ID] = t
		}
	}
	return current
}

// Move swaps a pending task with its pending neighbor (dir < 0 is up) and
// returns the pending ids in their new order for the reorder endpoint. The
// swap is applied to Task Order and to the local pending bucket right away.
func (r *Reconciler) Move(id string, dir int) ([]string, error) {
	i := indexOf(r.pending, id)
	if i < 0 {
		return nil, ErrNotPending
	}
	step := 1
	if dir < 0 {
		step = -1
	}
	j := i + step
	if dir == 0 || j < 0 || j >= len(r.pending) {
		return nil, ErrNoNeighbor
	}
	neighbor := r.pending[j].ID
	r.pending[i], r.pending[j] = r.pending[j], r.pending[i]

	oi, oj := r.position(id), r.position(neighbor)
	if oi >= 0 && oj >= 0 {
		r.order[oi], r.order[oj] = r.order[oj], r.order[oi]
	}

	ids := make([]string, len(r.pending))
	for k, t := range r.pending {
		ids[k] = t.ID
	}
	return ids, nil
}

// Remove forgets id entirely. It is the only way Task Order shrinks.
func (r *Reconciler) Remove(id string) bool {
	if _, ok := r.known[id]; !ok {
		return false
	}
	delete(r.known, id)
	if i := r.position(id); i >= 0 {
		r.order = append(r.order[:i], r.order[i+1:]...)
	}
	r.pending = without(r.pending, id)
	r.running = without(r.running, id)
	r.history = without(r.history, id)
	return true
}

func (r *Reconciler) position(id string) int {
	for i, v := range r.order {
		if v == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) Order() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Reconciler) Pending() []api.Task { return cloneTasks(r.pending) }
func (r *Reconciler) Running() []api.Task { return cloneTasks(r.running) }
func (r *Reconciler) History() []api.Task { return cloneTasks(r.history) }

func (r *Reconciler) RunningIDs() []string {
	ids := make([]string, 0, len(r.running))
	for _, t := range r.running {
		ids = append(ids, t.ID)
	}
	return ids
}

func indexOf(tasks []api.Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func without(tasks []api.Task, id string) []api.Task {
	out := tasks[:0:0]
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

func cloneTasks(tasks []api.Task) []api.Task {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]api.Task, len(tasks))
	copy(out, tasks)
	return out
}
