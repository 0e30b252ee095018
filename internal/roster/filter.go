package roster

import (
	"strings"

	"flowdeck/internal/api"
)

type Filter string

const (
	FilterAll       Filter = "all"
	FilterRunning   Filter = "running"
	FilterPending   Filter = "pending"
	FilterCompleted Filter = "completed"
	FilterFailed    Filter = "failed"
	FilterStopped   Filter = "stopped"
)

var Filters = []Filter{FilterAll, FilterRunning, FilterPending, FilterCompleted, FilterFailed, FilterStopped}

func ParseFilter(v string) (Filter, bool) {
	f := Filter(strings.ToLower(strings.TrimSpace(v)))
	if f == "" {
		return FilterAll, true
	}
	for _, known := range Filters {
		if f == known {
			return f, true
		}
	}
	return "", false
}

func (f Filter) matches(t api.Task) bool {
	if f == FilterAll || f == "" {
		return true
	}
	return string(t.Status) == string(f)
}

// Counts tallies bucket sizes per filter. Terminal filters count history only.
func (r *Reconciler) Counts() map[Filter]int {
	out := map[Filter]int{
		FilterAll:     len(r.running) + len(r.pending) + len(r.history),
		FilterRunning: len(r.running),
		FilterPending: len(r.pending),
	}
	for _, t := range r.history {
		switch t.Status {
		case api.StatusCompleted:
			out[FilterCompleted]++
		case api.StatusFailed:
			out[FilterFailed]++
		case api.StatusStopped:
			out[FilterStopped]++
		}
	}
	return out
}

func (r *Reconciler) Filtered(f Filter) []api.Task {
	view := r.OrderedView()
	if f == FilterAll || f == "" {
		return view
	}
	out := view[:0]
	for _, t := range view {
		if f.matches(t) {
			out = append(out, t)
		}
	}
	return out
}
