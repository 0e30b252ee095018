package command

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"flowdeck/internal/api"
	"flowdeck/internal/dashboard"
	"flowdeck/internal/roster"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func renderTasks(w io.Writer, tasks []api.Task, limit int) error {
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(w, "no tasks")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "#\tID\tNAME\tSTATUS\tGPU\tELAPSED\tNOTE")
	for i, t := range tasks {
		if limit > 0 && i >= limit {
			fmt.Fprintf(tw, "…\t%d more\t\t\t\t\t\n", len(tasks)-limit)
			break
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, t.ID, clip(t.Name, 40), statusLabel(t), dash(t.GPU), formatElapsed(t.Elapsed()), clip(taskNote(t), 48))
	}
	return tw.Flush()
}

func statusLabel(t api.Task) string {
	if t.Status == api.StatusPending && t.CanRun != nil && !*t.CanRun {
		return string(t.Status) + " (blocked)"
	}
	return string(t.Status)
}

func taskNote(t api.Task) string {
	switch {
	case t.ErrorMessage != "":
		return t.ErrorMessage
	case t.ConflictMessage != "":
		return t.ConflictMessage
	default:
		return t.Note
	}
}

func renderCounts(w io.Writer, counts map[roster.Filter]int) error {
	parts := make([]string, 0, len(roster.Filters))
	for _, f := range roster.Filters {
		parts = append(parts, fmt.Sprintf("%s %d", f, counts[f]))
	}
	_, err := fmt.Fprintln(w, strings.Join(parts, " · "))
	return err
}

func renderQueueStatus(w io.Writer, queueID string, st api.QueueStatus) error {
	state := "stopped"
	if st.Running {
		state = "running"
	}
	line := fmt.Sprintf("queue %s: %s, %d running, %d pending", queueID, state, st.RunningCount, st.PendingCount)
	if st.CurrentTask != "" {
		line += ", current " + st.CurrentTask
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func renderQueues(w io.Writer, list api.QueueList) error {
	if len(list.Queues) == 0 {
		_, err := fmt.Fprintln(w, "no queues")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "\tID\tNAME\tYAML\tSTATE\tRUNNING\tPENDING")
	for _, q := range list.Queues {
		mark := ""
		if q.ID == list.CurrentQueueID {
			mark = "*"
		}
		state, running, pending := "-", 0, 0
		if q.Status != nil {
			state = "stopped"
			if q.Status.QueueRunning {
				state = "running"
			}
			running, pending = q.Status.RunningCount, q.Status.PendingCount
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n", mark, q.ID, q.Name, q.YAMLPath, state, running, pending)
	}
	return tw.Flush()
}

func renderNotices(w io.Writer, notices []dashboard.Notice) {
	for _, n := range notices {
		fmt.Fprintf(w, "[%s] %s\n", strings.ToLower(n.Level.String()), n.String())
	}
}

// tailLines keeps the last n lines of s.
func tailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if n <= 0 || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func formatElapsed(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
