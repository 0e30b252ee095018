package api

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusStopped   TaskStatus = "stopped"
)

// Terminal reports whether the status belongs to the history bucket.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

func ParseTaskStatus(v string) (TaskStatus, bool) {
	s := TaskStatus(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusStopped:
		return s, true
	default:
		return "", false
	}
}

type Task struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Command         string     `json:"command"`
	Status          TaskStatus `json:"status"`
	GPU             string     `json:"gpu,omitempty"`
	StartTime       string     `json:"start_time,omitempty"`
	EndTime         string     `json:"end_time,omitempty"`
	Duration        *float64   `json:"duration,omitempty"`
	LogFile         string     `json:"log_file,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Note            string     `json:"note,omitempty"`
	CanRun          *bool      `json:"can_run,omitempty"`
	ConflictMessage string     `json:"conflict_message,omitempty"`
}

// Elapsed returns the reported duration; negative or missing values are zero.
func (t Task) Elapsed() time.Duration {
	if t.Duration == nil || *t.Duration <= 0 {
		return 0
	}
	return time.Duration(*t.Duration * float64(time.Second))
}

type TaskInput struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Note    string `json:"note,omitempty"`
}

type TasksResponse struct {
	Pending []Task `json:"pending"`
	Running []Task `json:"running"`
}

type HistoryResponse struct {
	History []Task `json:"history"`
}

type QueueStatus struct {
	Running      bool   `json:"running"`
	PendingCount int    `json:"pending_count"`
	RunningCount int    `json:"running_count"`
	CurrentTask  string `json:"current_task,omitempty"`
	MainLogFile  string `json:"main_log_file,omitempty"`
}

type QueueRuntime struct {
	QueueRunning bool `json:"queue_running"`
	PendingCount int  `json:"pending_count"`
	RunningCount int  `json:"running_count"`
}

type QueueInfo struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	YAMLPath  string        `json:"yaml_path"`
	CreatedAt string        `json:"created_at,omitempty"`
	Status    *QueueRuntime `json:"status,omitempty"`
}

type QueueList struct {
	Queues         []QueueInfo `json:"queues"`
	CurrentQueueID string      `json:"current_queue_id,omitempty"`
}

// LogContent is the body of /api/main-log and /api/logs/{id}.
type LogContent struct {
	Success    bool   `json:"success"`
	Content    string `json:"content"`
	LogFile    string `json:"log_file,omitempty"`
	Detail     string `json:"detail,omitempty"`
	TotalLines int    `json:"total_lines,omitempty"`
}

type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type AuthStatus struct {
	Authenticated bool `json:"authenticated"`
	AuthEnabled   bool `json:"auth_enabled"`
}

type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
