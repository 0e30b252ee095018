package logstream

import "strings"

type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetMain
	TargetTask
)

// Target is the single log selection: the main log, one task, or nothing.
type Target struct {
	Kind   TargetKind
	TaskID string
}

func None() Target { return Target{Kind: TargetNone} }
func Main() Target { return Target{Kind: TargetMain} }

func Task(id string) Target {
	id = strings.TrimSpace(id)
	if id == "" {
		return None()
	}
	return Target{Kind: TargetTask, TaskID: id}
}

// ParseTarget maps "main" to the main log, "" or "none" to no target, and
// anything else to a task id.
func ParseTarget(v string) Target {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "none":
		return None()
	case "main":
		return Main()
	default:
		return Task(v)
	}
}

func (t Target) IsTask(id string) bool {
	return t.Kind == TargetTask && t.TaskID == id
}

func (t Target) String() string {
	switch t.Kind {
	case TargetMain:
		return "main"
	case TargetTask:
		return t.TaskID
	default:
		return "none"
	}
}

type Transport int

const (
	TransportNone Transport = iota
	TransportStream
	TransportPoll
	TransportSnapshot
)

func (t Transport) String() string {
	switch t {
	case TransportStream:
		return "stream"
	case TransportPoll:
		return "poll"
	case TransportSnapshot:
		return "snapshot"
	default:
		return "none"
	}
}
