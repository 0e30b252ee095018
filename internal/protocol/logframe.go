package protocol

import (
	"encoding/json"
	"strings"
)

type FrameType string

const (
	FrameInit  FrameType = "init"
	FrameLog   FrameType = "log"
	FrameEnd   FrameType = "end"
	FrameInfo  FrameType = "info"
	FrameError FrameType = "error"
)

// LogFrame is one inbound message on a task log stream.
type LogFrame struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content,omitempty"`
	Message string    `json:"message,omitempty"`
	Status  string    `json:"status,omitempty"`
	LogFile string    `json:"log_file,omitempty"`
}

// DecodeLogFrame reports ok=false for anything that is not a known frame.
func DecodeLogFrame(text string) (LogFrame, bool) {
	var f LogFrame
	if err := json.Unmarshal([]byte(text), &f); err != nil {
		return LogFrame{}, false
	}
	f.Type = FrameType(strings.ToLower(strings.TrimSpace(string(f.Type))))
	switch f.Type {
	case FrameInit, FrameLog, FrameEnd, FrameInfo, FrameError:
		return f, true
	default:
		return LogFrame{}, false
	}
}
