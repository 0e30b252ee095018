package dashboard

import (
	"context"
	"log/slog"
	"strings"
)

// Notice is a user-facing outcome report: a failed poll, a rejected write,
// or a confirmation.
type Notice struct {
	Level   slog.Level
	Message string
	Err     error
}

func (n Notice) String() string {
	if n.Err == nil {
		return n.Message
	}
	if strings.TrimSpace(n.Message) == "" {
		return n.Err.Error()
	}
	return n.Message + ": " + n.Err.Error()
}

// report logs n and offers it to the notice channel without blocking.
func (s *Session) report(level slog.Level, msg string, err error) {
	attrs := []any{"queue_id", s.queueID}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	s.logger.Log(context.Background(), level, msg, attrs...)
	select {
	case s.notices <- Notice{Level: level, Message: msg, Err: err}:
	default:
		s.logger.Debug("notice dropped, channel full", "message", msg)
	}
}
