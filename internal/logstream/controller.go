// Package logstream attaches the log view to one live source at a time: the
// polled main log, a task's push stream, or a one-shot fetch of a finished
// task's log.
//
// Every selection bumps a generation counter and tears down the previous
// transport before starting the next. Asynchronous completions carry the
// generation they were issued under and are dropped on arrival when it has
// moved on; nothing in flight is aborted.
package logstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"flowdeck/internal/api"
	"flowdeck/internal/eventloop"
	"flowdeck/internal/logging"
	"flowdeck/internal/protocol"
	"flowdeck/internal/pushconn"
)

const (
	DefaultPollInterval   = 3 * time.Second
	defaultRequestTimeout = 15 * time.Second
	defaultMissLimit      = 2
	defaultMaxBufferBytes = 1 << 20

	LoadingText = "Loading..."
	EmptyText   = "(log is empty)"
)

type Backend interface {
	MainLog(ctx context.Context) (api.LogContent, error)
	TaskLog(ctx context.Context, taskID string) (api.LogContent, error)
	OpenLogStream(ctx context.Context, taskID string) (pushconn.Socket, error)
}

// Roster is the task status the controller follows.
type Roster interface {
	Lookup(id string) (api.Task, bool)
	RunningIDs() []string
	Tracked(id string) bool
	// Deliveries counts applied task and history snapshots.
	Deliveries() (tasks, history uint64)
}

type Options struct {
	PollInterval   time.Duration
	RequestTimeout time.Duration
	// MissLimit is how many consecutive poll cycles a still-tracked target may
	// be absent from every bucket before falling back to the main log. A cycle
	// is counted once both the task and history snapshots were redelivered.
	MissLimit      int
	MaxBufferBytes int
	Logger         *slog.Logger
	// OnUpdate runs on the loop after every buffer change.
	OnUpdate func()
}

type Controller struct {
	backend Backend
	roster  Roster
	sched   eventloop.Scheduler
	logger  *slog.Logger
	opts    Options

	target     Target
	transport  Transport
	buffer     string
	logPath    string
	generation uint64

	sock        pushconn.Socket
	stopPoll    func()
	pollBusy    bool
	following   bool
	streamEnded bool

	prevRunning map[string]struct{}
	missing     int
	missTasks   uint64
	missHistory uint64
}

func New(backend Backend, roster Roster, sched eventloop.Scheduler, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MissLimit <= 0 {
		opts.MissLimit = defaultMissLimit
	}
	if opts.MaxBufferBytes <= 0 {
		opts.MaxBufferBytes = defaultMaxBufferBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{
		backend:     backend,
		roster:      roster,
		sched:       sched,
		logger:      logger,
		opts:        opts,
		prevRunning: map[string]struct{}{},
	}
}

func (c *Controller) Target() Target       { return c.target }
func (c *Controller) Transport() Transport { return c.transport }
func (c *Controller) Buffer() string       { return c.buffer }
func (c *Controller) LogPath() string      { return c.logPath }
func (c *Controller) Generation() uint64   { return c.generation }

// Select switches the view to t, even when t is already selected.
func (c *Controller) Select(t Target) {
	c.generation++
	c.teardown()
	c.target = t
	c.missing = 0
	c.logPath = ""

	switch t.Kind {
	case TargetMain:
		c.setBuffer(LoadingText)
		c.startPoll()
	case TargetTask:
		task, ok := c.roster.Lookup(t.TaskID)
		if ok {
			c.logPath = task.LogFile
		}
		c.setBuffer(LoadingText)
		if ok && task.Status == api.StatusRunning {
			c.openStream()
		} else {
			c.fetchSnapshot()
		}
	default:
		c.setBuffer("")
	}
	c.logger.Debug("log target selected", "target", t.String(), "transport", c.transport.String(), "generation", c.generation)
}

// Close drops the current transport and invalidates everything in flight.
func (c *Controller) Close() {
	c.generation++
	c.teardown()
}

func (c *Controller) teardown() {
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
	c.pollBusy = false
	c.following = false
	c.streamEnded = false
	c.transport = TransportNone
}

// Sync reacts to a roster change: it promotes a newly started task, falls
// back to the main log when the target is gone, and switches a task target
// between stream and snapshot when its running state flips.
func (c *Controller) Sync() {
	running := c.roster.RunningIDs()
	now := make(map[string]struct{}, len(running))
	var started []string
	for _, id := range running {
		now[id] = struct{}{}
		if _, ok := c.prevRunning[id]; !ok {
			started = append(started, id)
		}
	}
	c.prevRunning = now

	if len(started) > 0 && c.target.Kind != TargetNone && !c.pinnedTo(now) {
		c.logger.Info("log target promoted to started task", "task_id", started[0], "previous", c.target.String())
		c.Select(Task(started[0]))
		return
	}
	if c.target.Kind != TargetTask {
		return
	}

	id := c.target.TaskID
	task, ok := c.roster.Lookup(id)
	if !ok {
		if !c.roster.Tracked(id) || (c.countMiss() && c.missing >= c.opts.MissLimit) {
			c.logger.Info("log target vanished, falling back to main log", "task_id", id)
			c.Select(Main())
		}
		return
	}
	c.missing = 0
	if c.logPath == "" {
		c.logPath = task.LogFile
	}
	isRunning := task.Status == api.StatusRunning
	switch {
	case isRunning && !c.following:
		c.Select(c.target)
	case !isRunning && c.following:
		c.finishStream()
	}
}

// countMiss records a miss unless this cycle was already counted: after the
// first miss both snapshots must arrive again before the next one counts.
func (c *Controller) countMiss() bool {
	tasks, history := c.roster.Deliveries()
	if c.missing > 0 && (tasks <= c.missTasks || history <= c.missHistory) {
		return false
	}
	c.missing++
	c.missTasks, c.missHistory = tasks, history
	return true
}

func (c *Controller) pinnedTo(running map[string]struct{}) bool {
	if c.target.Kind != TargetTask {
		return false
	}
	_, ok := running[c.target.TaskID]
	return ok
}

// finishStream replaces a live stream with the task's stored log. The streamed
// text stays visible until the fetch lands.
func (c *Controller) finishStream() {
	c.generation++
	c.teardown()
	c.fetchSnapshot()
}

func (c *Controller) startPoll() {
	c.transport = TransportPoll
	gen := c.generation
	c.pollMain(gen)
	c.stopPoll = c.sched.Every(c.opts.PollInterval, func() { c.pollMain(gen) })
}

func (c *Controller) pollMain(gen uint64) {
	if gen != c.generation || c.pollBusy {
		return
	}
	c.pollBusy = true
	timeout := c.opts.RequestTimeout
	c.sched.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := c.backend.MainLog(ctx)
		return func() { c.onMainLog(gen, res, err) }
	})
}

func (c *Controller) onMainLog(gen uint64, res api.LogContent, err error) {
	if gen != c.generation {
		c.logger.Debug("stale main log response dropped", "generation", gen, "current", c.generation)
		return
	}
	c.pollBusy = false
	if err != nil {
		c.logger.Warn("main log poll failed", "err", err)
	}
	c.applyContent(res, err)
}

func (c *Controller) fetchSnapshot() {
	c.transport = TransportSnapshot
	gen := c.generation
	id := c.target.TaskID
	timeout := c.opts.RequestTimeout
	c.sched.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := c.backend.TaskLog(ctx, id)
		return func() { c.onSnapshot(gen, res, err) }
	})
}

func (c *Controller) onSnapshot(gen uint64, res api.LogContent, err error) {
	if gen != c.generation {
		c.logger.Debug("stale log snapshot dropped", "generation", gen, "current", c.generation)
		return
	}
	c.transport = TransportNone
	c.applyContent(res, err)
}

func (c *Controller) applyContent(res api.LogContent, err error) {
	switch {
	case err != nil:
		c.setBuffer(fmt.Sprintf("Failed to load log: %v", err))
	case !res.Success:
		c.setBuffer(firstNonEmpty(res.Detail, "Failed to load log"))
	default:
		if res.LogFile != "" {
			c.logPath = res.LogFile
		}
		c.setBuffer(firstNonEmpty(res.Content, EmptyText))
	}
}

func (c *Controller) openStream() {
	c.transport = TransportStream
	c.following = true
	gen := c.generation
	id := c.target.TaskID
	timeout := c.opts.RequestTimeout
	c.sched.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		sock, err := c.backend.OpenLogStream(ctx, id)
		return func() { c.onStreamOpen(gen, sock, err) }
	})
}

func (c *Controller) onStreamOpen(gen uint64, sock pushconn.Socket, err error) {
	if gen != c.generation {
		if sock != nil {
			_ = sock.Close()
		}
		c.logger.Debug("stale log stream closed on arrival", "generation", gen, "current", c.generation)
		return
	}
	if err != nil {
		c.transport = TransportNone
		c.logger.Warn("log stream failed to open", "task_id", c.target.TaskID, "err", err)
		c.setBuffer(fmt.Sprintf("Log stream unavailable: %v", err))
		return
	}
	c.sock = sock
	c.setBuffer("")
	c.readNext(gen, sock)
}

func (c *Controller) readNext(gen uint64, sock pushconn.Socket) {
	c.sched.Go(func() func() {
		text, err := sock.ReadText(context.Background())
		return func() { c.onStreamText(gen, sock, text, err) }
	})
}

func (c *Controller) onStreamText(gen uint64, sock pushconn.Socket, text string, err error) {
	if gen != c.generation || c.sock != sock {
		return
	}
	if err != nil {
		_ = sock.Close()
		c.sock = nil
		c.transport = TransportNone
		if !c.streamEnded {
			if errors.Is(err, io.EOF) {
				c.appendBuffer("\n\n[log stream closed]")
			} else {
				c.logger.Warn("log stream lost", "task_id", c.target.TaskID, "err", err)
				c.appendBuffer(fmt.Sprintf("\n\n[log stream lost: %v]", err))
			}
		}
		return
	}
	c.handleFrame(text)
	c.readNext(gen, sock)
}

func (c *Controller) handleFrame(text string) {
	frame, ok := protocol.DecodeLogFrame(text)
	if !ok {
		c.logger.Debug("unrecognized log frame ignored", "bytes", len(text))
		return
	}
	switch frame.Type {
	case protocol.FrameInit:
		if frame.LogFile != "" {
			c.logPath = frame.LogFile
		}
	case protocol.FrameLog:
		c.appendBuffer(frame.Content)
	case protocol.FrameInfo:
		c.setBuffer(frame.Message)
	case protocol.FrameEnd:
		c.streamEnded = true
		c.appendBuffer(endMarker(frame))
	case protocol.FrameError:
		c.streamEnded = true
		c.setBuffer("Log stream error: " + firstNonEmpty(frame.Message, "unknown error"))
	}
}

func endMarker(f protocol.LogFrame) string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(f.Status); s != "" {
		parts = append(parts, s)
	}
	if m := strings.TrimSpace(f.Message); m != "" {
		parts = append(parts, m)
	}
	if len(parts) == 0 {
		parts = append(parts, "stream ended")
	}
	return "\n\n--- " + strings.Join(parts, ": ") + " ---"
}

func (c *Controller) setBuffer(s string) {
	c.buffer = c.clip(s)
	c.notify()
}

func (c *Controller) appendBuffer(s string) {
	if s == "" {
		return
	}
	c.buffer = c.clip(c.buffer + s)
	c.notify()
}

// clip keeps the tail of the buffer within MaxBufferBytes.
func (c *Controller) clip(s string) string {
	if len(s) <= c.opts.MaxBufferBytes {
		return s
	}
	s = s[len(s)-c.opts.MaxBufferBytes:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return s
}

func (c *Controller) notify() {
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate()
	}
}

// TailCommand renders a shell command that follows the current log file.
func (c *Controller) TailCommand(windows bool) string {
	return TailCommand(c.logPath, windows)
}

func TailCommand(path string, windows bool) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	if windows {
		return fmt.Sprintf("Get-Content -Path %q -Wait -Tail 50", path)
	}
	return fmt.Sprintf("tail -f %q", path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
