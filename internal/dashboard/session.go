// Package dashboard binds the roster, the log controller and the backend on a
// single event loop.
//
// Every roster and log mutation runs on the loop. Network calls run off it:
// polls through the scheduler, user actions in the caller's goroutine between
// two loop turns. Writes are optimistic; the next poll is authoritative.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"flowdeck/internal/api"
	"flowdeck/internal/eventloop"
	"flowdeck/internal/logging"
	"flowdeck/internal/logstream"
	"flowdeck/internal/roster"
)

const (
	DefaultPollInterval   = 5 * time.Second
	defaultRequestTimeout = 15 * time.Second
	defaultNoticeBuffer   = 64
)

type Backend interface {
	logstream.Backend
	ListTasks(ctx context.Context) (api.TasksResponse, error)
	ListHistory(ctx context.Context) ([]api.Task, error)
	QueueStatus(ctx context.Context) (api.QueueStatus, error)
	RunTask(ctx context.Context, id string) error
	StopTask(ctx context.Context, id string) error
	RetryTask(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error
	ReorderTasks(ctx context.Context, order []string) error
	StartQueue(ctx context.Context) (string, error)
	StopQueue(ctx context.Context) (string, error)
	SelectQueue(ctx context.Context, id string) error
}

// OrderStore persists Task Order per queue.
type OrderStore interface {
	LoadOrder(queueID string) ([]string, error)
	SaveOrder(queueID string, ids []string) error
}

type Options struct {
	QueueID         string
	PollInterval    time.Duration
	LogPollInterval time.Duration
	RequestTimeout  time.Duration
	NoticeBuffer    int
	// LogTarget is selected once the first tasks and history snapshots are in.
	// Zero value means the main log.
	LogTarget   *logstream.Target
	Logger      *slog.Logger
	OnLogUpdate func(buffer string)
}

type Session struct {
	backend Backend
	store   OrderStore
	run     eventloop.Runner
	logger  *slog.Logger
	opts    Options

	roster *roster.Reconciler
	logs   *logstream.Controller

	queueID   string
	epoch     uint64
	savedIDs  []string
	status    api.QueueStatus
	haveTasks bool
	haveHist  bool
	target    *logstream.Target

	tasksBusy  bool
	histBusy   bool
	statusBusy bool
	failing    map[string]bool

	stopPolls func()
	notices   chan Notice
}

func New(backend Backend, store OrderStore, run eventloop.Runner, opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.NoticeBuffer <= 0 {
		opts.NoticeBuffer = defaultNoticeBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Session{
		backend: backend,
		store:   store,
		run:     run,
		logger:  logger,
		opts:    opts,
		queueID: opts.QueueID,
		failing: map[string]bool{},
		notices: make(chan Notice, opts.NoticeBuffer),
	}
	target := logstream.Main()
	if opts.LogTarget != nil {
		target = *opts.LogTarget
	}
	s.target = &target
	s.roster = s.newRoster()
	s.logs = logstream.New(backend, rosterRef{s}, run, logstream.Options{
		PollInterval:   opts.LogPollInterval,
		RequestTimeout: opts.RequestTimeout,
		Logger:         logger.With("component", "logstream"),
		OnUpdate:       s.logUpdated,
	})
	return s
}

// rosterRef lets the log controller follow the session's current roster
// across queue switches.
type rosterRef struct{ s *Session }

func (r rosterRef) Lookup(id string) (api.Task, bool) { return r.s.roster.Lookup(id) }
func (r rosterRef) RunningIDs() []string              { return r.s.roster.RunningIDs() }
func (r rosterRef) Tracked(id string) bool            { return r.s.roster.Tracked(id) }
func (r rosterRef) Deliveries() (uint64, uint64)      { return r.s.roster.Deliveries() }

func (s *Session) newRoster() *roster.Reconciler {
	r := roster.New()
	s.savedIDs = nil
	if s.store == nil {
		return r
	}
	ids, err := s.store.LoadOrder(s.queueID)
	if err != nil {
		s.logger.Warn("load persisted task order failed", "queue_id", s.queueID, "err", err)
		return r
	}
	r.Seed(ids)
	s.savedIDs = r.Order()
	return r
}

func (s *Session) logUpdated() {
	if s.opts.OnLogUpdate != nil {
		s.opts.OnLogUpdate(s.logs.Buffer())
	}
}

func (s *Session) Notices() <-chan Notice {
	return s.notices
}

// Start issues the first polls and schedules the periodic ones.
func (s *Session) Start(ctx context.Context) error {
	return s.run.Do(ctx, func() {
		if s.stopPolls != nil {
			return
		}
		s.applyTarget()
		s.refresh()
		s.stopPolls = s.run.Every(s.opts.PollInterval, s.refresh)
	})
}

// Close stops polling and the log transport.
func (s *Session) Close(ctx context.Context) error {
	return s.run.Do(ctx, func() {
		if s.stopPolls != nil {
			s.stopPolls()
			s.stopPolls = nil
		}
		s.logs.Close()
	})
}

// Refresh fetches both snapshots and the queue status in the calling goroutine
// and applies them in one loop turn.
func (s *Session) Refresh(ctx context.Context) error {
	var epoch uint64
	if err := s.run.Do(ctx, func() { epoch = s.epoch }); err != nil {
		return err
	}
	tasks, terr := s.backend.ListTasks(ctx)
	hist, herr := s.backend.ListHistory(ctx)
	status, serr := s.backend.QueueStatus(ctx)
	if err := s.run.Do(ctx, func() {
		if epoch != s.epoch {
			return
		}
		if terr == nil {
			s.roster.ApplyTasks(tasks.Pending, tasks.Running)
			s.haveTasks = true
		}
		if herr == nil {
			s.roster.ApplyHistory(hist)
			s.haveHist = true
		}
		if serr == nil {
			s.status = status
		}
		s.afterRoster()
	}); err != nil {
		return err
	}
	return errors.Join(wrap("list tasks", terr), wrap("list history", herr), wrap("queue status", serr))
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *Session) refresh() {
	s.pollTasks()
	s.pollHistory()
	s.pollStatus()
}

func (s *Session) pollTasks() {
	if s.tasksBusy {
		return
	}
	s.tasksBusy = true
	epoch, timeout := s.epoch, s.opts.RequestTimeout
	s.run.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := s.backend.ListTasks(ctx)
		return func() {
			if epoch != s.epoch {
				return
			}
			s.tasksBusy = false
			if !s.fetched("tasks", err) {
				return
			}
			s.roster.ApplyTasks(res.Pending, res.Running)
			s.haveTasks = true
			s.afterRoster()
		}
	})
}

func (s *Session) pollHistory() {
	if s.histBusy {
		return
	}
	s.histBusy = true
	epoch, timeout := s.epoch, s.opts.RequestTimeout
	s.run.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := s.backend.ListHistory(ctx)
		return func() {
			if epoch != s.epoch {
				return
			}
			s.histBusy = false
			if !s.fetched("history", err) {
				return
			}
			s.roster.ApplyHistory(res)
			s.haveHist = true
			s.afterRoster()
		}
	})
}

func (s *Session) pollStatus() {
	if s.statusBusy {
		return
	}
	s.statusBusy = true
	epoch, timeout := s.epoch, s.opts.RequestTimeout
	s.run.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := s.backend.QueueStatus(ctx)
		return func() {
			if epoch != s.epoch {
				return
			}
			s.statusBusy = false
			if s.fetched("queue status", err) {
				s.status = res
			}
		}
	})
}

// fetched reports a poll failure once per outage and keeps last-known-good
// state. It returns whether the result should be applied.
func (s *Session) fetched(resource string, err error) bool {
	if err != nil {
		if !s.failing[resource] {
			s.failing[resource] = true
			s.report(slog.LevelError, "fetch "+resource+" failed", err)
		} else {
			s.logger.Debug("fetch still failing", "resource", resource, "err", err)
		}
		return false
	}
	if s.failing[resource] {
		delete(s.failing, resource)
		s.report(slog.LevelInfo, "fetch "+resource+" recovered", nil)
	}
	return true
}

func (s *Session) afterRoster() {
	s.saveOrder()
	if !s.haveTasks || !s.haveHist {
		return
	}
	s.applyTarget()
	s.logs.Sync()
}

// applyTarget selects the requested log target. Task targets wait until the
// roster knows whether the task is running.
func (s *Session) applyTarget() {
	if s.target == nil {
		return
	}
	if s.target.Kind == logstream.TargetTask && (!s.haveTasks || !s.haveHist) {
		return
	}
	t := *s.target
	s.target = nil
	s.logs.Select(t)
}

func (s *Session) saveOrder() {
	if s.store == nil {
		return
	}
	ids := s.roster.Order()
	if slices.Equal(ids, s.savedIDs) {
		return
	}
	if err := s.store.SaveOrder(s.queueID, ids); err != nil {
		s.logger.Warn("persist task order failed", "queue_id", s.queueID, "err", err)
		return
	}
	s.savedIDs = ids
}

func (s *Session) OrderedView(ctx context.Context) ([]api.Task, error) {
	var out []api.Task
	err := s.run.Do(ctx, func() { out = s.roster.OrderedView() })
	return out, err
}

func (s *Session) Filtered(ctx context.Context, f roster.Filter) ([]api.Task, error) {
	var out []api.Task
	err := s.run.Do(ctx, func() { out = s.roster.Filtered(f) })
	return out, err
}

func (s *Session) Counts(ctx context.Context) (map[roster.Filter]int, error) {
	var out map[roster.Filter]int
	err := s.run.Do(ctx, func() { out = s.roster.Counts() })
	return out, err
}

func (s *Session) QueueStatus(ctx context.Context) (api.QueueStatus, error) {
	var out api.QueueStatus
	err := s.run.Do(ctx, func() { out = s.status })
	return out, err
}

func (s *Session) LogBuffer(ctx context.Context) (string, error) {
	var out string
	err := s.run.Do(ctx, func() { out = s.logs.Buffer() })
	return out, err
}

func (s *Session) LogTarget(ctx context.Context) (logstream.Target, error) {
	var out logstream.Target
	err := s.run.Do(ctx, func() {
		if s.target != nil {
			out = *s.target
			return
		}
		out = s.logs.Target()
	})
	return out, err
}

func (s *Session) TailCommand(ctx context.Context, windows bool) (string, error) {
	var out string
	err := s.run.Do(ctx, func() { out = s.logs.TailCommand(windows) })
	return out, err
}

func (s *Session) SelectLogTarget(ctx context.Context, t logstream.Target) error {
	return s.run.Do(ctx, func() {
		s.target = &t
		s.applyTarget()
	})
}

// MoveTask swaps a pending task with its neighbor locally, then sends the new
// pending order. A rejected request is reported and left for the next poll to
// correct.
func (s *Session) MoveTask(ctx context.Context, id string, dir int) error {
	var order []string
	var moveErr error
	if err := s.run.Do(ctx, func() {
		order, moveErr = s.roster.Move(id, dir)
		if moveErr == nil {
			s.saveOrder()
		}
	}); err != nil {
		return err
	}
	if moveErr != nil {
		return moveErr
	}
	return s.finish(ctx, "reorder tasks", s.backend.ReorderTasks(ctx, order))
}

// DeleteTask forgets id at once and then asks the backend to delete it. The id
// stays gone locally even when the request fails.
func (s *Session) DeleteTask(ctx context.Context, id string) error {
	if err := s.run.Do(ctx, func() {
		s.roster.Remove(id)
		s.saveOrder()
		s.logs.Sync()
	}); err != nil {
		return err
	}
	return s.finish(ctx, "delete task "+id, s.backend.DeleteTask(ctx, id))
}

func (s *Session) RunTask(ctx context.Context, id string) error {
	return s.finish(ctx, "run task "+id, s.backend.RunTask(ctx, id))
}

func (s *Session) StopTask(ctx context.Context, id string) error {
	return s.finish(ctx, "stop task "+id, s.backend.StopTask(ctx, id))
}

func (s *Session) RetryTask(ctx context.Context, id string) error {
	return s.finish(ctx, "retry task "+id, s.backend.RetryTask(ctx, id))
}

func (s *Session) StartQueue(ctx context.Context) (string, error) {
	msg, err := s.backend.StartQueue(ctx)
	return msg, s.finish(ctx, "start queue", err)
}

func (s *Session) StopQueue(ctx context.Context) (string, error) {
	msg, err := s.backend.StopQueue(ctx)
	return msg, s.finish(ctx, "stop queue", err)
}

// finish reports the outcome of a write and refreshes right away on success.
func (s *Session) finish(ctx context.Context, action string, err error) error {
	doErr := s.run.Do(ctx, func() {
		if err != nil {
			s.report(slog.LevelError, action+" failed", err)
			return
		}
		s.report(slog.LevelInfo, action, nil)
		s.refresh()
	})
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	return doErr
}

// SelectQueue switches the backend to another queue. Responses still in flight
// for the previous queue are dropped, the roster is reseeded from that queue's
// persisted order and the log view returns to the main log.
func (s *Session) SelectQueue(ctx context.Context, id string) error {
	if err := s.backend.SelectQueue(ctx, id); err != nil {
		return s.finish(ctx, "select queue "+id, err)
	}
	return s.run.Do(ctx, func() {
		s.epoch++
		s.queueID = id
		s.tasksBusy, s.histBusy, s.statusBusy = false, false, false
		s.haveTasks, s.haveHist = false, false
		s.status = api.QueueStatus{}
		s.failing = map[string]bool{}
		s.roster = s.newRoster()
		t := logstream.Main()
		s.target = &t
		s.applyTarget()
		s.report(slog.LevelInfo, "switched to queue "+id, nil)
		if s.stopPolls != nil {
			s.refresh()
		}
	})
}

func (s *Session) QueueID(ctx context.Context) (string, error) {
	var out string
	err := s.run.Do(ctx, func() { out = s.queueID })
	return out, err
}
