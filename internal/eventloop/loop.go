// Package eventloop runs every state mutation of a session on one goroutine.
//
// Handlers posted to a Loop execute one at a time in arrival order, so code
// between two network waits never interleaves with another handler. Blocking
// work is started with Go and re-enters the loop through the completion it
// returns.
package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"flowdeck/internal/logging"
)

var ErrStopped = errors.New("event loop stopped")

// Scheduler is the part of a loop that state machines depend on.
type Scheduler interface {
	// Go runs work off the loop and posts the completion it returns back onto it.
	Go(work func() func())
	// Every posts fn on the loop each period until stop is called.
	Every(period time.Duration, fn func()) (stop func())
}

// Runner is a Scheduler that callers outside the loop can also run code on.
type Runner interface {
	Scheduler
	Do(ctx context.Context, fn func()) error
}

type Loop struct {
	logger *slog.Logger
	inbox  chan func()

	stopOnce sync.Once
	stopped  chan struct{}
	running  atomic.Bool
}

func New(logger *slog.Logger, capacity int) *Loop {
	if logger == nil {
		logger = logging.Discard()
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &Loop{
		logger:  logger,
		inbox:   make(chan func(), capacity),
		stopped: make(chan struct{}),
	}
}

// Run executes posted handlers until ctx is done. It may be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("event loop already running")
	}
	defer l.stopOnce.Do(func() { close(l.stopped) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.inbox:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}

// Post queues fn. It blocks while the inbox is full and returns false once the loop stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.stopped:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		// the handler may have been queued behind the stop
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) Go(work func() func()) {
	if work == nil {
		return
	}
	go func() {
		if done := work(); done != nil {
			l.Post(done)
		}
	}()
}

// Every must be called and stopped from the loop goroutine. A tick that was
// already queued when stop runs is dropped.
func (l *Loop) Every(period time.Duration, fn func()) (stop func()) {
	if period <= 0 || fn == nil {
		return func() {}
	}
	var cancelled atomic.Bool
	quit := make(chan struct{})
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-l.stopped:
				return
			case <-ticker.C:
				l.Post(func() {
					if cancelled.Load() {
						return
					}
					fn()
				})
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancelled.Store(true)
			close(quit)
		})
	}
}

// Stopped is closed when Run returns.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}
