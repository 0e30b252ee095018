package eventloop

import (
	"context"
	"time"
)

// Manual is a Scheduler for tests: nothing runs until the test steps it, and
// jobs may be completed in any order.
type Manual struct {
	jobs   []func() func()
	timers []*manualTimer
}

type manualTimer struct {
	period  time.Duration
	fn      func()
	stopped bool
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Go(work func() func()) {
	if work == nil {
		return
	}
	m.jobs = append(m.jobs, work)
}

// Do runs fn immediately; the test goroutine plays the loop.
func (m *Manual) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}

func (m *Manual) Every(period time.Duration, fn func()) func() {
	t := &manualTimer{period: period, fn: fn}
	m.timers = append(m.timers, t)
	return func() { t.stopped = true }
}

func (m *Manual) Pending() int {
	return len(m.jobs)
}

// Step runs the oldest job and its completion. It reports false when idle.
func (m *Manual) Step() bool {
	return m.StepAt(0)
}

// StepAt runs the job at index i, letting tests deliver completions out of order.
func (m *Manual) StepAt(i int) bool {
	if i < 0 || i >= len(m.jobs) {
		return false
	}
	work := m.jobs[i]
	m.jobs = append(m.jobs[:i:i], m.jobs[i+1:]...)
	if done := work(); done != nil {
		done()
	}
	return true
}

// Drop discards the job at index i without running it.
func (m *Manual) Drop(i int) {
	if i < 0 || i >= len(m.jobs) {
		return
	}
	m.jobs = append(m.jobs[:i:i], m.jobs[i+1:]...)
}

// Drain steps until no job is left or limit steps ran.
func (m *Manual) Drain(limit int) int {
	n := 0
	for n < limit && m.Step() {
		n++
	}
	return n
}

// Tick fires every live timer once.
func (m *Manual) Tick() {
	live := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live
	for _, t := range live {
		if !t.stopped {
			t.fn()
		}
	}
}

func (m *Manual) ActiveTimers() int {
	n := 0
	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}
