// Package timeutil abstracts wall-clock time so build timing and the
// simulation pacing can be driven by tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the engine uses.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks at an interval.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock using the time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// MockClock only moves when told to.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*MockTicker
}

// NewMockClock returns a MockClock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Set jumps to t without firing tickers.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward and fires any ticker whose next tick has
// been reached. Each ticker fires at most once per call; its channel holds
// one pending tick like time.Ticker.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*MockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.fire(now)
	}
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &MockTicker{ch: make(chan time.Time, 1), interval: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	return t
}

// MockTicker is a ticker driven by MockClock.Advance.
type MockTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *MockTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	t.next = now.Add(t.interval)
}

// FixedStep converts elapsed wall time into whole simulation steps of a
// fixed size, carrying the remainder forward.
type FixedStep struct {
	clock    Clock
	step     time.Duration
	maxSteps int
	last     time.Time
	carry    time.Duration
}

// NewFixedStep starts accumulating from clock.Now(). maxSteps bounds how many
// steps one Steps call may return so a stalled process does not spiral.
func NewFixedStep(clock Clock, step time.Duration, maxSteps int) *FixedStep {
	if maxSteps < 1 {
		maxSteps = 1
	}
	return &FixedStep{clock: clock, step: step, maxSteps: maxSteps, last: clock.Now()}
}

// Step is the fixed step size.
func (f *FixedStep) Step() time.Duration { return f.step }

// Steps returns how many fixed steps are due since the previous call.
// Time beyond maxSteps is dropped.
func (f *FixedStep) Steps() int {
	now := f.clock.Now()
	f.carry += now.Sub(f.last)
	f.last = now
	if f.step <= 0 {
		return 0
	}
	n := int(f.carry / f.step)
	if n > f.maxSteps {
		f.carry = 0
		return f.maxSteps
	}
	f.carry -= time.Duration(n) * f.step
	return n
}
