// Package scheduler drives flush cycles on a fixed interval and on demand.
//
// A Scheduler is a two-state machine:
//
//	Idle ──(timer | manual | emergency)──▶ FlushInProgress ──(flush done / Complete)──▶ Idle
//
// Requests arriving while a cycle is in progress are no-ops. A single loop
// goroutine owns the ticker and serializes every cycle.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/clock"
)

var (
	// ErrInvalidInterval is returned for a non-positive interval
	ErrInvalidInterval = errors.New("interval must be positive")

	// ErrNotRunning is returned when waiting on a stopped scheduler
	ErrNotRunning = errors.New("scheduler not running")
)

// State of the flush state machine
type State int32

const (
	Idle State = iota
	FlushInProgress
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FlushInProgress:
		return "flush_in_progress"
	default:
		return "unknown"
	}
}

// Reason says what triggered a cycle
type Reason string

const (
	ReasonTimer     Reason = "timer"
	ReasonManual    Reason = "manual"
	ReasonEmergency Reason = "emergency"
	ReasonFinal     Reason = "final"
)

// FlushFunc performs one cycle. Returning pending=true leaves the scheduler in
// FlushInProgress until Complete is called.
type FlushFunc func(reason Reason) (pending bool)

type request struct {
	reason Reason
	done   chan bool
}

type intervalChange struct {
	d    time.Duration
	done chan struct{}
}

// Scheduler runs FlushFunc on every tick and on request
type Scheduler struct {
	clock clock.Clock
	flush FlushFunc
	log   logrus.FieldLogger

	state    atomic.Int32
	interval atomic.Int64

	requests  chan request
	intervals chan intervalChange

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a scheduler. It does nothing until Start.
func New(clk clock.Clock, interval time.Duration, flush FlushFunc, log logrus.FieldLogger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Scheduler{
		clock:     clk,
		flush:     flush,
		log:       log.WithField("component", "scheduler"),
		requests:  make(chan request, 4),
		intervals: make(chan intervalChange),
	}
	s.interval.Store(int64(interval))
	return s, nil
}

// Start launches the loop. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	// Drop requests left over from a previous run
	for drained := false; !drained; {
		select {
		case <-s.requests:
		default:
			drained = true
		}
	}

	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	ticker := s.clock.NewTicker(s.Interval())
	go s.loop(ctx, ticker, s.stop, s.done)
}

// Stop halts the loop and waits for it to exit. An in-flight cycle finishes first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

// Running reports whether the loop is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// State returns the current state
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Interval returns the current tick interval
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// Request asks for a cycle without waiting. It reports whether the request
// was queued.
func (s *Scheduler) Request(reason Reason) bool {
	if !s.Running() {
		return false
	}
	select {
	case s.requests <- request{reason: reason}:
		return true
	default:
		return false
	}
}

// RequestWait asks for a cycle and waits until the loop has handled it.
// ran is false when a cycle was already in progress.
func (s *Scheduler) RequestWait(ctx context.Context, reason Reason) (bool, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false, ErrNotRunning
	}
	loopDone := s.done
	s.mu.Unlock()

	req := request{reason: reason, done: make(chan bool, 1)}

	select {
	case s.requests <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	case <-loopDone:
		return false, ErrNotRunning
	}

	select {
	case ran := <-req.done:
		return ran, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-loopDone:
		return false, ErrNotRunning
	}
}

// Complete marks an asynchronous cycle as finished
func (s *Scheduler) Complete() {
	s.state.Store(int32(Idle))
}

// SetInterval changes the tick interval. The running ticker is replaced
// before SetInterval returns. A non-positive value keeps the prior interval.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidInterval
	}
	s.interval.Store(int64(d))

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	loopDone := s.done
	s.mu.Unlock()

	change := intervalChange{d: d, done: make(chan struct{})}
	select {
	case s.intervals <- change:
	case <-loopDone:
		return nil
	}
	select {
	case <-change.done:
	case <-loopDone:
	}
	return nil
}

// RunFinal runs one cycle on the calling goroutine. It is meant for shutdown,
// after Stop. ran is false when a cycle is still in progress.
func (s *Scheduler) RunFinal(reason Reason) bool {
	return s.cycle(reason)
}

func (s *Scheduler) loop(ctx context.Context, ticker clock.Ticker, stop, done chan struct{}) {
	defer func() {
		ticker.Stop()
		s.mu.Lock()
		if s.done == done {
			s.running = false
		}
		s.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return

		case <-ticker.C():
			s.cycle(ReasonTimer)

		case req := <-s.requests:
			ran := s.cycle(req.reason)
			if req.done != nil {
				req.done <- ran
			}

		case change := <-s.intervals:
			ticker.Stop()
			ticker = s.clock.NewTicker(change.d)
			s.log.WithField("interval", change.d.String()).Info("Flush interval changed")
			close(change.done)
		}
	}
}

func (s *Scheduler) cycle(reason Reason) bool {
	if !s.state.CompareAndSwap(int32(Idle), int32(FlushInProgress)) {
		s.log.WithField("reason", reason).Debug("Flush already in progress, skipping")
		return false
	}

	if pending := s.flush(reason); !pending {
		s.state.Store(int32(Idle))
	}
	return true
}
