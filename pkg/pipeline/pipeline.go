// Package pipeline ties ingestion, compaction, scheduling, dispatch and
// persistence together for one tracked session at a time.
//
// Events flow:
//
//	AddRawEvent ──▶ raw buffer ──(timer | manual | emergency cap)──▶ swap
//	    ──▶ Compactor ──▶ chunk N ──▶ Dispatcher ──▶ analysis service
//	                                       │
//	                                       ├─▶ results store
//	                                       └─▶ Notifications()
//
// The buffer swap happens under the pipeline lock, so events arriving during
// compaction or an in-flight analysis call land in the next cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/clock"
	"github.com/nicktill/tinyfocus/pkg/compaction"
	"github.com/nicktill/tinyfocus/pkg/config"
	"github.com/nicktill/tinyfocus/pkg/event"
	"github.com/nicktill/tinyfocus/pkg/metrics"
	"github.com/nicktill/tinyfocus/pkg/monitor"
	"github.com/nicktill/tinyfocus/pkg/persistence"
	"github.com/nicktill/tinyfocus/pkg/scheduler"
	"github.com/nicktill/tinyfocus/pkg/sequencer"
	"github.com/nicktill/tinyfocus/pkg/session"
)

var (
	// ErrNoActiveSession is returned by operations that need a session
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionActive is returned when starting over a running session
	ErrSessionActive = errors.New("a session is already active")

	// ErrSessionEnded is returned when resuming a session that was stopped
	ErrSessionEnded = errors.New("session already ended")

	// ErrInvalidInterval is returned for a non-positive interval
	ErrInvalidInterval = scheduler.ErrInvalidInterval
)

// Deps are the collaborators of a Pipeline. Only Analyzer is required.
type Deps struct {
	Analyzer analysis.Analyzer
	Guard    *persistence.Guard
	Monitor  *monitor.DispatchMonitor
	Clock    clock.Clock
	Logger   logrus.FieldLogger
}

// Pipeline owns the buffers and timers of the active session
type Pipeline struct {
	opts       config.Options
	clock      clock.Clock
	log        logrus.FieldLogger
	compactor  *compaction.Compactor
	seq        *sequencer.Sequencer
	dispatcher *Dispatcher
	guard      *persistence.Guard
	monitor    *monitor.DispatchMonitor
	sched      *scheduler.Scheduler
	notes      chan Notification
	inflight   sync.WaitGroup

	mu            sync.Mutex
	session       *session.Session
	gen           uint64
	raw           []event.RawEvent
	retained      []event.OptimizedEvent
	retainedChunk int
	retainedRaw   int
	metrics       session.Metrics
	lastFlush     time.Time
	lastResult    *analysis.Result
	inFlight      bool
	stopping      bool
	baseCtx       context.Context
}

// New builds a pipeline. Nothing runs until Start.
func New(opts config.Options, deps Deps) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Analyzer == nil {
		return nil, errors.New("pipeline needs an analyzer")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.NewDispatchMonitor(deps.Clock)
	}

	p := &Pipeline{
		opts:      opts,
		clock:     deps.Clock,
		log:       deps.Logger.WithField("component", "pipeline"),
		compactor: compaction.New(compaction.FromOptions(opts), deps.Logger),
		seq:       sequencer.New(),
		guard:     deps.Guard,
		monitor:   deps.Monitor,
		notes:     make(chan Notification, config.NotificationBuffer),
		metrics:   session.NewMetrics(),
		baseCtx:   context.Background(),
	}

	var recorder ResultRecorder
	if deps.Guard != nil {
		recorder = deps.Guard
	}
	p.dispatcher = NewDispatcher(deps.Analyzer, p.seq, deps.Monitor, recorder, p.publish, deps.Clock, deps.Logger)

	sched, err := scheduler.New(deps.Clock, opts.Interval(), p.flush, deps.Logger)
	if err != nil {
		return nil, err
	}
	p.sched = sched
	return p, nil
}

// Notifications delivers dispatch outcomes. When nobody reads, the oldest
// pending notification is dropped.
func (p *Pipeline) Notifications() <-chan Notification {
	return p.notes
}

// Monitor returns the dispatch health monitor
func (p *Pipeline) Monitor() *monitor.DispatchMonitor {
	return p.monitor
}

// Start opens a session and starts the flush timer and autosave.
// An empty sessionID gets a generated one.
func (p *Pipeline) Start(ctx context.Context, sessionID, userID, dailyGoal string) (session.Session, error) {
	p.mu.Lock()
	if p.session != nil {
		p.mu.Unlock()
		return session.Session{}, ErrSessionActive
	}

	s := session.New(sessionID, userID, dailyGoal, p.clock.Now())
	p.session = &s
	p.stopping = false
	p.gen++
	p.raw = nil
	p.retained, p.retainedChunk, p.retainedRaw = nil, 0, 0
	p.metrics = session.NewMetrics()
	p.lastFlush = time.Time{}
	p.lastResult = nil
	p.baseCtx = context.WithoutCancel(ctx)
	p.seq.Reset(s.ID)
	base := p.baseCtx
	p.mu.Unlock()

	p.startBackground(base, s)

	p.log.WithFields(logrus.Fields{
		"session_id": s.ID,
		"user_id":    s.UserID,
		"interval":   p.sched.Interval().String(),
	}).Info("Session started")
	return s, nil
}

// Resume restores a session from its persisted snapshot
func (p *Pipeline) Resume(ctx context.Context, sessionID string) (session.Session, error) {
	if p.guard == nil {
		return session.Session{}, errors.New("persistence is not configured")
	}

	p.mu.Lock()
	active := p.session != nil
	p.mu.Unlock()
	if active {
		return session.Session{}, ErrSessionActive
	}

	snap, err := p.guard.Load(ctx, sessionID)
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to resume session %s: %w", sessionID, err)
	}
	if !snap.Session.Active {
		return session.Session{}, fmt.Errorf("failed to resume session %s: %w", sessionID, ErrSessionEnded)
	}

	p.mu.Lock()
	if p.session != nil {
		p.mu.Unlock()
		return session.Session{}, ErrSessionActive
	}
	s := snap.Session
	p.session = &s
	p.stopping = false
	p.gen++
	p.raw = snap.RawBuffer
	p.metrics = snap.Metrics
	if p.metrics.AppSeconds == nil {
		p.metrics.AppSeconds = make(map[string]float64)
	}
	p.lastFlush = time.Time{}
	p.lastResult = nil
	p.baseCtx = context.WithoutCancel(ctx)

	p.seq.Reset(s.ID)
	p.seq.Restore(s.ID, snap.ChunkNumber)
	p.retained, p.retainedChunk, p.retainedRaw = nil, 0, 0
	if len(snap.Retained) > 0 && snap.ChunkNumber > 0 {
		// the retained batch failed under the latest number; let it retry
		p.seq.Release(s.ID, snap.ChunkNumber)
		p.retained = snap.Retained
		p.retainedChunk = snap.ChunkNumber
	}
	base := p.baseCtx
	buffered := len(p.raw)
	p.mu.Unlock()

	metrics.RawBufferSize.Set(float64(buffered))
	p.startBackground(base, s)

	p.log.WithFields(logrus.Fields{
		"session_id": s.ID,
		"chunk":      snap.ChunkNumber,
		"raw":        buffered,
	}).Info("Session resumed")
	return s, nil
}

func (p *Pipeline) startBackground(ctx context.Context, s session.Session) {
	if p.guard != nil {
		recCtx, cancel := context.WithTimeout(ctx, config.StoreOpTimeout)
		if err := p.guard.RecordSessionStart(recCtx, s); err != nil {
			p.log.WithError(err).WithField("session_id", s.ID).Warn("Failed to record session start")
		}
		cancel()
		p.guard.Start(ctx, p.snapshot)
	}
	p.sched.Start(ctx)
}

// Stop ends the session. Pending events get one synchronous final flush
// unless an analysis call is still in flight, in which case they are
// returned undispatched. The in-flight call still completes and persists
// its result.
func (p *Pipeline) Stop(ctx context.Context) (*FinalExport, error) {
	p.mu.Lock()
	if p.session == nil || p.stopping {
		p.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	// from here on AddRawEvent refuses events, so the final pass sees them all
	p.stopping = true
	sessionID := p.session.ID
	p.mu.Unlock()

	p.sched.Stop()
	if p.guard != nil {
		p.guard.Stop()
	}

	export := &FinalExport{}

	p.mu.Lock()
	pending := len(p.raw) > 0 || len(p.retained) > 0
	p.lastResult = nil
	p.mu.Unlock()

	if pending {
		if ran := p.sched.RunFinal(scheduler.ReasonFinal); ran {
			p.mu.Lock()
			export.FinalResult = p.lastResult
			p.mu.Unlock()
		} else {
			p.mu.Lock()
			raw := p.raw
			p.raw = nil
			p.mu.Unlock()
			res := p.compactor.Run(raw)
			export.Undispatched = res.Events
			p.mu.Lock()
			p.metrics.DroppedEvents += res.Stats.DroppedTotal()
			p.mu.Unlock()
		}
	}

	p.mu.Lock()
	if len(p.retained) > 0 {
		export.Undispatched = append(append([]event.OptimizedEvent(nil), p.retained...), export.Undispatched...)
	}
	if len(p.raw) > 0 {
		export.Undispatched = append(export.Undispatched, p.compactor.Compact(p.raw)...)
	}
	p.session.Active = false
	export.Session = *p.session
	export.ChunkNumber = p.seq.Current(sessionID)
	export.Metrics = p.metrics.Clone()
	p.session = nil
	p.stopping = false
	p.gen++
	p.raw = nil
	p.retained, p.retainedChunk, p.retainedRaw = nil, 0, 0
	p.mu.Unlock()

	metrics.RawBufferSize.Set(0)

	if p.guard != nil {
		if err := p.guard.Clear(ctx, sessionID); err != nil {
			p.log.WithError(err).WithField("session_id", sessionID).Warn("Failed to clear snapshot")
		}
		if err := p.guard.RecordSessionEnd(ctx, sessionID, export.Metrics); err != nil {
			p.log.WithError(err).WithField("session_id", sessionID).Warn("Failed to record session end")
		}
	}

	p.log.WithFields(logrus.Fields{
		"session_id":   sessionID,
		"chunks":       export.ChunkNumber,
		"undispatched": len(export.Undispatched),
	}).Info("Session stopped")
	return export, nil
}

// Detach halts the timers, saves a last snapshot and lets go of the session
// without ending it, so it can be resumed later, possibly by another process.
func (p *Pipeline) Detach(ctx context.Context) error {
	if p.guard == nil {
		return errors.New("persistence is not configured")
	}

	p.mu.Lock()
	if p.session == nil || p.stopping {
		p.mu.Unlock()
		return ErrNoActiveSession
	}
	p.stopping = true
	p.mu.Unlock()

	p.sched.Stop()
	p.guard.Stop()

	// An in-flight chunk that fails must land in the snapshot as retained
	if err := p.Wait(ctx); err != nil {
		p.log.WithError(err).Warn("Detaching with an analysis call still in flight")
	}

	snap, ok := p.snapshot()
	if !ok {
		return ErrNoActiveSession
	}
	err := p.guard.Save(ctx, snap)

	p.mu.Lock()
	p.session = nil
	p.stopping = false
	p.gen++
	p.raw = nil
	p.retained, p.retainedChunk, p.retainedRaw = nil, 0, 0
	p.mu.Unlock()
	metrics.RawBufferSize.Set(0)

	if err != nil {
		return err
	}
	p.log.WithFields(logrus.Fields{
		"session_id": snap.Session.ID,
		"chunk":      snap.ChunkNumber,
		"raw":        len(snap.RawBuffer),
	}).Info("Session detached")
	return nil
}

// FullReset drops the session and all buffered state without a final flush
func (p *Pipeline) FullReset(ctx context.Context) error {
	p.sched.Stop()
	if p.guard != nil {
		p.guard.Stop()
	}

	p.mu.Lock()
	var sessionID string
	if p.session != nil {
		sessionID = p.session.ID
	}
	p.session = nil
	p.stopping = false
	p.gen++
	p.raw = nil
	p.retained, p.retainedChunk, p.retainedRaw = nil, 0, 0
	p.metrics = session.NewMetrics()
	p.lastFlush = time.Time{}
	p.lastResult = nil
	p.mu.Unlock()

	metrics.RawBufferSize.Set(0)

	if sessionID == "" {
		return nil
	}
	p.seq.Reset(sessionID)

	if p.guard != nil {
		if err := p.guard.Clear(ctx, sessionID); err != nil {
			return err
		}
	}
	p.log.WithField("session_id", sessionID).Warn("Pipeline reset")
	return nil
}

// TriggerManualFlush runs a cycle now. ran is false when one was already in progress.
func (p *Pipeline) TriggerManualFlush(ctx context.Context) (bool, error) {
	p.mu.Lock()
	active := p.session != nil
	p.mu.Unlock()
	if !active {
		return false, ErrNoActiveSession
	}
	return p.sched.RequestWait(ctx, scheduler.ReasonManual)
}

// SetIntervalDuration changes the flush interval. The timer restarts;
// buffered events are kept. Non-positive values are rejected.
func (p *Pipeline) SetIntervalDuration(minutes int) error {
	if minutes <= 0 {
		return ErrInvalidInterval
	}
	if err := p.sched.SetInterval(time.Duration(minutes) * time.Minute); err != nil {
		return err
	}

	p.mu.Lock()
	p.opts.IntervalMinutes = minutes
	p.mu.Unlock()
	return nil
}

// Wait blocks until in-flight analysis calls finish or ctx is done
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshot is the persistence provider
func (p *Pipeline) snapshot() (persistence.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return persistence.Snapshot{}, false
	}

	tail := p.raw
	if n := len(tail); n > config.SnapshotRawTail {
		tail = tail[n-config.SnapshotRawTail:]
	}

	return persistence.Snapshot{
		Session:     *p.session,
		ChunkNumber: p.seq.Current(p.session.ID),
		RawBuffer:   append([]event.RawEvent(nil), tail...),
		Retained:    append([]event.OptimizedEvent(nil), p.retained...),
		Metrics:     p.metrics.Clone(),
		Timestamp:   p.clock.Now(),
	}, true
}

func (p *Pipeline) publish(n Notification) {
	select {
	case p.notes <- n:
		return
	default:
	}

	// full: make room by dropping the oldest
	select {
	case <-p.notes:
	default:
	}
	select {
	case p.notes <- n:
	default:
		p.log.WithField("type", n.Type).Debug("Notification dropped")
	}
}
