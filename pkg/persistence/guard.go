// Package persistence snapshots the running session so it can be resumed
// after a crash or restart.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/clock"
	"github.com/nicktill/tinyfocus/pkg/config"
	"github.com/nicktill/tinyfocus/pkg/event"
	"github.com/nicktill/tinyfocus/pkg/session"
	"github.com/nicktill/tinyfocus/pkg/storage"
)

// ErrStale is returned for a snapshot older than the maximum age
var ErrStale = errors.New("snapshot is stale")

// Snapshot is the recoverable state of one session
type Snapshot struct {
	Session     session.Session        `json:"session"`
	ChunkNumber int                    `json:"chunk_number"`
	RawBuffer   []event.RawEvent       `json:"raw_buffer"`
	Retained    []event.OptimizedEvent `json:"retained,omitempty"`
	Metrics     session.Metrics        `json:"metrics"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Provider returns the current snapshot, or false when no session is active
type Provider func() (Snapshot, bool)

// Recorder is the durable result store behind the guard
type Recorder interface {
	SaveResult(ctx context.Context, r *analysis.Result) error
	SaveSession(ctx context.Context, s session.Session) error
	EndSession(ctx context.Context, id string, at time.Time, m session.Metrics) error
}

// Options tune the guard
type Options struct {
	Namespace string
	Interval  time.Duration
	MaxAge    time.Duration
	RawTail   int
}

// DefaultOptions returns the stock autosave settings
func DefaultOptions() Options {
	return Options{
		Namespace: config.DefaultNamespace,
		Interval:  config.AutosaveInterval,
		MaxAge:    config.SnapshotMaxAge,
		RawTail:   config.SnapshotRawTail,
	}
}

// Guard autosaves snapshots and writes results through to the durable store
type Guard struct {
	store    storage.Store
	recorder Recorder
	clock    clock.Clock
	log      logrus.FieldLogger
	opts     Options

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New creates a guard. recorder may be nil.
func New(store storage.Store, recorder Recorder, clk clock.Clock, log logrus.FieldLogger, opts Options) *Guard {
	def := DefaultOptions()
	if opts.Namespace == "" {
		opts.Namespace = def.Namespace
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = def.MaxAge
	}
	if opts.RawTail <= 0 {
		opts.RawTail = def.RawTail
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Guard{
		store:    store,
		recorder: recorder,
		clock:    clk,
		log:      log.WithField("component", "persistence"),
		opts:     opts,
	}
}

// Key returns "{namespace}_tracker_data_{sessionId}"
func (g *Guard) Key(sessionID string) string {
	return g.prefix() + sessionID
}

func (g *Guard) prefix() string {
	return g.opts.Namespace + "_tracker_data_"
}

// Save writes the snapshot, keeping only the newest RawTail raw events
func (g *Guard) Save(ctx context.Context, snap Snapshot) error {
	if snap.Session.ID == "" {
		return errors.New("snapshot has no session id")
	}
	if n := len(snap.RawBuffer); n > g.opts.RawTail {
		snap.RawBuffer = snap.RawBuffer[n-g.opts.RawTail:]
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = g.clock.Now()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := g.store.Put(ctx, g.Key(snap.Session.ID), data, g.opts.MaxAge); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot, storage.ErrNotFound, or ErrStale when it is
// older than MaxAge
func (g *Guard) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	data, err := g.store.Get(ctx, g.Key(sessionID))
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if age := g.clock.Now().Sub(snap.Timestamp); age >= g.opts.MaxAge {
		return nil, fmt.Errorf("%w: saved %s ago", ErrStale, age.Round(time.Second))
	}
	return &snap, nil
}

// HasRecoverableData reports whether a fresh snapshot of an active session exists
func (g *Guard) HasRecoverableData(ctx context.Context, sessionID string) bool {
	snap, err := g.Load(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			g.log.WithError(err).WithField("session_id", sessionID).Debug("Snapshot not recoverable")
		}
		return false
	}
	return snap.Session.Active
}

// Recoverable lists session ids with a stored snapshot
func (g *Guard) Recoverable(ctx context.Context) ([]string, error) {
	keys, err := g.store.Keys(ctx, g.prefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, g.prefix()))
	}
	return ids, nil
}

// Clear removes the snapshot
func (g *Guard) Clear(ctx context.Context, sessionID string) error {
	if err := g.store.Delete(ctx, g.Key(sessionID)); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

// RecordResult writes an analysis result through to the durable store
func (g *Guard) RecordResult(ctx context.Context, r *analysis.Result) error {
	if g.recorder == nil || r == nil {
		return nil
	}
	return g.recorder.SaveResult(ctx, r)
}

// RecordSessionStart records a started or resumed session
func (g *Guard) RecordSessionStart(ctx context.Context, s session.Session) error {
	if g.recorder == nil {
		return nil
	}
	return g.recorder.SaveSession(ctx, s)
}

// RecordSessionEnd stamps the session's end and final metrics
func (g *Guard) RecordSessionEnd(ctx context.Context, id string, m session.Metrics) error {
	if g.recorder == nil {
		return nil
	}
	return g.recorder.EndSession(ctx, id, g.clock.Now(), m)
}

// Start autosaves every Interval until Stop. Failures are logged and the
// next tick tries again.
func (g *Guard) Start(ctx context.Context, provider Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stop != nil {
		return
	}
	g.stop = make(chan struct{})
	g.done = make(chan struct{})

	ticker := g.clock.NewTicker(g.opts.Interval)
	go g.loop(ctx, ticker, provider, g.stop, g.done)
}

// Stop halts autosave and waits for the loop to exit
func (g *Guard) Stop() {
	g.mu.Lock()
	stop, done := g.stop, g.done
	g.stop, g.done = nil, nil
	g.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (g *Guard) loop(ctx context.Context, ticker clock.Ticker, provider Provider, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C():
			snap, ok := provider()
			if !ok {
				continue
			}
			saveCtx, cancel := context.WithTimeout(ctx, config.StoreOpTimeout)
			err := g.Save(saveCtx, snap)
			cancel()
			if err != nil {
				g.log.WithError(err).WithField("session_id", snap.Session.ID).Warn("Autosave failed")
				continue
			}
			g.log.WithFields(logrus.Fields{
				"session_id": snap.Session.ID,
				"chunk":      snap.ChunkNumber,
				"raw":        len(snap.RawBuffer),
			}).Debug("Autosaved session")
		}
	}
}
