package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/clock"
	"github.com/nicktill/tinyfocus/pkg/config"
	"github.com/nicktill/tinyfocus/pkg/metrics"
	"github.com/nicktill/tinyfocus/pkg/monitor"
	"github.com/nicktill/tinyfocus/pkg/sequencer"
)

// ErrDuplicateChunk is returned when a chunk was already dispatched
var ErrDuplicateChunk = errors.New("chunk already dispatched")

// Notification types
const (
	NotifyResult = "analysis_result"
	NotifyFailed = "analysis_failed"
)

// Notification is pushed to subscribers after every dispatch attempt
type Notification struct {
	Type        string           `json:"type"`
	SessionID   string           `json:"session_id"`
	ChunkNumber int              `json:"chunk_number"`
	Events      int              `json:"events"`
	Result      *analysis.Result `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// ResultRecorder persists accepted results
type ResultRecorder interface {
	RecordResult(ctx context.Context, r *analysis.Result) error
}

// Dispatcher sends chunks to the analysis service at most once each
type Dispatcher struct {
	analyzer analysis.Analyzer
	seq      *sequencer.Sequencer
	monitor  *monitor.DispatchMonitor
	recorder ResultRecorder
	notify   func(Notification)
	clock    clock.Clock
	log      logrus.FieldLogger
}

// NewDispatcher wires a dispatcher. recorder and notify may be nil.
func NewDispatcher(a analysis.Analyzer, seq *sequencer.Sequencer, mon *monitor.DispatchMonitor,
	recorder ResultRecorder, notify func(Notification), clk clock.Clock, log logrus.FieldLogger) *Dispatcher {
	if clk == nil {
		clk = clock.Real{}
	}
	if mon == nil {
		mon = monitor.NewDispatchMonitor(clk)
	}
	if notify == nil {
		notify = func(Notification) {}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		analyzer: a,
		seq:      seq,
		monitor:  mon,
		recorder: recorder,
		notify:   notify,
		clock:    clk,
		log:      log.WithField("component", "dispatcher"),
	}
}

// Dispatch claims the chunk key, calls the analyzer and records the outcome.
// On failure the claim is released so the chunk can be retried.
func (d *Dispatcher) Dispatch(ctx context.Context, chunk sequencer.Chunk, contextText string) (*analysis.Result, error) {
	log := d.log.WithFields(logrus.Fields{
		"session_id": chunk.SessionID,
		"chunk":      chunk.Number,
		"events":     len(chunk.Events),
	})

	if !d.seq.Claim(chunk.SessionID, chunk.Number) {
		metrics.Chunks.WithLabelValues("duplicate").Inc()
		log.WithField("key", sequencer.Key(chunk.SessionID, chunk.Number)).Warn("Skipping duplicate chunk")
		return nil, ErrDuplicateChunk
	}

	start := time.Now()
	res, err := d.analyzer.Analyze(ctx, analysis.Request{
		SessionID:   chunk.SessionID,
		UserID:      chunk.UserID,
		ChunkNumber: chunk.Number,
		Events:      chunk.Events,
		Context:     contextText,
	})
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		d.seq.Release(chunk.SessionID, chunk.Number)
		d.monitor.RecordFailure(err)
		metrics.Chunks.WithLabelValues("failure").Inc()
		log.WithError(err).Warn("Analysis failed, chunk retained for retry")

		d.notify(Notification{
			Type:        NotifyFailed,
			SessionID:   chunk.SessionID,
			ChunkNumber: chunk.Number,
			Events:      len(chunk.Events),
			Error:       err.Error(),
			Timestamp:   d.clock.Now(),
		})
		return nil, fmt.Errorf("analysis of chunk %d failed: %w", chunk.Number, err)
	}

	if res == nil {
		res = &analysis.Result{}
	}
	if res.SessionID == "" {
		res.SessionID = chunk.SessionID
	}
	if res.ChunkNumber == 0 {
		res.ChunkNumber = chunk.Number
	}
	if res.ReceivedAt.IsZero() {
		res.ReceivedAt = d.clock.Now()
	}

	d.monitor.RecordSuccess()
	metrics.Chunks.WithLabelValues("success").Inc()
	log.Info("Chunk analyzed")

	if d.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.StoreOpTimeout)
		if err := d.recorder.RecordResult(recCtx, res); err != nil {
			log.WithError(err).Warn("Failed to persist analysis result")
		}
		cancel()
	}

	d.notify(Notification{
		Type:        NotifyResult,
		SessionID:   chunk.SessionID,
		ChunkNumber: chunk.Number,
		Events:      len(chunk.Events),
		Result:      res,
		Timestamp:   d.clock.Now(),
	})
	return res, nil
}
