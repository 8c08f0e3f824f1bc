package pipeline

import (
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/event"
	"github.com/nicktill/tinyfocus/pkg/metrics"
	"github.com/nicktill/tinyfocus/pkg/scheduler"
	"github.com/nicktill/tinyfocus/pkg/sequencer"
	"github.com/nicktill/tinyfocus/pkg/session"
)

// flush is the scheduler's cycle: swap, compact, number, dispatch.
// Dispatch runs on its own goroutine except for the final flush; the
// return value tells the scheduler whether to wait for Complete.
func (p *Pipeline) flush(reason scheduler.Reason) bool {
	now := p.clock.Now()

	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return false
	}
	raw := p.raw
	p.raw = nil
	retained, retainedChunk, retainedRaw := p.retained, p.retainedChunk, p.retainedRaw
	p.retained, p.retainedChunk, p.retainedRaw = nil, 0, 0
	sess := *p.session
	gen := p.gen
	base := p.baseCtx
	p.lastFlush = now
	p.mu.Unlock()

	metrics.RawBufferSize.Set(0)

	if len(raw) == 0 && len(retained) == 0 {
		return false
	}
	metrics.Flushes.WithLabelValues(string(reason)).Inc()

	start := time.Now()
	res := p.compactor.Run(raw)
	metrics.CompactionDuration.Observe(time.Since(start).Seconds())
	if res.Stats.Output > 0 {
		metrics.CompressionRatio.Set(res.Stats.Ratio())
	}
	for rule, n := range res.Stats.Dropped {
		metrics.CompactionDropped.WithLabelValues(rule).Add(float64(n))
	}

	events := res.Events
	if len(retained) > 0 {
		events = append(append([]event.OptimizedEvent(nil), retained...), res.Events...)
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Timestamp.Before(events[j].Timestamp)
		})
	}

	log := p.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"reason":     reason,
		"raw":        len(raw),
		"optimized":  len(res.Events),
		"retained":   len(retained),
	})

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return false
	}
	p.metrics.OptimizedEvents += len(res.Events)
	p.metrics.DroppedEvents += res.Stats.DroppedTotal()
	if len(events) == 0 {
		p.mu.Unlock()
		log.Debug("Nothing left after compaction")
		return false
	}

	number := retainedChunk
	if number == 0 {
		number = p.seq.Next(sess.ID)
	}
	chunk := sequencer.Chunk{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		Number:        number,
		Events:        events,
		RawEventCount: retainedRaw + len(raw),
		CreatedAt:     now,
	}
	contextText := session.ContextText(sess, &p.metrics)
	p.inFlight = true
	p.mu.Unlock()

	log.WithFields(logrus.Fields{
		"chunk": number,
		"ratio": res.Stats.Ratio(),
	}).Info("Compacted batch")

	if reason == scheduler.ReasonFinal {
		result, err := p.dispatcher.Dispatch(base, chunk, contextText)
		p.finishDispatch(gen, chunk, result, err)
		return false
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		result, err := p.dispatcher.Dispatch(base, chunk, contextText)
		p.finishDispatch(gen, chunk, result, err)
		p.sched.Complete()
	}()
	return true
}

// finishDispatch records the outcome. A failed chunk is kept, with its
// number, and retried together with the next cycle's events. Outcomes for a
// session that has since stopped or reset only touch the results store,
// which the dispatcher already did.
func (p *Pipeline) finishDispatch(gen uint64, chunk sequencer.Chunk, result *analysis.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inFlight = false
	if p.gen != gen {
		if err != nil && !errors.Is(err, ErrDuplicateChunk) {
			p.log.WithFields(logrus.Fields{
				"session_id": chunk.SessionID,
				"chunk":      chunk.Number,
			}).Warn("Chunk failed after its session ended, events discarded")
		}
		return
	}

	switch {
	case err == nil:
		p.metrics.Chunks++
		p.lastResult = result
	case errors.Is(err, ErrDuplicateChunk):
	default:
		p.metrics.FailedChunks++
		p.retained = chunk.Events
		p.retainedChunk = chunk.Number
		p.retainedRaw = chunk.RawEventCount
	}
}
