package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/event"
	"github.com/nicktill/tinyfocus/pkg/metrics"
	"github.com/nicktill/tinyfocus/pkg/scheduler"
)

// AddRawEvent appends an event to the raw buffer. A zero timestamp is
// stamped with the current time. Past the emergency cap the call waits
// until the scheduler has taken the buffer, or declined because a cycle
// is already running.
func (p *Pipeline) AddRawEvent(ev event.RawEvent) error {
	if ev.Type == "" {
		p.countMalformed()
		p.log.Debug("Dropping event without a type")
		return event.ErrMissingType
	}

	p.mu.Lock()
	if p.session == nil || p.stopping {
		stopping := p.stopping
		p.mu.Unlock()
		if stopping {
			metrics.EventsDropped.WithLabelValues("stopping").Inc()
			p.log.WithField("type", ev.Type).Debug("Dropping event, session is stopping")
		} else {
			metrics.EventsDropped.WithLabelValues("no_session").Inc()
			p.log.WithField("type", ev.Type).Debug("Dropping event, no active session")
		}
		return ErrNoActiveSession
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.clock.Now()
	}
	p.raw = append(p.raw, ev)
	p.metrics.RawEvents++
	p.metrics.ObserveApp(ev.AppName(), ev.Timestamp)
	buffered := len(p.raw)
	sessionID := p.session.ID
	p.mu.Unlock()

	metrics.EventsIngested.Inc()
	metrics.RawBufferSize.Set(float64(buffered))

	if buffered > p.opts.EmergencyRawCap {
		p.emergencyFlush(sessionID, buffered)
	}
	return nil
}

// AddRawJSON decodes one wire-format event and appends it
func (p *Pipeline) AddRawJSON(data []byte) error {
	var ev event.RawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		p.countMalformed()
		p.log.WithError(err).Debug("Dropping malformed event")
		return fmt.Errorf("malformed event: %w", err)
	}
	return p.AddRawEvent(ev)
}

// countMalformed records an undecodable event; it counts against the
// session only while one is accepting events
func (p *Pipeline) countMalformed() {
	metrics.EventsDropped.WithLabelValues("malformed").Inc()
	p.mu.Lock()
	if p.session != nil && !p.stopping {
		p.metrics.DroppedEvents++
	}
	p.mu.Unlock()
}

func (p *Pipeline) emergencyFlush(sessionID string, buffered int) {
	log := p.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"buffered":   buffered,
		"cap":        p.opts.EmergencyRawCap,
	})

	ran, err := p.sched.RequestWait(context.Background(), scheduler.ReasonEmergency)
	if err != nil {
		log.WithError(err).Warn("Emergency flush not possible")
		return
	}
	if !ran {
		log.Debug("Emergency cap reached while a flush is in progress")
		return
	}

	p.mu.Lock()
	p.metrics.EmergencyFlushes++
	p.mu.Unlock()
	log.Warn("Emergency flush")
}
