package pipeline

import (
	"time"

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/event"
	"github.com/nicktill/tinyfocus/pkg/monitor"
	"github.com/nicktill/tinyfocus/pkg/session"
)

// Status is a point-in-time view of the pipeline
type Status struct {
	Active           bool                   `json:"active"`
	Session          *session.Session       `json:"session,omitempty"`
	State            string                 `json:"state"`
	IntervalMinutes  int                    `json:"interval_minutes"`
	RawBuffered      int                    `json:"raw_buffered"`
	Retained         int                    `json:"retained"`
	ChunkNumber      int                    `json:"chunk_number"`
	InFlight         bool                   `json:"in_flight"`
	LastFlush        *time.Time             `json:"last_flush,omitempty"`
	Metrics          session.Metrics        `json:"metrics"`
	CompressionRatio float64                `json:"compression_ratio"`
	TopApps          []session.AppUsage     `json:"top_apps,omitempty"`
	Dispatch         monitor.DispatchStatus `json:"dispatch"`
	LastResult       *analysis.Result       `json:"last_result,omitempty"`
}

// FinalExport is what Stop hands back
type FinalExport struct {
	Session      session.Session        `json:"session"`
	ChunkNumber  int                    `json:"chunk_number"`
	Metrics      session.Metrics        `json:"metrics"`
	Undispatched []event.OptimizedEvent `json:"undispatched,omitempty"`
	FinalResult  *analysis.Result       `json:"final_result,omitempty"`
}

// GetStatus returns the current status
func (p *Pipeline) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Active:          p.session != nil,
		State:           p.sched.State().String(),
		IntervalMinutes: p.opts.IntervalMinutes,
		RawBuffered:     len(p.raw),
		Retained:        len(p.retained),
		InFlight:        p.inFlight,
		Metrics:         p.metrics.Clone(),
		Dispatch:        p.monitor.Status(),
		LastResult:      p.lastResult,
	}
	st.CompressionRatio = st.Metrics.CompressionRatio()
	st.TopApps = st.Metrics.TopApps(5)

	if p.session != nil {
		s := *p.session
		st.Session = &s
		st.ChunkNumber = p.seq.Current(s.ID)
	}
	if !p.lastFlush.IsZero() {
		t := p.lastFlush
		st.LastFlush = &t
	}
	return st
}
