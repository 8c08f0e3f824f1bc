package compaction

import (
	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/event"
)

// Compactor reduces raw activity events to optimized events.
// It holds configuration only; every call starts from fresh state.
type Compactor struct {
	cfg Config
	log logrus.FieldLogger
}

// Result is the output of one pass plus its per-stage counts
type Result struct {
	Events []event.OptimizedEvent
	Stats  Stats
}

// New creates a new compactor
func New(cfg Config, log logrus.FieldLogger) *Compactor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.RecentChangeDepth <= 0 {
		cfg.RecentChangeDepth = 1
	}
	return &Compactor{
		cfg: cfg,
		log: log.WithField("component", "compaction"),
	}
}

// Config returns the thresholds this compactor runs with
func (c *Compactor) Config() Config {
	return c.cfg
}

// Compact runs all stages and returns the optimized events in timestamp order
func (c *Compactor) Compact(raw []event.RawEvent) []event.OptimizedEvent {
	return c.Run(raw).Events
}

// Run executes the five stages in order:
//
//  1. useless-event removal (type-specific keep/drop rules)
//  2. text coalescing
//  3. snapshot exact-duplicate filtering
//  4. network-burst coalescing
//  5. projection to OptimizedEvent in timestamp order
//
// The input slice is not modified.
func (c *Compactor) Run(raw []event.RawEvent) Result {
	stats := Stats{Input: len(raw)}
	st := newState()

	kept := c.removeUseless(raw, st, &stats)
	stats.AfterFilter = len(kept)

	kept = c.coalesceText(kept, &stats)
	stats.AfterText = len(kept)

	kept = dropDuplicateSnapshots(kept, &stats)
	stats.AfterSnapshots = len(kept)

	kept = c.coalesceNetwork(kept, &stats)

	out := make([]event.OptimizedEvent, 0, len(kept))
	for _, ev := range kept {
		opt, ok := event.Optimize(ev)
		if !ok {
			stats.drop(DropMalformed)
			c.log.WithField("type", ev.Type).Warn("Skipping event that cannot be projected")
			continue
		}
		out = append(out, opt)
	}
	stats.Output = len(out)

	return Result{Events: out, Stats: stats}
}

// dropDuplicateSnapshots is stage 3: a snapshot whose preview and title match
// the previous kept snapshot exactly is dropped.
func dropDuplicateSnapshots(events []event.RawEvent, stats *Stats) []event.RawEvent {
	out := events[:0:0]
	var last uint64
	var have bool

	for _, ev := range events {
		if ev.Type == event.KindSnapshot {
			p, _ := ev.Payload.(event.SnapshotPayload)
			fp := fingerprint(p.Preview, p.Title)
			if have && fp == last {
				stats.drop(DropSnapshotDuplicate)
				continue
			}
			last, have = fp, true
		}
		out = append(out, ev)
	}
	return out
}

// coalesceNetwork is stage 4: within a run of network events whose successive
// gaps are <= NetworkBurstWindow only the first survives.
func (c *Compactor) coalesceNetwork(events []event.RawEvent, stats *Stats) []event.RawEvent {
	out := events[:0:0]
	var prev event.RawEvent
	var have bool

	for _, ev := range events {
		if ev.Type == event.KindNetwork {
			inBurst := have && absDuration(ev.Timestamp.Sub(prev.Timestamp)) <= c.cfg.NetworkBurstWindow
			prev, have = ev, true
			if inBurst {
				stats.drop(DropNetworkBurst)
				continue
			}
		}
		out = append(out, ev)
	}
	return out
}

// fingerprint hashes snapshot content for exact-match comparison
func fingerprint(preview, title string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(preview)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(title)
	return d.Sum64()
}
