/*
Package compaction reduces a raw activity stream by roughly an order of magnitude
before it is sent for analysis.

# Why Compact?

A capture source emits every keystroke fragment, scroll tick, network call and
window snapshot. Ten minutes of normal work is easily several thousand raw events,
most of which carry no signal:

	raw events (10 min)      ~ 3,000 - 10,000
	after compaction         ~ 100 - 800

# Stages

Each stage feeds the next:

	┌───────────────────────────────────────────────────────────────┐
	│ 1. Useless-event removal                                      │
	│    structural events kept, empty text dropped, scroll capped  │
	│    at 2/min, snapshots gated by content, spacing, title and   │
	│    foreground app, empty/duplicate clicks dropped, repeated   │
	│    focus changes dropped, same-kind duplicates within 2s      │
	│    dropped                                                    │
	└───────────────────────────────────────────────────────────────┘
	                            ↓
	┌───────────────────────────────────────────────────────────────┐
	│ 2. Text coalescing                                            │
	│    text_input fragments within 10s merge into one event       │
	│    ("s" + "ales" -> "sales", "hello" + "world" -> "hello world")│
	└───────────────────────────────────────────────────────────────┘
	                            ↓
	┌───────────────────────────────────────────────────────────────┐
	│ 3. Snapshot exact-duplicate filtering                         │
	│ 4. Network-burst coalescing (first request of each 2s burst)  │
	│ 5. Projection to OptimizedEvent, timestamp order              │
	└───────────────────────────────────────────────────────────────┘

# Determinism

A Compactor holds only its Config. All working state (last-seen times, the scroll
ring, the last kept snapshot) lives for a single Run, so the same input always
yields the same output, across calls and across restarts.

# Usage Example

	c := compaction.New(compaction.DefaultConfig(), logger)

	res := c.Run(rawEvents)
	log.Printf("compacted %d -> %d (%.1fx)", res.Stats.Input, res.Stats.Output, res.Stats.Ratio())

	send(res.Events)
*/
package compaction
