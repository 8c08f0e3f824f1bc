package compaction

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nicktill/tinyfocus/pkg/event"
)

// Word-fragment repair limits: two short alphabetic pieces that form one
// short word are joined without a space ("s" + "ales" -> "sales").
const (
	maxRepairedWordLen = 8
)

// coalesceText is stage 2. Text inputs are grouped in arrival order; an event
// joins the current group when it is within TextGap of the previous member.
// Each group becomes one text_input at the first member's timestamp, and the
// result is merged back with everything else in timestamp order.
func (c *Compactor) coalesceText(events []event.RawEvent, stats *Stats) []event.RawEvent {
	var texts, others []event.RawEvent
	for _, ev := range events {
		if ev.Type == event.KindTextInput {
			texts = append(texts, ev)
		} else {
			others = append(others, ev)
		}
	}
	if len(texts) == 0 {
		sortByTime(events)
		return events
	}

	var groups [][]event.RawEvent
	var current []event.RawEvent
	for _, ev := range texts {
		if len(current) > 0 {
			prev := current[len(current)-1]
			if absDuration(ev.Timestamp.Sub(prev.Timestamp)) > c.cfg.TextGap {
				groups = append(groups, current)
				current = nil
			}
		}
		current = append(current, ev)
	}
	groups = append(groups, current)

	out := make([]event.RawEvent, 0, len(others)+len(groups))
	out = append(out, others...)
	for _, g := range groups {
		if len(g) == 1 {
			out = append(out, g[0])
			continue
		}
		out = append(out, mergeGroup(g))
		stats.Merged++
	}

	sortByTime(out)
	return out
}

func mergeGroup(group []event.RawEvent) event.RawEvent {
	pieces := make([]string, 0, len(group))
	for _, ev := range group {
		if p, ok := ev.Payload.(event.TextPayload); ok {
			if t := strings.TrimSpace(p.Text); t != "" {
				pieces = append(pieces, t)
			}
		}
	}

	var text string
	if len(pieces) == 2 && isWordFragment(pieces[0], pieces[1]) {
		text = pieces[0] + pieces[1]
	} else {
		text = strings.Join(pieces, " ")
	}

	first := group[0]
	return event.RawEvent{
		Timestamp: first.Timestamp,
		Type:      event.KindTextInput,
		App:       first.App,
		Payload:   event.TextPayload{Text: text},
	}
}

// isWordFragment reports whether a and b look like one word split by the
// capture source: together a single alphabetic token of at most 8 letters,
// with a <= 2 and b <= 6 letters, or a <= 4 and b <= 2.
func isWordFragment(a, b string) bool {
	la := utf8.RuneCountInString(a)
	lb := utf8.RuneCountInString(b)
	if la+lb > maxRepairedWordLen {
		return false
	}
	for _, r := range a + b {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return (la <= 2 && lb <= 6) || (la <= 4 && lb <= 2)
}

func sortByTime(events []event.RawEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
