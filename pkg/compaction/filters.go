package compaction

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/event"
)

// state is the working set of a single pass. It never outlives Run.
type state struct {
	lastSeen     map[event.Kind]time.Time
	scrolls      []time.Time
	lastSnapshot time.Time
	haveSnapshot bool
	recentKeys   map[event.Kind][]string
	keptClicks   map[clickKey]bool
	lastFocus    *focusMark
}

type clickKey struct {
	ts    int64
	label string
}

type focusMark struct {
	ts     time.Time
	app    string
	window string
}

func newState() *state {
	return &state{
		lastSeen:   make(map[event.Kind]time.Time),
		recentKeys: make(map[event.Kind][]string),
		keptClicks: make(map[clickKey]bool),
	}
}

// removeUseless is stage 1: type-specific keep/drop rules in arrival order.
func (c *Compactor) removeUseless(raw []event.RawEvent, st *state, stats *Stats) []event.RawEvent {
	out := make([]event.RawEvent, 0, len(raw)/2)

	for _, ev := range raw {
		reason := c.dropReason(ev, st)
		if reason != "" {
			stats.drop(reason)
			if reason == DropMalformed {
				c.log.WithFields(logrus.Fields{
					"type":    ev.Type,
					"payload": payloadName(ev.Payload),
				}).Warn("Skipping event with unexpected shape")
			}
			continue
		}
		out = append(out, ev)
	}

	return out
}

// dropReason returns "" when the event is kept
func (c *Compactor) dropReason(ev event.RawEvent, st *state) string {
	switch k := ev.Type; {
	case k.IsFocusChange():
		return c.focusRule(ev, st)

	case k.IsStructural():
		return ""

	case k.IsText():
		p, ok := ev.Payload.(event.TextPayload)
		if !ok {
			return DropMalformed
		}
		if strings.TrimSpace(p.Text) == "" {
			return DropEmptyText
		}
		return ""

	case k == event.KindScroll:
		return c.scrollRule(ev, st)

	case k == event.KindSnapshot:
		p, ok := ev.Payload.(event.SnapshotPayload)
		if !ok {
			return DropMalformed
		}
		return c.snapshotRule(ev, p, st)

	case k == event.KindEnhancedClick:
		return DropEnhancedClick

	case k == event.KindClick:
		p, ok := ev.Payload.(event.ClickPayload)
		if !ok {
			return DropMalformed
		}
		return clickRule(ev, p, st)

	default:
		return c.duplicateRule(ev, st)
	}
}

// focusRule drops a focus change that repeats one of the last few kept keys
// of the same kind. Every focus event, kept or not, updates the focus mark
// used by the snapshot rule.
func (c *Compactor) focusRule(ev event.RawEvent, st *state) string {
	var window string
	switch p := ev.Payload.(type) {
	case event.FocusPayload:
		window = p.Window
	case nil:
	default:
		return DropMalformed
	}

	app := ev.AppName()
	st.lastFocus = &focusMark{ts: ev.Timestamp, app: app, window: window}

	key := app
	if ev.Type == event.KindWindowChange && window != "" {
		key = window
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return ""
	}

	recent := st.recentKeys[ev.Type]
	for _, k := range recent {
		if k == key {
			return DropRepeatFocus
		}
	}

	recent = append(recent, key)
	if len(recent) > c.cfg.RecentChangeDepth {
		recent = recent[len(recent)-c.cfg.RecentChangeDepth:]
	}
	st.recentKeys[ev.Type] = recent
	return ""
}

// scrollRule keeps at most ScrollCap scrolls per rolling ScrollWindow.
// The ring holds kept timestamps; entries older than the window fall out first.
func (c *Compactor) scrollRule(ev event.RawEvent, st *state) string {
	cutoff := ev.Timestamp.Add(-c.cfg.ScrollWindow)

	live := st.scrolls[:0]
	for _, ts := range st.scrolls {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}
	st.scrolls = live

	if len(st.scrolls) >= c.cfg.ScrollCap {
		return DropScrollCap
	}
	st.scrolls = append(st.scrolls, ev.Timestamp)
	return ""
}

func (c *Compactor) snapshotRule(ev event.RawEvent, p event.SnapshotPayload, st *state) string {
	title := strings.TrimSpace(p.Title)
	url := strings.TrimSpace(p.URL)
	preview := strings.TrimSpace(p.Preview)

	if utf8.RuneCountInString(preview) <= 10 && title == "" && url == "" {
		return DropTrivialSnapshot
	}

	if st.haveSnapshot && ev.Timestamp.Sub(st.lastSnapshot) < c.cfg.SnapshotMinInterval {
		return DropSnapshotInterval
	}

	if title != "" && c.isGenericTitle(title) {
		return DropGenericTitle
	}

	if f := st.lastFocus; f != nil && absDuration(ev.Timestamp.Sub(f.ts)) <= c.cfg.ActiveAppWindow {
		if !matchesFocus(ev.AppName(), title, f) {
			return DropBackgroundSnapshot
		}
	}

	st.lastSnapshot = ev.Timestamp
	st.haveSnapshot = true
	return ""
}

// matchesFocus compares by app when both sides name one, otherwise by window
// title. With nothing to compare the snapshot is assumed to be foreground.
func matchesFocus(app, title string, f *focusMark) bool {
	if app != "" && f.app != "" {
		return strings.EqualFold(app, f.app)
	}
	if title != "" && f.window != "" {
		return strings.EqualFold(title, f.window)
	}
	return true
}

func (c *Compactor) isGenericTitle(title string) bool {
	for _, g := range c.cfg.GenericTitles {
		if strings.EqualFold(title, g) {
			return true
		}
	}
	return false
}

func clickRule(ev event.RawEvent, p event.ClickPayload, st *state) string {
	label := strings.TrimSpace(p.Label)
	if strings.TrimSpace(p.Role) == "" && label == "" {
		return DropEmptyClick
	}

	key := clickKey{ts: ev.Timestamp.UnixNano(), label: label}
	if st.keptClicks[key] {
		return DropDuplicateClick
	}
	st.keptClicks[key] = true
	return ""
}

// duplicateRule drops an event when the same kind occurred within
// DuplicateWindow. Every occurrence refreshes the last-seen time.
func (c *Compactor) duplicateRule(ev event.RawEvent, st *state) string {
	last, seen := st.lastSeen[ev.Type]
	st.lastSeen[ev.Type] = ev.Timestamp

	if seen && absDuration(ev.Timestamp.Sub(last)) < c.cfg.DuplicateWindow {
		return DropDuplicate
	}
	return ""
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func payloadName(p event.Payload) string {
	switch p.(type) {
	case nil:
		return "none"
	case event.TextPayload:
		return "text"
	case event.ClickPayload:
		return "click"
	case event.SnapshotPayload:
		return "snapshot"
	case event.FocusPayload:
		return "focus"
	case event.ScrollPayload:
		return "scroll"
	case event.NetworkPayload:
		return "network"
	case event.Opaque:
		return "opaque"
	default:
		return "unknown"
	}
}
