// Package session holds the tracked session and its running metrics.
package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cap on the time one event can attribute to its app
const maxAppGap = 60 * time.Second

// Session is one tracking session. A pipeline has at most one active.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
	DailyGoal string    `json:"daily_goal,omitempty"`
	Active    bool      `json:"active"`
}

// New creates an active session. An empty id gets a generated one.
func New(id, userID, dailyGoal string, now time.Time) Session {
	if id == "" {
		id = uuid.NewString()
	}
	return Session{
		ID:        id,
		UserID:    userID,
		StartedAt: now,
		DailyGoal: dailyGoal,
		Active:    true,
	}
}

// Metrics are per-session counters
type Metrics struct {
	RawEvents        int                `json:"raw_events"`
	OptimizedEvents  int                `json:"optimized_events"`
	Chunks           int                `json:"chunks"`
	FailedChunks     int                `json:"failed_chunks"`
	EmergencyFlushes int                `json:"emergency_flushes"`
	DroppedEvents    int                `json:"dropped_events"`
	AppSeconds       map[string]float64 `json:"app_seconds,omitempty"`

	lastSeen map[string]time.Time
}

// NewMetrics returns zeroed metrics
func NewMetrics() Metrics {
	return Metrics{AppSeconds: make(map[string]float64)}
}

// CompressionRatio is raw/optimized, 0 before anything was optimized
func (m *Metrics) CompressionRatio() float64 {
	if m.OptimizedEvents == 0 {
		return 0
	}
	return float64(m.RawEvents) / float64(m.OptimizedEvents)
}

// ObserveApp attributes the time since the app was last seen to it, capped at
// one minute. Out-of-order timestamps attribute nothing.
func (m *Metrics) ObserveApp(app string, ts time.Time) {
	app = strings.TrimSpace(app)
	if app == "" {
		return
	}
	if m.AppSeconds == nil {
		m.AppSeconds = make(map[string]float64)
	}
	if m.lastSeen == nil {
		m.lastSeen = make(map[string]time.Time)
	}

	if last, ok := m.lastSeen[app]; ok {
		gap := ts.Sub(last)
		if gap < 0 {
			return
		}
		if gap > maxAppGap {
			gap = maxAppGap
		}
		m.AppSeconds[app] += gap.Seconds()
	} else if _, ok := m.AppSeconds[app]; !ok {
		m.AppSeconds[app] = 0
	}
	m.lastSeen[app] = ts
}

// AppUsage is one entry of TopApps
type AppUsage struct {
	App     string  `json:"app"`
	Seconds float64 `json:"seconds"`
}

// TopApps returns up to n apps by active time, ties by name
func (m *Metrics) TopApps(n int) []AppUsage {
	out := make([]AppUsage, 0, len(m.AppSeconds))
	for app, secs := range m.AppSeconds {
		out = append(out, AppUsage{App: app, Seconds: secs})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds > out[j].Seconds
		}
		return out[i].App < out[j].App
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Clone returns a deep copy safe to hand out of a lock
func (m *Metrics) Clone() Metrics {
	c := *m
	c.AppSeconds = make(map[string]float64, len(m.AppSeconds))
	for k, v := range m.AppSeconds {
		c.AppSeconds[k] = v
	}
	c.lastSeen = make(map[string]time.Time, len(m.lastSeen))
	for k, v := range m.lastSeen {
		c.lastSeen[k] = v
	}
	return c
}

// ContextText summarizes the session for the analysis service
func ContextText(s Session, m *Metrics) string {
	var b strings.Builder
	if s.DailyGoal != "" {
		fmt.Fprintf(&b, "Daily goal: %s\n", s.DailyGoal)
	}
	top := m.TopApps(5)
	if len(top) > 0 {
		b.WriteString("Most active apps:")
		for _, u := range top {
			fmt.Fprintf(&b, " %s (%.0fm)", u.App, u.Seconds/60)
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
