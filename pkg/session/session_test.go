package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	s := New("", "u1", "ship it", t0)
	require.NotEmpty(t, s.ID)
	require.True(t, s.Active)
	require.Equal(t, t0, s.StartedAt)

	s = New("fixed", "u1", "", t0)
	require.Equal(t, "fixed", s.ID)
}

func TestObserveApp(t *testing.T) {
	m := NewMetrics()

	m.ObserveApp("Slack", t0)
	m.ObserveApp("Slack", t0.Add(20*time.Second))
	m.ObserveApp("Slack", t0.Add(5*time.Minute))   // capped at 60s
	m.ObserveApp("Slack", t0.Add(4*time.Minute))   // out of order
	m.ObserveApp("Chrome", t0.Add(10*time.Second)) // first sighting
	m.ObserveApp("", t0)

	require.InDelta(t, 80.0, m.AppSeconds["Slack"], 0.001)
	require.InDelta(t, 0.0, m.AppSeconds["Chrome"], 0.001)
	require.Len(t, m.AppSeconds, 2)
}

func TestTopApps(t *testing.T) {
	m := Metrics{AppSeconds: map[string]float64{"a": 10, "b": 30, "c": 30, "d": 5}}

	top := m.TopApps(3)
	require.Equal(t, []AppUsage{{"b", 30}, {"c", 30}, {"a", 10}}, top)
	require.Len(t, m.TopApps(0), 4)
}

func TestCompressionRatio(t *testing.T) {
	m := NewMetrics()
	require.Equal(t, 0.0, m.CompressionRatio())

	m.RawEvents = 500
	m.OptimizedEvents = 80
	require.InDelta(t, 6.25, m.CompressionRatio(), 0.0001)
}

func TestClone(t *testing.T) {
	m := NewMetrics()
	m.ObserveApp("Slack", t0)
	m.ObserveApp("Slack", t0.Add(30*time.Second))

	c := m.Clone()
	m.ObserveApp("Slack", t0.Add(60*time.Second))

	require.InDelta(t, 30.0, c.AppSeconds["Slack"], 0.001)
	require.InDelta(t, 60.0, m.AppSeconds["Slack"], 0.001)
}

func TestContextText(t *testing.T) {
	m := Metrics{AppSeconds: map[string]float64{"Slack": 600, "Chrome": 120}}
	s := Session{DailyGoal: "finish Q3 report"}

	require.Equal(t, "Daily goal: finish Q3 report\nMost active apps: Slack (10m) Chrome (2m)", ContextText(s, &m))

	empty := NewMetrics()
	require.Equal(t, "", ContextText(Session{}, &empty))
}
