package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManual_Advance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	tk := m.NewTicker(time.Minute)
	defer tk.Stop()

	m.Advance(30 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	m.Advance(30 * time.Second)
	select {
	case got := <-tk.C():
		require.Equal(t, start.Add(time.Minute), got)
	default:
		t.Fatal("ticker did not fire")
	}

	require.Equal(t, start.Add(time.Minute), m.Now())
}

func TestManual_CoalescesMissedTicks(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	tk := m.NewTicker(time.Second)

	m.Advance(10 * time.Second)

	<-tk.C()
	select {
	case <-tk.C():
		t.Fatal("expected a single pending tick")
	default:
	}
}

func TestManual_Stop(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	tk := m.NewTicker(time.Second)
	require.Equal(t, 1, m.Tickers())

	tk.Stop()
	require.Equal(t, 0, m.Tickers())

	m.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestReal(t *testing.T) {
	var c Clock = Real{}
	tk := c.NewTicker(5 * time.Millisecond)
	defer tk.Stop()

	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never fired")
	}
	require.WithinDuration(t, time.Now(), c.Now(), time.Second)
}
