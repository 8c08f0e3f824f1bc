package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfocus/pkg/clock"
)

type recorder struct {
	mu      sync.Mutex
	reasons []Reason
	pending bool
}

func (r *recorder) flush(reason Reason) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return r.pending
}

func (r *recorder) calls() []Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reason(nil), r.reasons...)
}

func newTestScheduler(t *testing.T, interval time.Duration, rec *recorder) (*Scheduler, *clock.Manual) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	clk := clock.NewManual(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	s, err := New(clk, interval, rec.flush, log)
	require.NoError(t, err)
	return s, clk
}

func TestNew_RejectsInvalidInterval(t *testing.T) {
	_, err := New(nil, 0, func(Reason) bool { return false }, nil)
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestScheduler_TimerFlush(t *testing.T) {
	rec := &recorder{}
	s, clk := newTestScheduler(t, 10*time.Minute, rec)

	s.Start(context.Background())
	defer s.Stop()

	clk.Advance(9 * time.Minute)
	require.Never(t, func() bool { return len(rec.calls()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(rec.calls()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, ReasonTimer, rec.calls()[0])
	require.Equal(t, Idle, s.State())
}

func TestScheduler_RequestWhileInProgressIsNoop(t *testing.T) {
	rec := &recorder{pending: true}
	s, _ := newTestScheduler(t, 10*time.Minute, rec)
	ctx := context.Background()

	s.Start(ctx)
	defer s.Stop()

	ran, err := s.RequestWait(ctx, ReasonManual)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, FlushInProgress, s.State())

	ran, err = s.RequestWait(ctx, ReasonEmergency)
	require.NoError(t, err)
	require.False(t, ran)
	require.Len(t, rec.calls(), 1)

	s.Complete()
	require.Equal(t, Idle, s.State())

	ran, err = s.RequestWait(ctx, ReasonManual)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, []Reason{ReasonManual, ReasonManual}, rec.calls())
}

func TestScheduler_Request(t *testing.T) {
	rec := &recorder{}
	s, _ := newTestScheduler(t, time.Hour, rec)

	require.False(t, s.Request(ReasonManual), "not running")

	s.Start(context.Background())
	defer s.Stop()

	require.True(t, s.Request(ReasonManual))
	require.Eventually(t, func() bool { return len(rec.calls()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_SetInterval(t *testing.T) {
	rec := &recorder{}
	s, clk := newTestScheduler(t, 10*time.Minute, rec)

	s.Start(context.Background())
	defer s.Stop()

	require.ErrorIs(t, s.SetInterval(0), ErrInvalidInterval)
	require.ErrorIs(t, s.SetInterval(-time.Minute), ErrInvalidInterval)
	require.Equal(t, 10*time.Minute, s.Interval())

	require.NoError(t, s.SetInterval(time.Minute))
	require.Equal(t, time.Minute, s.Interval())
	require.Equal(t, 1, clk.Tickers())

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(rec.calls()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_SetIntervalWhileStopped(t *testing.T) {
	rec := &recorder{}
	s, clk := newTestScheduler(t, 10*time.Minute, rec)

	require.NoError(t, s.SetInterval(2*time.Minute))

	s.Start(context.Background())
	defer s.Stop()

	clk.Advance(2 * time.Minute)
	require.Eventually(t, func() bool { return len(rec.calls()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopAndRunFinal(t *testing.T) {
	rec := &recorder{}
	s, clk := newTestScheduler(t, time.Minute, rec)

	s.Start(context.Background())
	require.True(t, s.Running())

	s.Stop()
	s.Stop()
	require.False(t, s.Running())
	require.Equal(t, 0, clk.Tickers())

	_, err := s.RequestWait(context.Background(), ReasonManual)
	require.ErrorIs(t, err, ErrNotRunning)

	clk.Advance(5 * time.Minute)
	require.True(t, s.RunFinal(ReasonFinal))
	require.Equal(t, []Reason{ReasonFinal}, rec.calls())
}

func TestScheduler_ContextCancelStopsLoop(t *testing.T) {
	rec := &recorder{}
	s, _ := newTestScheduler(t, time.Minute, rec)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestState_String(t *testing.T) {
	require.Equal(t, "idle", Idle.String())
	require.Equal(t, "flush_in_progress", FlushInProgress.String())
}
