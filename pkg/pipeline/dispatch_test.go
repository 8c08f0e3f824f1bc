package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/clock"
	"github.com/nicktill/tinyfocus/pkg/event"
	"github.com/nicktill/tinyfocus/pkg/logger"
	"github.com/nicktill/tinyfocus/pkg/monitor"
	"github.com/nicktill/tinyfocus/pkg/sequencer"
)

type resultSink struct {
	n int
}

func (r *resultSink) RecordResult(context.Context, *analysis.Result) error {
	r.n++
	return nil
}

func testChunk(n int) sequencer.Chunk {
	return sequencer.Chunk{
		SessionID: "s1",
		UserID:    "u1",
		Number:    n,
		Events: []event.OptimizedEvent{{
			Timestamp: t0,
			Type:      event.KindPageView,
		}},
		CreatedAt: t0,
	}
}

func TestDispatcher_DuplicateChunkSkipped(t *testing.T) {
	a := &fakeAnalyzer{}
	seq := sequencer.New()
	sink := &resultSink{}
	var notes []Notification
	d := NewDispatcher(a, seq, nil, sink, func(n Notification) { notes = append(notes, n) }, clock.NewManual(t0), logger.Discard())

	res, err := d.Dispatch(context.Background(), testChunk(1), "")
	require.NoError(t, err)
	require.Equal(t, "s1", res.SessionID)
	require.Equal(t, 1, res.ChunkNumber)
	require.Equal(t, t0, res.ReceivedAt)

	_, err = d.Dispatch(context.Background(), testChunk(1), "")
	require.ErrorIs(t, err, ErrDuplicateChunk)

	require.Len(t, a.requests(), 1)
	require.Equal(t, 1, sink.n)
	require.Len(t, notes, 1)
	require.Equal(t, NotifyResult, notes[0].Type)
}

func TestDispatcher_FailureReleasesClaim(t *testing.T) {
	a := &fakeAnalyzer{fail: 1}
	seq := sequencer.New()
	mon := monitor.NewDispatchMonitor(clock.NewManual(t0))
	var notes []Notification
	d := NewDispatcher(a, seq, mon, nil, func(n Notification) { notes = append(notes, n) }, clock.NewManual(t0), logger.Discard())

	_, err := d.Dispatch(context.Background(), testChunk(3), "")
	require.Error(t, err)
	require.False(t, seq.IsDuplicate("s1", 3))
	require.Equal(t, 1, mon.Status().Failures)
	require.Equal(t, NotifyFailed, notes[0].Type)
	require.Contains(t, notes[0].Error, "service unavailable")

	_, err = d.Dispatch(context.Background(), testChunk(3), "")
	require.NoError(t, err)
	require.True(t, seq.IsDuplicate("s1", 3))
	require.Equal(t, 0, mon.Status().ConsecutiveErrors)
	require.True(t, mon.IsHealthy())
}

func TestDispatcher_StampsReceiptWithInjectedClock(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":true}`)
	}))
	defer remote.Close()

	clk := clock.NewManual(t0.Add(42 * time.Minute))
	d := NewDispatcher(analysis.NewHTTP(remote.URL, ""), sequencer.New(), nil, &resultSink{}, func(Notification) {}, clk, logger.Discard())

	res, err := d.Dispatch(context.Background(), testChunk(1), "")
	require.NoError(t, err)
	require.Equal(t, t0.Add(42*time.Minute), res.ReceivedAt)
}
