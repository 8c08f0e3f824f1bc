package persistence

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/clock"
	"github.com/nicktill/tinyfocus/pkg/event"
	"github.com/nicktill/tinyfocus/pkg/session"
	"github.com/nicktill/tinyfocus/pkg/storage"
	"github.com/nicktill/tinyfocus/pkg/storage/memory"
)

var now0 = time.Date(2025, 4, 7, 8, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestGuard(t *testing.T) (*Guard, *clock.Manual, *memory.Store) {
	t.Helper()
	clk := clock.NewManual(now0)
	store := memory.NewWithClock(clk)
	return New(store, nil, clk, quietLogger(), Options{Namespace: "tf"}), clk, store
}

func rawEvents(n int) []event.RawEvent {
	out := make([]event.RawEvent, n)
	for i := range out {
		out[i] = event.RawEvent{
			Timestamp: now0.Add(time.Duration(i) * time.Second),
			Type:      event.KindTextInput,
			Payload:   event.TextPayload{Text: "x"},
		}
	}
	return out
}

func TestGuard_Key(t *testing.T) {
	g, _, _ := newTestGuard(t)
	require.Equal(t, "tf_tracker_data_abc", g.Key("abc"))
}

func TestGuard_SaveAndLoad(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	snap := Snapshot{
		Session:     session.New("s1", "u1", "goal", now0),
		ChunkNumber: 4,
		RawBuffer:   rawEvents(250),
		Metrics:     session.Metrics{RawEvents: 250, AppSeconds: map[string]float64{"Slack": 30}},
	}
	require.NoError(t, g.Save(ctx, snap))

	got, err := g.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 4, got.ChunkNumber)
	require.Len(t, got.RawBuffer, 100)
	require.True(t, got.RawBuffer[0].Timestamp.Equal(now0.Add(150*time.Second)), "keeps the newest tail")
	require.Equal(t, 250, got.Metrics.RawEvents)
	require.Equal(t, now0, got.Timestamp)
	require.True(t, g.HasRecoverableData(ctx, "s1"))
}

func TestGuard_Staleness(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	snap := Snapshot{
		Session:   session.New("old", "u1", "", now0.Add(-26*time.Hour)),
		Timestamp: now0.Add(-25 * time.Hour),
	}
	require.NoError(t, g.Save(ctx, snap))

	_, err := g.Load(ctx, "old")
	require.ErrorIs(t, err, ErrStale)
	require.False(t, g.HasRecoverableData(ctx, "old"))
}

func TestGuard_ExpiresAfterMaxAge(t *testing.T) {
	g, clk, _ := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, g.Save(ctx, Snapshot{Session: session.New("s1", "u1", "", now0)}))
	require.True(t, g.HasRecoverableData(ctx, "s1"))

	clk.Advance(25 * time.Hour)
	require.False(t, g.HasRecoverableData(ctx, "s1"))
}

func TestGuard_InactiveSessionNotRecoverable(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	s := session.New("s1", "u1", "", now0)
	s.Active = false
	require.NoError(t, g.Save(ctx, Snapshot{Session: s}))
	require.False(t, g.HasRecoverableData(ctx, "s1"))
	require.False(t, g.HasRecoverableData(ctx, "missing"))
}

func TestGuard_ClearAndList(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, g.Save(ctx, Snapshot{Session: session.New("a", "u", "", now0)}))
	require.NoError(t, g.Save(ctx, Snapshot{Session: session.New("b", "u", "", now0)}))

	ids, err := g.Recoverable(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, g.Clear(ctx, "a"))
	_, err = g.Load(ctx, "a")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGuard_Autosave(t *testing.T) {
	g, clk, _ := newTestGuard(t)
	ctx := context.Background()

	var active atomic.Bool
	provider := func() (Snapshot, bool) {
		if !active.Load() {
			return Snapshot{}, false
		}
		return Snapshot{Session: session.New("s1", "u1", "", now0), ChunkNumber: 2}, true
	}

	g.Start(ctx, provider)
	defer g.Stop()

	clk.Advance(30 * time.Second)
	require.Never(t, func() bool { return g.HasRecoverableData(ctx, "s1") }, 50*time.Millisecond, 5*time.Millisecond)

	active.Store(true)
	clk.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return g.HasRecoverableData(ctx, "s1") }, time.Second, 5*time.Millisecond)
}

type failingStore struct {
	storage.Store
	puts atomic.Int32
}

func (f *failingStore) Put(context.Context, string, []byte, time.Duration) error {
	f.puts.Add(1)
	return errors.New("disk full")
}

func TestGuard_AutosaveSurvivesErrors(t *testing.T) {
	clk := clock.NewManual(now0)
	store := &failingStore{Store: memory.New()}
	g := New(store, nil, clk, quietLogger(), Options{})

	g.Start(context.Background(), func() (Snapshot, bool) {
		return Snapshot{Session: session.New("s1", "u1", "", now0)}, true
	})
	defer g.Stop()

	clk.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return store.puts.Load() == 1 }, time.Second, 5*time.Millisecond)
	clk.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return store.puts.Load() == 2 }, time.Second, 5*time.Millisecond)
}

type fakeRecorder struct {
	results  []*analysis.Result
	sessions []session.Session
	ended    []string
}

func (f *fakeRecorder) SaveResult(_ context.Context, r *analysis.Result) error {
	f.results = append(f.results, r)
	return nil
}

func (f *fakeRecorder) SaveSession(_ context.Context, s session.Session) error {
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeRecorder) EndSession(_ context.Context, id string, _ time.Time, _ session.Metrics) error {
	f.ended = append(f.ended, id)
	return nil
}

func TestGuard_RecordsThrough(t *testing.T) {
	rec := &fakeRecorder{}
	g := New(memory.New(), rec, clock.NewManual(now0), quietLogger(), Options{})
	ctx := context.Background()

	require.NoError(t, g.RecordSessionStart(ctx, session.New("s1", "u1", "", now0)))
	require.NoError(t, g.RecordResult(ctx, &analysis.Result{SessionID: "s1", ChunkNumber: 1}))
	require.NoError(t, g.RecordResult(ctx, nil))
	require.NoError(t, g.RecordSessionEnd(ctx, "s1", session.NewMetrics()))

	require.Len(t, rec.sessions, 1)
	require.Len(t, rec.results, 1)
	require.Equal(t, []string{"s1"}, rec.ended)

	bare := New(memory.New(), nil, nil, quietLogger(), Options{})
	require.NoError(t, bare.RecordResult(ctx, &analysis.Result{}))
}
