package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/clock"
	"github.com/nicktill/tinyfocus/pkg/config"
	"github.com/nicktill/tinyfocus/pkg/logger"
	"github.com/nicktill/tinyfocus/pkg/persistence"
	"github.com/nicktill/tinyfocus/pkg/pipeline"
	"github.com/nicktill/tinyfocus/pkg/results"
	"github.com/nicktill/tinyfocus/pkg/server"
	"github.com/nicktill/tinyfocus/pkg/storage/badger"
)

// analysisService is a stand-in for the remote analysis endpoint
type analysisService struct {
	mu   sync.Mutex
	reqs []analysis.Request
}

func (a *analysisService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req analysis.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	a.reqs = append(a.reqs, req)
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"on_task":true,"distractions":[]}`)
}

func (a *analysisService) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reqs)
}

type stack struct {
	router *mux.Router
	p      *pipeline.Pipeline
	guard  *persistence.Guard
	close  func()
}

func newStack(t *testing.T, dir, analysisURL string, clk clock.Clock) *stack {
	t.Helper()
	log := logger.Discard()

	store, err := badger.New(badger.Config{Path: filepath.Join(dir, "snapshots")})
	require.NoError(t, err)
	rs, err := results.Open(filepath.Join(dir, "results.db"))
	require.NoError(t, err)

	guard := persistence.New(store, rs, clk, log, persistence.DefaultOptions())
	p, err := pipeline.New(config.Defaults(), pipeline.Deps{
		Analyzer: analysis.NewHTTP(analysisURL, "test-key"),
		Guard:    guard,
		Clock:    clk,
		Logger:   log,
	})
	require.NoError(t, err)

	hub := server.NewNotificationHub(log)
	router := mux.NewRouter()
	server.SetupRoutes(router, server.NewHandler(p, guard, rs, nil, log), hub, "8080", log)

	return &stack{
		router: router,
		p:      p,
		guard:  guard,
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = p.Wait(ctx)
			rs.Close()
			store.Close()
		},
	}
}

func (s *stack) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func wordFragments(n int, start time.Time) string {
	var evs []map[string]interface{}
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * 30 * time.Second)
		evs = append(evs,
			map[string]interface{}{"timestamp": ts.Format(time.RFC3339), "type": "text_input", "app": "Docs", "data": map[string]string{"text": "s"}},
			map[string]interface{}{"timestamp": ts.Add(time.Second).Format(time.RFC3339), "type": "text_input", "app": "Docs", "data": map[string]string{"text": "ales"}},
			map[string]interface{}{"timestamp": ts.Format(time.RFC3339), "type": "enhanced_click", "data": map[string]string{"element_label": "Bold"}},
		)
	}
	b, _ := json.Marshal(evs)
	return string(b)
}

func TestE2E_CompactAndAnalyze(t *testing.T) {
	svc := &analysisService{}
	remote := httptest.NewServer(svc)
	defer remote.Close()

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s := newStack(t, t.TempDir(), remote.URL, clock.NewManual(start))
	defer s.close()

	w := s.do(t, "POST", "/v1/session/start", `{"session_id":"e2e","user_id":"u1","daily_goal":"quarterly report"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, "POST", "/v1/events", wordFragments(10, start))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(t, "POST", "/v1/flush", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool { return svc.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return s.p.GetStatus().Metrics.Chunks == 1 }, 5*time.Second, 10*time.Millisecond)

	svc.mu.Lock()
	req := svc.reqs[0]
	svc.mu.Unlock()
	require.Equal(t, 1, req.ChunkNumber)
	require.Len(t, req.Events, 10)
	for _, ev := range req.Events {
		require.Equal(t, "sales", ev.Text)
	}
	require.Contains(t, req.Context, "quarterly report")

	w = s.do(t, "POST", "/v1/session/stop", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, "GET", "/v1/results/e2e", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sr server.SessionResults
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sr))
	require.Len(t, sr.Results, 1)
	require.JSONEq(t, `{"on_task":true,"distractions":[]}`, string(sr.Results[0].Assessment))
	require.Equal(t, 30, sr.Session.Metrics.RawEvents)
	require.Equal(t, 10, sr.Session.Metrics.OptimizedEvents)
}

func TestE2E_ResumeAfterRestart(t *testing.T) {
	svc := &analysisService{}
	remote := httptest.NewServer(svc)
	defer remote.Close()

	dir := t.TempDir()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)

	first := newStack(t, dir, remote.URL, clk)
	w := first.do(t, "POST", "/v1/session/start", `{"session_id":"crash","user_id":"u1"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w = first.do(t, "POST", "/v1/events", wordFragments(3, start))
	require.Equal(t, http.StatusAccepted, w.Code)

	clk.Advance(config.AutosaveInterval)
	require.Eventually(t, func() bool {
		return first.guard.HasRecoverableData(context.Background(), "crash")
	}, 5*time.Second, 10*time.Millisecond)

	// hand the session over to a fresh process
	require.NoError(t, first.p.Detach(context.Background()))
	first.close()

	second := newStack(t, dir, remote.URL, clk)
	defer second.close()

	w = second.do(t, "GET", "/v1/session/recoverable/crash", "")
	require.JSONEq(t, `{"session_id":"crash","recoverable":true}`, w.Body.String())

	w = second.do(t, "POST", "/v1/session/resume/crash", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 9, second.p.GetStatus().RawBuffered)

	w = second.do(t, "POST", "/v1/flush", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool { return svc.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	w = second.do(t, "POST", "/v1/session/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestE2E_StaleSnapshotRejected(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)

	s := newStack(t, dir, "", clk)
	defer s.close()

	w := s.do(t, "POST", "/v1/session/start", `{"session_id":"old","user_id":"u1"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(t, "POST", "/v1/events", wordFragments(1, start))
	require.Equal(t, http.StatusAccepted, w.Code)

	clk.Advance(config.AutosaveInterval)
	require.Eventually(t, func() bool {
		return s.guard.HasRecoverableData(context.Background(), "old")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.p.Detach(context.Background()))
	clk.Advance(25 * time.Hour)

	w = s.do(t, "GET", "/v1/session/recoverable/old", "")
	require.JSONEq(t, `{"session_id":"old","recoverable":false}`, w.Body.String())
}
