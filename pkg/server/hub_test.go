package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfocus/pkg/logger"
)

func TestNotificationHub_SessionFilter(t *testing.T) {
	hub := NewNotificationHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	dial := func(query string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(url+query, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	a := dial("?session=a")
	b := dial("?session=b")
	all := dial("")
	require.Eventually(t, func() bool { return hub.Clients() == 3 }, 2*time.Second, 5*time.Millisecond)

	read := func(conn *websocket.Conn, wait time.Duration) (string, error) {
		conn.SetReadDeadline(time.Now().Add(wait))
		_, msg, err := conn.ReadMessage()
		return string(msg), err
	}

	require.NoError(t, hub.Publish("a", map[string]int{"chunk": 1}))

	msg, err := read(a, 2*time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"chunk":1}`, msg)

	msg, err = read(all, 2*time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"chunk":1}`, msg)

	_, err = read(b, 100*time.Millisecond)
	require.Error(t, err)
}

func TestNotificationHub_ShutdownClosesClients(t *testing.T) {
	hub := NewNotificationHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, hub.HasClients, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !hub.HasClients() }, 2*time.Second, 5*time.Millisecond)
}
