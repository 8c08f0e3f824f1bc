package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/config"
	"github.com/nicktill/tinyfocus/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header = direct connection (capture agents, curl, tests)
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// subscriber is one notification socket. An empty session receives everything.
type subscriber struct {
	conn    *websocket.Conn
	session string
}

type envelope struct {
	session string
	payload []byte
}

// NotificationHub fans analysis notifications out to WebSocket subscribers
type NotificationHub struct {
	subs       map[*websocket.Conn]string
	register   chan subscriber
	unregister chan *websocket.Conn
	publish    chan envelope
	log        logrus.FieldLogger

	mu sync.RWMutex
}

// NewNotificationHub creates a new hub. Run must be started before clients connect.
func NewNotificationHub(log logrus.FieldLogger) *NotificationHub {
	return &NotificationHub{
		subs:       make(map[*websocket.Conn]string),
		register:   make(chan subscriber, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		publish:    make(chan envelope, config.WSBroadcastBuffer),
		log:        log.WithField("component", "hub"),
	}
}

// Run owns subscriber writes until ctx is done
func (h *NotificationHub) Run(ctx context.Context) {
	defer metrics.NotificationClients.Set(0)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.subs {
				conn.Close()
			}
			h.subs = make(map[*websocket.Conn]string)
			h.mu.Unlock()
			return

		case s := <-h.register:
			count := h.add(s)
			h.log.WithFields(logrus.Fields{
				"clients": count,
				"session": s.session,
			}).Info("Notification subscriber connected")

		case conn := <-h.unregister:
			if count, ok := h.remove(conn); ok {
				h.log.WithField("clients", count).Info("Notification subscriber disconnected")
			}

		case env := <-h.publish:
			for _, conn := range h.deliver(env) {
				h.remove(conn)
			}
		}
	}
}

func (h *NotificationHub) add(s subscriber) int {
	h.mu.Lock()
	h.subs[s.conn] = s.session
	count := len(h.subs)
	h.mu.Unlock()
	metrics.NotificationClients.Set(float64(count))
	return count
}

func (h *NotificationHub) remove(conn *websocket.Conn) (int, bool) {
	h.mu.Lock()
	_, ok := h.subs[conn]
	if ok {
		delete(h.subs, conn)
		conn.Close()
	}
	count := len(h.subs)
	h.mu.Unlock()
	metrics.NotificationClients.Set(float64(count))
	return count, ok
}

// deliver writes env to every matching subscriber and returns the ones that failed
func (h *NotificationHub) deliver(env envelope) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var failed []*websocket.Conn
	for conn, session := range h.subs {
		if session != "" && session != env.session {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, env.payload); err != nil {
			h.log.WithError(err).Debug("WebSocket write failed")
			failed = append(failed, conn)
		}
	}
	return failed
}

// Publish queues data for the subscribers of sessionID and for unfiltered
// subscribers. A full queue drops the message.
func (h *NotificationHub) Publish(sessionID string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.publish <- envelope{session: sessionID, payload: payload}:
	default:
		h.log.WithField("session", sessionID).Warn("Notification queue full, dropping message")
	}
	return nil
}

// Clients returns the number of connected subscribers
func (h *NotificationHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// HasClients returns true if any subscriber is connected
func (h *NotificationHub) HasClients() bool {
	return h.Clients() > 0
}

// ServeWS handles GET /v1/ws. The optional ?session= query narrows the
// stream to one session.
func (h *NotificationHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	h.register <- subscriber{conn: conn, session: session}

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		h.unregister <- conn
	}()

	go keepAlive(ctx, conn)

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	// Subscribers only listen; reading drives control frames and detects close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("WebSocket closed")
			}
			return
		}
	}
}

// keepAlive pings until ctx is done or a write fails
func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(config.WSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(config.WSWriteDeadline)); err != nil {
				return
			}
		}
	}
}
