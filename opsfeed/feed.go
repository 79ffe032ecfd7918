package opsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldsafe/riskreactor/reactor"
)

const (
	// Envelope types on the wire.
	envelopeAlert    = "alert"
	envelopeSnapshot = "snapshot"

	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second

	// clientQueueSize bounds the per-client send queue; a full queue
	// means the client is too slow and gets disconnected.
	clientQueueSize = 64
)

// Envelope wraps every message sent to a client.
type Envelope struct {
	Type      string          `json:"type"`
	ID        uint64          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type client struct {
	conn  *websocket.Conn
	send  chan Envelope
	close sync.Once
}

// Feed broadcasts alerts to websocket subscribers. It satisfies
// reactor.AlertSink.
type Feed struct {
	log      *slog.Logger
	drops    *reactor.DropLog
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	nextID atomic.Uint64
	sent   atomic.Int64
}

// NewFeed builds a feed. The drop log, when given, is replayed to each
// client on connect so a fresh dashboard sees recent history.
func NewFeed(log *slog.Logger, drops *reactor.DropLog) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{
		log:     log.With("component", "opsfeed"),
		drops:   drops,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The feed is same-origin behind the service's own mux.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Publish fans an alert out to every connected client. Implements
// reactor.AlertSink; it never blocks the reactor worker.
func (f *Feed) Publish(_ context.Context, alert reactor.Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		f.log.Error("alert encode failed", "error", err)
		return
	}
	env := Envelope{
		Type:      envelopeAlert,
		ID:        f.nextID.Add(1),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.clients {
		select {
		case c.send <- env:
		default:
			// Slow client; disconnect it off the hot path.
			go f.remove(c, "send queue full")
		}
	}
}

// Clients reports the current subscriber count.
func (f *Feed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Sent reports the total envelopes written, for health metrics.
func (f *Feed) Sent() int64 { return f.sent.Load() }

// Handler upgrades connections and serves the feed.
func (f *Feed) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			f.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		c := &client{conn: conn, send: make(chan Envelope, clientQueueSize)}

		f.mu.Lock()
		f.clients[c] = struct{}{}
		f.mu.Unlock()
		f.log.Debug("client connected", "remote", r.RemoteAddr)

		f.sendSnapshot(c)
		go f.writeLoop(c)
		go f.readLoop(c)
	})
}

// Close disconnects every client.
func (f *Feed) Close() {
	f.mu.Lock()
	clients := make([]*client, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()
	for _, c := range clients {
		f.remove(c, "feed closing")
	}
}

// sendSnapshot queues the retained drop history as one envelope.
func (f *Feed) sendSnapshot(c *client) {
	if f.drops == nil {
		return
	}
	recent := f.drops.Recent()
	if len(recent) == 0 {
		return
	}
	payload, err := json.Marshal(recent)
	if err != nil {
		return
	}
	select {
	case c.send <- Envelope{
		Type:      envelopeSnapshot,
		ID:        f.nextID.Add(1),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}:
	default:
	}
}

func (f *Feed) writeLoop(c *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				f.remove(c, "write failed")
				return
			}
			f.sent.Add(1)
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.remove(c, "ping failed")
				return
			}
		}
	}
}

// readLoop drains client frames so pongs and close frames are
// processed; the feed itself is write-only.
func (f *Feed) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			f.remove(c, "client gone")
			return
		}
	}
}

func (f *Feed) remove(c *client, reason string) {
	f.mu.Lock()
	_, present := f.clients[c]
	delete(f.clients, c)
	f.mu.Unlock()

	c.close.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
	if present {
		f.log.Debug("client disconnected", "reason", reason)
	}
}

var _ reactor.AlertSink = (*Feed)(nil)
