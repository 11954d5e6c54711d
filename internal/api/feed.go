// Live event feed over websocket. The engine's OnEvent hook publishes
// into the feed; slow consumers are dropped rather than allowed to stall
// the tick.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/bazaar/internal/registry"
)

const (
	feedSendBuffer = 16
	feedWriteWait  = 10 * time.Second
	feedPingPeriod = 30 * time.Second
)

// Feed fans world events out to connected websocket clients.
type Feed struct {
	mu       sync.Mutex
	clients  map[chan []byte]struct{}
	upgrader websocket.Upgrader
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		clients: make(map[chan []byte]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Public observation stream; same policy as the GET endpoints.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Publish sends one event to every connected client. Never blocks: a
// client whose buffer is full misses the event.
func (f *Feed) Publish(ev registry.WorldEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("feed: marshal event", "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("feed: upgrade failed", "error", err)
		return
	}

	ch := make(chan []byte, feedSendBuffer)
	f.mu.Lock()
	f.clients[ch] = struct{}{}
	n := len(f.clients)
	f.mu.Unlock()
	slog.Info("feed: client connected", "clients", n)

	defer func() {
		f.mu.Lock()
		delete(f.clients, ch)
		f.mu.Unlock()
		conn.Close()
	}()

	// Drain reads so close frames and pongs are processed. The channel
	// itself is never closed; Publish may race with disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(feedPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case payload := <-ch:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
