package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ayusman/posecapture/internal/enroll"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// EventHub broadcasts session events to WebSocket clients. It is an
// enroll.Observer; OnEvent never blocks on the network, and a client whose
// buffer is full misses events instead of stalling the session.
type EventHub struct {
	snapshot func() any
	clients  map[*hubClient]bool
	mu       sync.RWMutex
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewEventHub creates an EventHub. When snapshot is non-nil its value is sent
// to each client right after it connects.
func NewEventHub(snapshot func() any) *EventHub {
	return &EventHub{
		snapshot: snapshot,
		clients:  make(map[*hubClient]bool),
	}
}

// OnEvent queues e for every connected client.
func (h *EventHub) OnEvent(e enroll.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		log.WithError(err).Warn("failed to encode event")
		return
	}
	h.broadcast(msg)
}

func (h *EventHub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Debug("websocket client too slow, dropping event")
		}
	}
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade error")
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, clientBuffer)}

	if h.snapshot != nil {
		if msg, err := json.Marshal(map[string]any{"type": "status", "status": h.snapshot()}); err == nil {
			c.send <- msg
		}
	}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	done := make(chan struct{})
	go h.writeLoop(c, done)

	// Clients only send pongs; a client silent for pongWait is gone.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	close(done)
	conn.Close()
}

func (h *EventHub) writeLoop(c *hubClient, done <-chan struct{}) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.conn.Close()
				return
			}
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}
