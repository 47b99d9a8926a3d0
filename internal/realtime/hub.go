package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	sendBufferSize = 32
)

// subscription is one table watch, optionally filtered to column = value
// on the new (or, for deletes, old) row.
type subscription struct {
	Table  string `json:"table"`
	Column string `json:"filter_column,omitempty"`
	Value  string `json:"filter_value,omitempty"`
}

func (s subscription) matches(ev Event) bool {
	if s.Table != ev.Table {
		return false
	}
	if s.Column == "" {
		return true
	}
	row := ev.New
	if ev.Type == EventDelete {
		row = ev.Old
	}
	v, ok := row[s.Column]
	if !ok {
		return false
	}
	return fmt.Sprintf("%v", v) == s.Value
}

type controlMessage struct {
	Action string `json:"action"` // subscribe, unsubscribe
	subscription
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu   sync.Mutex
	subs []subscription
}

func (c *client) subscribe(sub subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.subs {
		if existing == sub {
			return
		}
	}
	c.subs = append(c.subs, sub)
}

func (c *client) unsubscribe(sub subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.subs {
		if existing == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

func (c *client) wants(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		if sub.matches(ev) {
			return true
		}
	}
	return false
}

// Hub bridges the Redis change feed to websocket subscribers. Connections
// register their table watches with subscribe control messages and are
// removed when the socket closes, so subscription lifecycle follows the
// connection exactly.
type Hub struct {
	rdb *redis.Client
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(rdb *redis.Client, log zerolog.Logger) *Hub {
	return &Hub{
		rdb:     rdb,
		log:     log.With().Str("component", "realtime-hub").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Run consumes the Redis feed channels and fans events out to matching
// clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	pubsub := h.rdb.PSubscribe(ctx, channelFor("*"))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				h.log.Warn().Err(err).Str("channel", msg.Channel).Msg("bad change event payload")
				continue
			}
			h.broadcast(ev, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(ev Event, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow consumer. Drop the event rather than block the feed;
			// the client recomputes from a fresh fetch on its next query.
			h.log.Warn().Msg("dropping change event for slow subscriber")
		}
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			if msg.Table != "" {
				c.subscribe(msg.subscription)
			}
		case "unsubscribe":
			c.unsubscribe(msg.subscription)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}
