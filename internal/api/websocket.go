package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clearmesh/clearmesh/internal/logging"
	"github.com/clearmesh/clearmesh/internal/settlement"
	"github.com/clearmesh/clearmesh/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The node binds to loopback; the gateway enforces origins.
		return true
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// eventEnvelope is the wire shape of a streamed engine event. Channel is the
// event-type prefix ("order", "proposal", ...) clients subscribe to.
type eventEnvelope struct {
	Type    string    `json:"type"`
	Channel string    `json:"channel"`
	At      time.Time `json:"at"`
	Data    any       `json:"data"`
}

// wsClient is one connected subscriber.
type wsClient struct {
	hub        *EventHub
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
}

// EventHub fans engine events out to websocket subscribers. It implements
// settlement.Sink, so it can be wired directly as the engine's event sink.
type EventHub struct {
	clients    map[*wsClient]bool
	broadcast  chan eventEnvelope
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventHub creates a hub; call Start before publishing.
func NewEventHub() *EventHub {
	return &EventHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan eventEnvelope, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Publish implements settlement.Sink. Events are dropped if the hub's buffer
// is full; the stream is a best-effort mirror, never a backpressure source
// for the engine.
func (h *EventHub) Publish(event settlement.Event) {
	envelope := eventEnvelope{
		Type:    event.EventType(),
		Channel: channelFor(event.EventType()),
		At:      time.Now(),
		Data:    event,
	}
	select {
	case h.broadcast <- envelope:
	default:
		logging.Debug("event stream buffer full, dropping event",
			"type", envelope.Type,
			logging.Component("websocket"))
	}
}

// channelFor maps "order.created" to "order" and so on.
func channelFor(eventType string) string {
	if idx := strings.IndexByte(eventType, '.'); idx != -1 {
		return eventType[:idx]
	}
	return eventType
}

// Start runs the hub loop until ctx is cancelled or Stop is called.
func (h *EventHub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	util.SafeGoWithName("websocket-hub", func() {
		defer close(h.done)
		h.run(ctx)
	})
}

// Stop shuts the hub down and disconnects every client.
func (h *EventHub) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
}

func (h *EventHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("websocket client connected",
				"total_clients", total,
				logging.Component("websocket"))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("websocket client disconnected",
				"total_clients", total,
				logging.Component("websocket"))

		case envelope := <-h.broadcast:
			data, err := json.Marshal(envelope)
			if err != nil {
				continue
			}
			h.mu.RLock()
			var stale []*wsClient
			for client := range h.clients {
				if !client.wants(envelope.Channel) {
					continue
				}
				select {
				case client.send <- data:
				default:
					stale = append(stale, client)
				}
			}
			h.mu.RUnlock()

			// Slow consumers are dropped rather than allowed to stall the hub.
			if len(stale) > 0 {
				h.mu.Lock()
				for _, client := range stale {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

func (c *wsClient) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscribed) == 0 {
		return true // no explicit subscriptions means everything
	}
	return c.subscribed[channel]
}

// subscribeMessage is the only client-to-server message shape.
type subscribeMessage struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// HandleUpgrade upgrades the request to a websocket and attaches the client
// to the hub.
func (h *EventHub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", logging.Err(err), logging.Component("websocket"))
		return
	}

	client := &wsClient{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 64),
		subscribed: make(map[string]bool),
	}
	select {
	case h.register <- client:
	case <-h.done:
		// Hub already stopped; nobody will service this client.
		conn.Close()
		return
	}

	util.SafeGoWithName("websocket-writer", client.writePump)
	util.SafeGoWithName("websocket-reader", client.readPump)
}

func (c *wsClient) readPump() {
	defer func() {
		// After Stop the run loop is gone and has already closed every
		// client; selecting on done keeps this send from blocking forever.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.mu.Lock()
		for _, channel := range msg.Channels {
			switch msg.Action {
			case "subscribe":
				c.subscribed[channel] = true
			case "unsubscribe":
				delete(c.subscribed, channel)
			}
		}
		c.mu.Unlock()
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
