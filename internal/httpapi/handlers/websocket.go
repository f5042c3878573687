package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"platformd/backend/internal/httpapi/middleware"
	"platformd/backend/internal/httpapi/response"
	"platformd/backend/internal/lifecycle"
)

type wsClient struct {
	conn    *websocket.Conn
	subject string
	// filter maps kind to watched platform ids; an empty id set watches the whole kind.
	filter  map[string]map[uint]struct{}
	writeMu sync.Mutex
	mu      sync.RWMutex
}

type wsIncomingMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsSubscription struct {
	Action     string `json:"action"`
	Kind       string `json:"kind"`
	PlatformID uint   `json:"platform_id"`
}

type wsOutgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// EventsHandler streams platform state changes to websocket clients.
type EventsHandler struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]*wsClient
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewEventsHandler(logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		clients: make(map[*websocket.Conn]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers do not apply CORS to websocket upgrades.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Publish fans a state event out to every client watching its kind or platform.
func (h *EventsHandler) Publish(ev lifecycle.StateEvent) {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		if client.watches(ev) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	msg := wsOutgoingMessage{Type: "state", Data: ev, Timestamp: now()}
	for _, client := range targets {
		if err := h.writeJSON(client, msg); err != nil {
			h.logger.Debug("websocket write failed", "subject", client.subject, "error", err)
		}
	}
}

func (h *EventsHandler) Connect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	subject, _ := middleware.Subject(r)
	client := &wsClient{conn: conn, subject: subject, filter: map[string]map[uint]struct{}{}}
	h.registerClient(client)
	defer h.unregisterClient(client)

	_ = h.writeJSON(client, wsOutgoingMessage{
		Type:      "status",
		Data:      map[string]any{"state": "connected"},
		Timestamp: now(),
	})

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := h.writeJSON(client, wsOutgoingMessage{Type: "ping", Timestamp: now()}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var incoming wsIncomingMessage
		if err := json.Unmarshal(payload, &incoming); err != nil {
			_ = h.writeJSON(client, wsOutgoingMessage{
				Type:      "error",
				Data:      map[string]string{"message": "invalid message payload"},
				Timestamp: now(),
			})
			continue
		}

		switch strings.TrimSpace(incoming.Type) {
		case "subscription":
			var sub wsSubscription
			if err := json.Unmarshal(incoming.Data, &sub); err != nil || strings.TrimSpace(sub.Kind) == "" {
				_ = h.writeJSON(client, wsOutgoingMessage{
					Type:      "error",
					Data:      map[string]string{"message": "subscription needs a kind"},
					Timestamp: now(),
				})
				continue
			}
			client.update(sub)
			_ = h.writeJSON(client, wsOutgoingMessage{Type: "subscription_ack", Data: sub, Timestamp: now()})
		case "pong":
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		default:
			_ = h.writeJSON(client, wsOutgoingMessage{
				Type:      "error",
				Data:      map[string]string{"message": "unsupported message type"},
				Timestamp: now(),
			})
		}
	}
}

func (h *EventsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	connections := len(h.clients)
	h.mu.RUnlock()
	response.JSON(w, http.StatusOK, map[string]any{"connections": connections})
}

func (h *EventsHandler) registerClient(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.conn] = client
}

func (h *EventsHandler) unregisterClient(client *wsClient) {
	h.mu.Lock()
	delete(h.clients, client.conn)
	h.mu.Unlock()
	_ = client.conn.Close()
}

func (h *EventsHandler) writeJSON(client *wsClient, payload wsOutgoingMessage) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	_ = client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return client.conn.WriteJSON(payload)
}

func (c *wsClient) update(sub wsSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kind := strings.TrimSpace(sub.Kind)
	if strings.EqualFold(strings.TrimSpace(sub.Action), "unsubscribe") {
		if sub.PlatformID == 0 {
			delete(c.filter, kind)
		} else {
			delete(c.filter[kind], sub.PlatformID)
		}
		return
	}
	ids, ok := c.filter[kind]
	if !ok {
		ids = map[uint]struct{}{}
		c.filter[kind] = ids
	}
	if sub.PlatformID != 0 {
		ids[sub.PlatformID] = struct{}{}
	}
}

// watches reports whether ev matches the client's subscriptions. A client without any
// subscription receives everything.
func (c *wsClient) watches(ev lifecycle.StateEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.filter) == 0 {
		return true
	}
	ids, ok := c.filter[ev.Kind]
	if !ok {
		return false
	}
	if len(ids) == 0 {
		return true
	}
	_, ok = ids[ev.PlatformID]
	return ok
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
