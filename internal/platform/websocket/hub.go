// Package websocket pushes collection snapshots to browser views. Clients
// subscribe to topics of the form "<collection>:<owner>" and receive the full
// collection every time it changes.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wardops/wardops/internal/platform/auth"
)

const maxMessageSize = 4096

// Keepalive timings. pingPeriod must stay below pongWait.
var (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Event types pushed to clients.
const (
	EventSnapshot = "snapshot"
	EventDenied   = "denied"
)

// Event is one message sent to a WebSocket client.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Topic builds the topic name for a collection scope.
func Topic(collection, scope string) string {
	return collection + ":" + scope
}

// ParseTopic splits a topic into collection and scope.
func ParseTopic(topic string) (collection, scope string, ok bool) {
	collection, scope, ok = strings.Cut(topic, ":")
	if !ok || collection == "" || scope == "" {
		return "", "", false
	}
	return collection, scope, true
}

// Replayer returns the current event for a scope so late subscribers start
// from the last-known state.
type Replayer interface {
	Replay(scope string) (Event, bool)
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a single WebSocket connection.
type Client struct {
	ID     string
	UserID string
	// Admin clients may subscribe to any owner's scope.
	Admin  bool
	Topics []string
	Send   chan []byte
	hub    *Hub
	conn   Conn

	// sendMu serialises producers so a coalescing pass sees the whole buffer.
	sendMu sync.Mutex
}

// enqueue queues data for the client without blocking. When the buffer is
// full, queued events are coalesced to the newest one per topic and type, so
// a slow reader skips intermediate snapshots but always ends on the latest.
// It reports false when an event had to be discarded outright.
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case c.Send <- data:
		return true
	default:
	}

	queued := make([][]byte, 0, cap(c.Send)+1)
drain:
	for {
		select {
		case m := <-c.Send:
			queued = append(queued, m)
		default:
			break drain
		}
	}
	kept := coalesce(append(queued, data))
	ok := true
	if over := len(kept) - cap(c.Send); over > 0 {
		kept, ok = kept[over:], false
	}
	for _, m := range kept {
		c.Send <- m
	}
	return ok
}

// coalesce keeps the last message for each (type, topic), in the order of
// those last occurrences.
func coalesce(msgs [][]byte) [][]byte {
	seen := make(map[string]struct{}, len(msgs))
	out := make([][]byte, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		var head struct {
			Type  string `json:"type"`
			Topic string `json:"topic"`
		}
		key := string(msgs[i])
		if err := json.Unmarshal(msgs[i], &head); err == nil {
			key = head.Type + "\x00" + head.Topic
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, msgs[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// mayJoin reports whether the client is allowed to receive topic.
func (c *Client) mayJoin(topic string) bool {
	_, scope, ok := ParseTopic(topic)
	if !ok {
		return false
	}
	return c.Admin || scope == c.UserID
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[*Client]struct{} // topic -> set of clients
	all       map[*Client]struct{}
	replayers map[string]Replayer // collection -> replayer
	logger    zerolog.Logger
}

// NewHub creates a new Hub ready to manage WebSocket clients.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]map[*Client]struct{}),
		all:       make(map[*Client]struct{}),
		replayers: make(map[string]Replayer),
		logger:    logger.With().Str("component", "websocket").Logger(),
	}
}

// AddReplayer registers the last-known state source for a collection.
func (h *Hub) AddReplayer(collection string, r Replayer) {
	h.mu.Lock()
	h.replayers[collection] = r
	h.mu.Unlock()
}

// Register adds a client to the hub and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.join(client, topic)
	}
}

// Unregister removes a client from the hub and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.leave(client, topic)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client. Topics outside the client's
// own scope are refused unless the client is an admin. Each accepted topic
// is primed with the last-known snapshot. The accepted topics are returned.
func (h *Hub) Subscribe(client *Client, topics []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return nil
	}
	accepted := make([]string, 0, len(topics))
	for _, topic := range topics {
		if !client.mayJoin(topic) {
			h.logger.Warn().Str("client_id", client.ID).Str("user_id", client.UserID).
				Str("topic", topic).Msg("subscription refused")
			h.sendLocked(client, Event{Type: EventDenied, Topic: topic, Timestamp: time.Now().UTC()})
			continue
		}
		if h.subscribed(client, topic) {
			continue
		}
		h.join(client, topic)
		client.Topics = append(client.Topics, topic)
		accepted = append(accepted, topic)

		collection, scope, _ := ParseTopic(topic)
		if r, ok := h.replayers[collection]; ok {
			if ev, ok := r.Replay(scope); ok {
				h.sendLocked(client, ev)
			}
		}
	}
	return accepted
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
		h.leave(client, t)
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage dispatches an inbound ClientMessage.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends an event to all clients subscribed to topic. A client
// whose buffer is full has its queued events coalesced, so it misses
// intermediate snapshots but still receives this one.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		if !client.enqueue(data) {
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, oldest topic dropped")
		}
	}
}

// Publish broadcasts the event to subscribers of the event's topic.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a specific topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

func (h *Hub) join(client *Client, topic string) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) leave(client *Client, topic string) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

func (h *Hub) subscribed(client *Client, topic string) bool {
	_, ok := h.clients[topic][client]
	return ok
}

// sendLocked queues ev for one client. The caller holds h.mu.
func (h *Hub) sendLocked(client *Client, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", ev.Topic).Msg("failed to marshal event")
		return
	}
	client.enqueue(data)
}

// ---------------------------------------------------------------------------
// Handler serves the websocket endpoint.
// ---------------------------------------------------------------------------

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware governs origins.
	},
}

// Handler upgrades HTTP connections and routes client messages.
type Handler struct {
	hub *Hub
}

// NewHandler creates a new handler bound to the given Hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect, auth.RequireRole("admin", "physician", "nurse"))
}

// HandleConnect upgrades the connection for the authenticated caller and
// starts the read/write pumps.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	ctx := c.Request().Context()
	uid := auth.UserIDFromContext(ctx)
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		UserID: uid,
		Admin:  auth.HasRole(ctx, "admin"),
		Topics: []string{},
		Send:   make(chan []byte, 64),
		hub:    wsh.hub,
		conn:   &gorillaConnAdapter{ws},
	}

	wsh.hub.Register(client)
	wsh.hub.logger.Debug().Str("client_id", client.ID).Str("user_id", uid).Msg("client connected")

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)

	return nil
}

func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				wsh.hub.logger.Debug().Err(err).Str("client_id", client.ID).Msg("client connection lost")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore malformed messages.
		}

		wsh.hub.ProcessMessage(client, msg)
	}
}

// writePump drains the client's queue and pings every pingPeriod so a
// half-open connection fails its read deadline and is unregistered.
func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
