package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/pizza-shack/internal/agent"
	"github.com/jogardn/pizza-shack/internal/events"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	replyTimeout   = 30 * time.Second
	endTimeout     = 5 * time.Second
	sendBuffer     = 64
)

const (
	Farewell     = "Thanks for visiting Pizza Shack! Have a great day! 🍕"
	failureReply = "Sorry, something went wrong. Please try again."
)

// Responder produces the replies for a chat session.
type Responder interface {
	Respond(ctx context.Context, sessionID, message string) []models.Envelope
	Control(ctx context.Context, sessionID string, frame models.ControlFrame) []models.Envelope
	EndSession(ctx context.Context, sessionID string)
	UserID(ctx context.Context, sessionID string) string
}

type Client struct {
	sessionID string
	userID    string
	conn      *websocket.Conn
	send      chan models.Envelope
	closed    bool
	hub       *Hub
	logger    *logrus.Entry
}

// Hub keeps one connection per chat session. A newer connection for a
// session replaces the older one.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	ending     sync.WaitGroup
	responder  Responder
	upgrader   websocket.Upgrader
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

// NewHub accepts browser connections from the given origins; "*" allows
// any origin.
func NewHub(responder Responder, allowedOrigins []string, logger *logrus.Logger) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		responder:  responder,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// not a browser
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			if previous, ok := h.clients[client.sessionID]; ok {
				previous.close()
				h.logger.WithField("session_id", client.sessionID).Info("Replacing existing chat connection")
			}
			h.clients[client.sessionID] = client
			count := len(h.clients)
			h.mutex.Unlock()
			client.logger.WithField("client_count", count).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			current := h.clients[client.sessionID] == client
			if current {
				delete(h.clients, client.sessionID)
			}
			client.close()
			count := len(h.clients)
			h.mutex.Unlock()

			if current {
				h.endSession(client.sessionID)
			}
			client.logger.WithField("client_count", count).Info("Client disconnected")

		case <-ctx.Done():
			h.mutex.Lock()
			for sessionID, client := range h.clients {
				client.close()
				delete(h.clients, sessionID)
			}
			h.mutex.Unlock()
			h.ending.Wait()
			h.logger.Info("Chat hub stopped")
			return
		}
	}
}

// endSession runs the responder's cleanup off the Run loop. It does not
// inherit the hub context; endTimeout bounds it.
func (h *Hub) endSession(sessionID string) {
	h.ending.Add(1)
	go func() {
		defer h.ending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
		defer cancel()
		h.responder.EndSession(ctx, sessionID)
	}()
}

// close must be called with the hub mutex held.
func (c *Client) close() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Send queues an envelope for a session. It reports false when the session
// has no connection or its queue is full.
func (h *Hub) Send(sessionID string, envelope models.Envelope) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	client, ok := h.clients[sessionID]
	if !ok {
		return false
	}
	return client.enqueue(envelope)
}

// NotifyUser sends an envelope to every session signed in as the user.
func (h *Hub) NotifyUser(userID string, envelope models.Envelope) int {
	if userID == "" {
		return 0
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	sent := 0
	for _, client := range h.clients {
		if client.userID == userID && client.enqueue(envelope) {
			sent++
		}
	}
	return sent
}

// Bind records which user a session is signed in as.
func (h *Hub) Bind(sessionID, userID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if client, ok := h.clients[sessionID]; ok {
		client.userID = userID
	}
}

// OnOrderStatusChanged pushes status changes to the customer's open chats.
func (h *Hub) OnOrderStatusChanged(_ context.Context, event events.OrderStatusChangedEvent) error {
	sent := h.NotifyUser(event.UserID, models.Envelope{
		Type:    models.EnvelopeOrderStatus,
		Content: agent.FormatStatus(event.OrderID, event.Status),
		OrderID: event.OrderID,
		Status:  event.Status,
	})
	h.logger.WithFields(logrus.Fields{
		"order_id": event.OrderID,
		"status":   event.Status,
		"sessions": sent,
	}).Debug("Order status pushed to chat")
	return nil
}

// enqueue must be called with the hub mutex held.
func (c *Client) enqueue(envelope models.Envelope) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- envelope:
		return true
	default:
		c.logger.Warn("Send buffer full, dropping message")
		return false
	}
}

func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket serves GET /chat?session_id=<id>.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(models.NewErrorResponse(http.StatusBadRequest, "session_id query parameter is required"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &Client{
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan models.Envelope, sendBuffer),
		hub:       h,
		logger:    h.logger.WithField("session_id", sessionID),
	}

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	client.userID = h.responder.UserID(ctx, sessionID)
	cancel()

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Error("WebSocket error")
			}
			return
		}

		message := strings.TrimSpace(string(data))
		if message == "" {
			continue
		}
		if isExit(message) {
			c.reply(models.AssistantMessage(Farewell))
			return
		}

		c.reply(c.handle(message)...)
	}
}

func (c *Client) handle(message string) (replies []models.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).Error("Chat message handling failed")
			replies = []models.Envelope{models.ErrorEnvelope(failureReply)}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	if frame, ok := parseControl(message); ok {
		return c.hub.responder.Control(ctx, c.sessionID, frame)
	}
	return c.hub.responder.Respond(ctx, c.sessionID, message)
}

func (c *Client) reply(envelopes ...models.Envelope) {
	c.hub.mutex.RLock()
	defer c.hub.mutex.RUnlock()
	for _, envelope := range envelopes {
		c.enqueue(envelope)
	}
}

func isExit(message string) bool {
	switch strings.ToLower(message) {
	case "exit", "quit", "bye":
		return true
	}
	return false
}

func parseControl(message string) (models.ControlFrame, bool) {
	var frame models.ControlFrame
	if !strings.HasPrefix(message, "{") {
		return frame, false
	}
	if err := json.Unmarshal([]byte(message), &frame); err != nil || frame.Type == "" {
		return frame, false
	}
	return frame, true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case envelope, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteJSON(envelope); err != nil {
				c.logger.WithError(err).Warn("Failed to write chat message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
