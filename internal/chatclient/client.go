package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull    = errors.New("outgoing message queue is full")
	ErrNotConnected = errors.New("not connected to the agent")
)

const (
	defaultReconnectDelay = 3 * time.Second
	writeWait             = 10 * time.Second
	outboxSize            = 32
)

type Config struct {
	// URL of the agent chat endpoint, e.g. ws://localhost:8000/chat.
	URL            string
	SessionID      string
	ReconnectDelay time.Duration
}

// Handler receives every envelope the agent sends.
type Handler func(models.Envelope)

// Client keeps a chat session connected to the agent. After an unexpected
// disconnect it waits ReconnectDelay and dials again, indefinitely.
// Messages that were already written are never sent twice, and nothing
// typed while disconnected is carried over to the next connection.
type Client struct {
	config    Config
	dialer    *websocket.Dialer
	outbox    chan []byte
	connected atomic.Bool
	handler   Handler
	logger    *logrus.Logger
}

func New(config Config, handler Handler, logger *logrus.Logger) *Client {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaultReconnectDelay
	}
	return &Client{
		config:  config,
		dialer:  websocket.DefaultDialer,
		outbox:  make(chan []byte, outboxSize),
		handler: handler,
		logger:  logger,
	}
}

// Send queues a user message. It fails with ErrNotConnected while the
// client is between connections.
func (c *Client) Send(message string) error {
	return c.enqueue([]byte(message))
}

// SendControl queues a control frame such as order_cancel.
func (c *Client) SendControl(frame models.ControlFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(data []byte) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	select {
	case c.outbox <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("session_id", c.config.SessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and serves the session until the agent closes it normally
// or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}
	logger := c.logger.WithField("session_id", c.config.SessionID)

	for {
		conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
		if err == nil {
			logger.Info("Connected to chat")
			err = c.serve(ctx, conn)
			if err == nil {
				logger.Info("Chat closed")
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		logger.WithError(err).WithField("retry_in", c.config.ReconnectDelay.String()).Warn("Chat connection lost, reconnecting")
		select {
		case <-time.After(c.config.ReconnectDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// serve returns nil on a normal closure or cancellation.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.discardOutbox()
	c.connected.Store(true)
	defer func() {
		c.connected.Store(false)
		c.discardOutbox()
		conn.Close()
	}()

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(conn)
	}()

	for {
		select {
		case data := <-c.outbox:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}

		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err

		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

// discardOutbox drops messages queued for a connection that is gone.
func (c *Client) discardOutbox() {
	for {
		select {
		case data := <-c.outbox:
			c.logger.WithField("bytes", len(data)).Debug("Dropping message queued before disconnect")
		default:
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var envelope models.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.logger.WithError(err).Warn("Ignoring malformed chat frame")
				continue
			}
			return err
		}

		c.handler(envelope)

		if envelope.Type == models.EnvelopeOrderConfirmation && envelope.CorrelationID != "" {
			err := c.SendControl(models.ControlFrame{Type: models.ControlOrderAck, CorrelationID: envelope.CorrelationID})
			if err != nil {
				c.logger.WithError(err).WithField("order_id", envelope.OrderID).Warn("Failed to acknowledge order")
			}
		}
	}
}
