package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

var upgrader = websocket.Upgrader{}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/chat"
}

func TestReconnectsAfterAbnormalClose(t *testing.T) {
	var connections int32
	acks := make(chan models.ControlFrame, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s1", r.URL.Query().Get("session_id"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		switch atomic.AddInt32(&connections, 1) {
		case 1:
			conn.WriteJSON(models.AssistantMessage("welcome"))
			_, data, err := conn.ReadMessage()
			require.NoError(t, err)
			conn.WriteJSON(models.AssistantMessage("echo: " + string(data)))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "restarting"))
		default:
			conn.WriteJSON(models.Envelope{
				Type:          models.EnvelopeOrderConfirmation,
				OrderID:       "ORD-1",
				CorrelationID: "corr-1",
			})
			var frame models.ControlFrame
			require.NoError(t, conn.ReadJSON(&frame))
			acks <- frame
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.ReadMessage()
		}
	}))
	defer server.Close()

	received := make(chan models.Envelope, 4)
	client := New(Config{URL: wsURL(server), SessionID: "s1", ReconnectDelay: 20 * time.Millisecond},
		func(envelope models.Envelope) { received <- envelope }, testLogger())

	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background()) }()

	assert.Equal(t, "welcome", (<-received).Content)
	require.NoError(t, client.Send("hello"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop after normal closure")
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&connections))
	assert.Equal(t, "echo: hello", (<-received).Content)
	assert.Equal(t, "ORD-1", (<-received).OrderID)

	ack := <-acks
	assert.Equal(t, models.ControlOrderAck, ack.Type)
	assert.Equal(t, "corr-1", ack.CorrelationID)
}

func TestRetriesWhenAgentIsDown(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	}))
	defer server.Close()

	client := New(Config{URL: wsURL(server), SessionID: "s1", ReconnectDelay: 10 * time.Millisecond},
		func(models.Envelope) {}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Run(ctx))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestCancelStopsClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client := New(Config{URL: wsURL(server), SessionID: "s1"}, func(models.Envelope) {}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop after cancellation")
	}
}

func TestMessagesTypedWhileDisconnectedAreNotDelivered(t *testing.T) {
	var connections int32
	secondConn := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		n := atomic.AddInt32(&connections, 1)
		conn.WriteJSON(models.AssistantMessage(fmt.Sprintf("welcome %d", n)))
		if n == 1 {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "restarting"))
			return
		}

		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		secondConn <- string(data)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	}))
	defer server.Close()

	received := make(chan models.Envelope, 4)
	client := New(Config{URL: wsURL(server), SessionID: "s1", ReconnectDelay: 300 * time.Millisecond},
		func(envelope models.Envelope) { received <- envelope }, testLogger())

	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background()) }()

	assert.Equal(t, "welcome 1", (<-received).Content)
	require.Eventually(t, func() bool {
		return errors.Is(client.Send("typed while disconnected"), ErrNotConnected)
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "welcome 2", (<-received).Content)
	require.NoError(t, client.Send("after reconnect"))

	select {
	case first := <-secondConn:
		assert.Equal(t, "after reconnect", first)
	case <-time.After(5 * time.Second):
		t.Fatal("second connection received nothing")
	}
	require.NoError(t, <-done)
}

func TestSendWithoutConnection(t *testing.T) {
	client := New(Config{URL: "ws://localhost/chat", SessionID: "s1"}, func(models.Envelope) {}, testLogger())
	assert.ErrorIs(t, client.Send("hi"), ErrNotConnected)
	assert.ErrorIs(t, client.SendControl(models.ControlFrame{Type: models.ControlOrderCancel}), ErrNotConnected)
}

func TestQueueFull(t *testing.T) {
	client := New(Config{URL: "ws://localhost/chat", SessionID: "s1"}, func(models.Envelope) {}, testLogger())
	client.connected.Store(true)
	for i := 0; i < outboxSize; i++ {
		require.NoError(t, client.Send("hi"))
	}
	assert.ErrorIs(t, client.Send("one too many"), ErrQueueFull)
}
