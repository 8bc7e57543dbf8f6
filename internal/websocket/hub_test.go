package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jogardn/pizza-shack/internal/events"
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

type fakeResponder struct {
	mutex   sync.Mutex
	frames  []models.ControlFrame
	ended   []string
	users   map[string]string
	panicOn string
	hold    chan struct{}
}

func (f *fakeResponder) Respond(_ context.Context, sessionID, message string) []models.Envelope {
	if message == f.panicOn {
		panic("boom")
	}
	return []models.Envelope{models.AssistantMessage(sessionID + ": " + message)}
}

func (f *fakeResponder) Control(_ context.Context, _ string, frame models.ControlFrame) []models.Envelope {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.frames = append(f.frames, frame)
	if frame.Type == models.ControlOrderAck {
		return nil
	}
	return []models.Envelope{models.AssistantMessage("cancelled")}
}

func (f *fakeResponder) EndSession(ctx context.Context, sessionID string) {
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
		}
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.ended = append(f.ended, sessionID)
}

func (f *fakeResponder) UserID(_ context.Context, sessionID string) string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.users[sessionID]
}

func (f *fakeResponder) endedSessions() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.ended...)
}

func setupHub(t *testing.T) (*Hub, *fakeResponder, *httptest.Server) {
	responder := &fakeResponder{users: map[string]string{}, panicOn: "explode"}
	hub := NewHub(responder, []string{"*"}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := mux.NewRouter()
	router.HandleFunc("/chat", hub.HandleWebSocket)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, responder, server
}

func dial(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/chat?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.Envelope {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var envelope models.Envelope
	require.NoError(t, conn.ReadJSON(&envelope))
	return envelope
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	assert.Eventually(t, func() bool { return hub.GetClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestMissingSessionID(t *testing.T) {
	_, _, server := setupHub(t)

	resp, err := http.Get(server.URL + "/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatRoundTrip(t *testing.T) {
	_, _, server := setupHub(t)
	conn := dial(t, server, "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("show me the menu")))
	envelope := readEnvelope(t, conn)
	assert.Equal(t, models.EnvelopeMessage, envelope.Type)
	assert.Equal(t, "s1: show me the menu", envelope.Content)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("second")))
	assert.Equal(t, "s1: second", readEnvelope(t, conn).Content)
}

func TestControlFrames(t *testing.T) {
	_, responder, server := setupHub(t)
	conn := dial(t, server, "s1")

	require.NoError(t, conn.WriteJSON(models.ControlFrame{Type: models.ControlOrderAck, CorrelationID: "c-1"}))
	require.NoError(t, conn.WriteJSON(models.ControlFrame{Type: models.ControlOrderCancel}))
	assert.Equal(t, "cancelled", readEnvelope(t, conn).Content)

	responder.mutex.Lock()
	defer responder.mutex.Unlock()
	require.Len(t, responder.frames, 2)
	assert.Equal(t, "c-1", responder.frames[0].CorrelationID)
}

func TestHandlerFailureIsReported(t *testing.T) {
	_, _, server := setupHub(t)
	conn := dial(t, server, "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("explode")))
	envelope := readEnvelope(t, conn)
	assert.Equal(t, models.EnvelopeError, envelope.Type)
	assert.Equal(t, failureReply, envelope.Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("still there?")))
	assert.Equal(t, "s1: still there?", readEnvelope(t, conn).Content)
}

func TestExitClosesSession(t *testing.T) {
	hub, responder, server := setupHub(t)
	conn := dial(t, server, "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("Bye")))
	assert.Equal(t, Farewell, readEnvelope(t, conn).Content)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	waitForClients(t, hub, 0)
	assert.Eventually(t, func() bool {
		return len(responder.endedSessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSlowSessionCleanupDoesNotBlockHub(t *testing.T) {
	hub, responder, server := setupHub(t)
	responder.hold = make(chan struct{})
	defer close(responder.hold)

	first := dial(t, server, "s1")
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("exit")))
	assert.Equal(t, Farewell, readEnvelope(t, first).Content)
	waitForClients(t, hub, 0)

	// s1's cleanup is still stuck; a new customer must get through regardless.
	second := dial(t, server, "s2")
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte("menu")))
	assert.Equal(t, "s2: menu", readEnvelope(t, second).Content)
	waitForClients(t, hub, 1)
	assert.Empty(t, responder.endedSessions())

	responder.hold <- struct{}{}
	assert.Eventually(t, func() bool {
		ended := responder.endedSessions()
		return len(ended) == 1 && ended[0] == "s1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewConnectionReplacesOld(t *testing.T) {
	hub, responder, server := setupHub(t)
	first := dial(t, server, "s1")
	waitForClients(t, hub, 1)

	second := dial(t, server, "s1")

	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	waitForClients(t, hub, 1)

	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte("hi")))
	assert.Equal(t, "s1: hi", readEnvelope(t, second).Content)
	assert.Empty(t, responder.endedSessions(), "the replaced connection does not end the session")
}

func TestOrderStatusPushedToUser(t *testing.T) {
	hub, responder, server := setupHub(t)
	responder.mutex.Lock()
	responder.users["s1"] = "alice"
	responder.mutex.Unlock()

	conn := dial(t, server, "s1")
	other := dial(t, server, "s2")
	waitForClients(t, hub, 2)

	err := hub.OnOrderStatusChanged(context.Background(), events.OrderStatusChangedEvent{
		OrderID: "ORD-1",
		UserID:  "alice",
		Status:  models.StatusPreparing,
	})
	require.NoError(t, err)

	envelope := readEnvelope(t, conn)
	assert.Equal(t, models.EnvelopeOrderStatus, envelope.Type)
	assert.Equal(t, "ORD-1", envelope.OrderID)
	assert.Equal(t, models.StatusPreparing, envelope.Status)

	hub.Bind("s2", "bob")
	assert.Equal(t, 1, hub.NotifyUser("bob", models.AssistantMessage("hello bob")))
	assert.Equal(t, "hello bob", readEnvelope(t, other).Content)
}

func TestSendUnknownSession(t *testing.T) {
	hub, _, _ := setupHub(t)
	assert.False(t, hub.Send("nobody", models.AssistantMessage("hi")))
	assert.Equal(t, 0, hub.NotifyUser("", models.AssistantMessage("hi")))
}

func TestOriginCheck(t *testing.T) {
	check := originChecker([]string{"http://localhost:5173"})

	r := httptest.NewRequest(http.MethodGet, "/chat", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, check(r))

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(r))
}
