package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	return config
}

var errTransient = errors.New("database unavailable")
var errPermanent = errors.New("order not found")

type fakeStatusHandler struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	updates  []models.OrderStatusUpdate
}

func (f *fakeStatusHandler) HandleStatusUpdate(_ context.Context, update models.OrderStatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeStatusHandler) IsRetryable(err error) bool {
	return errors.Is(err, errTransient)
}

func statusMessage(t *testing.T, update models.OrderStatusUpdate) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(update)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{
		Topic: OrderStatusUpdateTopic,
		Key:   []byte(update.OrderID),
		Value: data,
	}
}

func TestPublishOrderCreated(t *testing.T) {
	sp := mocks.NewSyncProducer(t, testProducerConfig())
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event OrderCreatedEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.OrderID != "ORD-1" || event.ItemCount != 2 || event.TokenType != models.TokenTypeOBO {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	producer := NewKafkaProducerWith(sp, testLogger())
	err := producer.PublishOrderCreated(context.Background(), &models.Order{
		OrderID:   "ORD-1",
		UserID:    "alice",
		TokenType: models.TokenTypeOBO,
		Items:     []models.OrderItem{{}, {}},
	})
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestPublishFailureIsReturned(t *testing.T) {
	sp := mocks.NewSyncProducer(t, testProducerConfig())
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewKafkaProducerWith(sp, testLogger())
	err := producer.PublishOrderStatusChanged(context.Background(),
		&models.Order{OrderID: "ORD-1", Status: models.StatusDelivered}, models.StatusPending)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, producer.Close())
}

func TestStatusHandlerRetriesTransientErrors(t *testing.T) {
	sp := mocks.NewSyncProducer(t, testProducerConfig())
	fake := &fakeStatusHandler{failures: 2, err: errTransient}

	h := newStatusClaimHandler(fake, sp, testLogger())
	h.initialDelay = time.Millisecond
	h.maxDelay = 2 * time.Millisecond

	assert.True(t, h.process(context.Background(), statusMessage(t, models.OrderStatusUpdate{OrderID: "ORD-1", Status: models.StatusDelivered})))

	m := h.metrics()
	assert.Equal(t, int64(1), m.SuccessCount)
	assert.Equal(t, int64(2), m.RetryCount)
	assert.Zero(t, m.DLQCount)
	require.Len(t, fake.updates, 1)
	assert.Equal(t, models.StatusDelivered, fake.updates[0].Status)
	require.NoError(t, sp.Close())
}

func TestStatusHandlerSendsPermanentFailuresToDLQ(t *testing.T) {
	sp := mocks.NewSyncProducer(t, testProducerConfig())
	sp.ExpectSendMessageAndSucceed()
	fake := &fakeStatusHandler{failures: 100, err: errPermanent}

	h := newStatusClaimHandler(fake, sp, testLogger())
	h.initialDelay = time.Millisecond

	assert.True(t, h.process(context.Background(), statusMessage(t, models.OrderStatusUpdate{OrderID: "ORD-9", Status: models.StatusCancelled})))

	m := h.metrics()
	assert.Equal(t, 1, fake.calls, "non-retryable errors are not retried")
	assert.Equal(t, int64(1), m.FailureCount)
	assert.Equal(t, int64(1), m.DLQCount)
	require.NoError(t, sp.Close())
}

func TestStatusHandlerLeavesMessageWhenCancelledDuringBackoff(t *testing.T) {
	// No DLQ send is expected; the mock fails Close on any unexpected message.
	sp := mocks.NewSyncProducer(t, testProducerConfig())
	fake := &fakeStatusHandler{failures: 100, err: errTransient}

	h := newStatusClaimHandler(fake, sp, testLogger())
	h.initialDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	defer cancel()

	start := time.Now()
	settled := h.process(ctx, statusMessage(t, models.OrderStatusUpdate{OrderID: "ORD-7", Status: models.StatusPreparing}))

	assert.False(t, settled, "a cancelled message must not be committed")
	assert.Less(t, time.Since(start), time.Second, "cancellation interrupts the backoff")
	assert.Equal(t, 1, fake.calls)
	m := h.metrics()
	assert.Zero(t, m.DLQCount)
	assert.Zero(t, m.FailureCount)
	require.NoError(t, sp.Close())
}

func TestStatusHandlerMalformedMessageGoesToDLQ(t *testing.T) {
	sp := mocks.NewSyncProducer(t, testProducerConfig())
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "{not json" {
			return errors.New("DLQ must carry the original payload")
		}
		return nil
	})

	h := newStatusClaimHandler(&fakeStatusHandler{}, sp, testLogger())
	h.process(context.Background(), &sarama.ConsumerMessage{Topic: OrderStatusUpdateTopic, Value: []byte("{not json")})

	assert.Equal(t, int64(1), h.metrics().DLQCount)
	require.NoError(t, sp.Close())
}

func TestExtractMetadata(t *testing.T) {
	meta, _ := json.Marshal(MessageMetadata{RetryCount: 2, ErrorMessage: "boom"})
	msg := &sarama.ConsumerMessage{
		Topic:   OrderStatusUpdateDLQTopic,
		Headers: []*sarama.RecordHeader{{Key: []byte("metadata"), Value: meta}},
	}
	got := extractMetadata(msg)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "boom", got.ErrorMessage)

	replayed := &sarama.ConsumerMessage{
		Headers: []*sarama.RecordHeader{{Key: []byte("retry_count"), Value: []byte("4")}},
	}
	assert.Equal(t, 4, extractMetadata(replayed).RetryCount)
}

func TestReplayMessage(t *testing.T) {
	sp := mocks.NewSyncProducer(t, testProducerConfig())
	sp.ExpectSendMessageAndSucceed()
	p := newDLQProcessor(nil, sp, 0, testLogger())

	meta, _ := json.Marshal(MessageMetadata{RetryCount: 1})
	require.NoError(t, p.ReplayMessage(&sarama.ConsumerMessage{
		Key:     []byte("ORD-1"),
		Value:   []byte(`{"order_id":"ORD-1","status":"delivered"}`),
		Headers: []*sarama.RecordHeader{{Key: []byte("metadata"), Value: meta}},
	}))

	meta, _ = json.Marshal(MessageMetadata{RetryCount: MaxRetries * 2})
	err := p.ReplayMessage(&sarama.ConsumerMessage{
		Headers: []*sarama.RecordHeader{{Key: []byte("metadata"), Value: meta}},
	})
	assert.ErrorIs(t, err, ErrReplayLimitExceeded)
	require.NoError(t, sp.Close())
}

type recordingListener struct {
	events []OrderStatusChangedEvent
}

func (r *recordingListener) OnOrderStatusChanged(_ context.Context, event OrderStatusChangedEvent) error {
	r.events = append(r.events, event)
	return nil
}

func TestSubscriberHandleMessage(t *testing.T) {
	listener := &recordingListener{}
	h := &subscriberHandler{status: listener, logger: testLogger()}

	data, _ := json.Marshal(OrderStatusChangedEvent{OrderID: "ORD-1", UserID: "alice", Status: models.StatusPreparing})
	require.NoError(t, h.handleMessage(context.Background(), &sarama.ConsumerMessage{Topic: OrderStatusChangedTopic, Value: data}))
	require.NoError(t, h.handleMessage(context.Background(), &sarama.ConsumerMessage{Topic: "other", Value: data}))

	require.Len(t, listener.events, 1)
	assert.Equal(t, "alice", listener.events[0].UserID)

	assert.Error(t, h.handleMessage(context.Background(), &sarama.ConsumerMessage{Topic: OrderStatusChangedTopic, Value: []byte("x")}))
}

type createdListener struct {
	events []OrderCreatedEvent
}

func (c *createdListener) OnOrderCreated(_ context.Context, event OrderCreatedEvent) error {
	c.events = append(c.events, event)
	return nil
}

func TestSubscriberRoutesCreatedEvents(t *testing.T) {
	listener := &createdListener{}
	h := &subscriberHandler{created: listener, logger: testLogger()}

	data, _ := json.Marshal(OrderCreatedEvent{OrderID: "ORD-2", UserID: "bob", ItemCount: 2})
	require.NoError(t, h.handleMessage(context.Background(), &sarama.ConsumerMessage{Topic: OrderCreatedTopic, Value: data}))
	// No status listener is attached, so status events are skipped.
	require.NoError(t, h.handleMessage(context.Background(), &sarama.ConsumerMessage{Topic: OrderStatusChangedTopic, Value: data}))

	require.Len(t, listener.events, 1)
	assert.Equal(t, 2, listener.events[0].ItemCount)
}
