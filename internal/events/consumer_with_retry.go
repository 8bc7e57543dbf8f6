package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	OrderStatusUpdateDLQTopic = "order.status.update.dlq"
	MaxRetries                = 3
	InitialRetryDelay         = 1 * time.Second
	MaxRetryDelay             = 30 * time.Second
)

// StatusCommandHandler applies status update commands coming from
// fulfilment systems.
type StatusCommandHandler interface {
	HandleStatusUpdate(ctx context.Context, update models.OrderStatusUpdate) error
	IsRetryable(err error) bool
}

type ConsumerMetrics struct {
	ProcessedCount int64 `json:"processed_count"`
	RetryCount     int64 `json:"retry_count"`
	DLQCount       int64 `json:"dlq_count"`
	SuccessCount   int64 `json:"success_count"`
	FailureCount   int64 `json:"failure_count"`
}

type MessageMetadata struct {
	RetryCount    int       `json:"retry_count"`
	FirstFailure  time.Time `json:"first_failure"`
	LastFailure   time.Time `json:"last_failure"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

type StatusConsumer struct {
	consumerGroup sarama.ConsumerGroup
	producer      sarama.SyncProducer
	handler       *statusClaimHandler
	logger        *logrus.Logger
	topics        []string
}

type statusClaimHandler struct {
	handler      StatusCommandHandler
	producer     sarama.SyncProducer
	logger       *logrus.Logger
	initialDelay time.Duration
	maxDelay     time.Duration

	processed atomic.Int64
	retries   atomic.Int64
	dlq       atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
}

func NewStatusConsumer(brokers, groupID string, handler StatusCommandHandler, logger *logrus.Logger) (*StatusConsumer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(splitBrokers(brokers), groupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	producer, err := sarama.NewSyncProducer(splitBrokers(brokers), newProducerConfig())
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	return &StatusConsumer{
		consumerGroup: consumerGroup,
		producer:      producer,
		handler:       newStatusClaimHandler(handler, producer, logger),
		logger:        logger,
		topics:        []string{OrderStatusUpdateTopic},
	}, nil
}

func newStatusClaimHandler(handler StatusCommandHandler, producer sarama.SyncProducer, logger *logrus.Logger) *statusClaimHandler {
	return &statusClaimHandler{
		handler:      handler,
		producer:     producer,
		logger:       logger,
		initialDelay: InitialRetryDelay,
		maxDelay:     MaxRetryDelay,
	}
}

func (c *StatusConsumer) Start(ctx context.Context) error {
	for {
		if err := c.consumerGroup.Consume(ctx, c.topics, c.handler); err != nil {
			c.logger.WithError(err).Error("Error consuming from Kafka")
			return err
		}
		if ctx.Err() != nil {
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		}
	}
}

func (c *StatusConsumer) Close() error {
	if err := c.producer.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close producer")
	}
	return c.consumerGroup.Close()
}

func (c *StatusConsumer) Metrics() ConsumerMetrics {
	return c.handler.metrics()
}

func (h *statusClaimHandler) metrics() ConsumerMetrics {
	return ConsumerMetrics{
		ProcessedCount: h.processed.Load(),
		RetryCount:     h.retries.Load(),
		DLQCount:       h.dlq.Load(),
		SuccessCount:   h.successes.Load(),
		FailureCount:   h.failures.Load(),
	}
}

func (h *statusClaimHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Status consumer session setup")
	return nil
}

func (h *statusClaimHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Status consumer session cleanup")
	return nil
}

func (h *statusClaimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if !h.process(session.Context(), message) {
				// Left uncommitted so the next session picks it up again.
				return nil
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process handles one message; failures end up on the DLQ so the partition
// keeps moving. It reports false when the session ended before the message
// was settled, in which case the offset must not be committed.
func (h *statusClaimHandler) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	h.processed.Add(1)

	if err := h.handleMessageWithRetry(ctx, message); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"partition": message.Partition,
				"offset":    message.Offset,
			}).Warn("Consumer stopping, status update left for redelivery")
			return false
		}

		h.logger.WithError(err).Error("Failed to process message after retries")
		h.failures.Add(1)

		if dlqErr := h.sendToDLQ(message, err); dlqErr != nil {
			h.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		} else {
			h.dlq.Add(1)
		}
		return true
	}
	h.successes.Add(1)
	return true
}

func (h *statusClaimHandler) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	h.logger.WithFields(logrus.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	}).Info("Processing status update")

	var update models.OrderStatusUpdate
	if err := json.Unmarshal(message.Value, &update); err != nil {
		return fmt.Errorf("malformed status update: %w", err)
	}

	delay := h.initialDelay
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			h.logger.WithFields(logrus.Fields{
				"order_id": update.OrderID,
				"attempt":  attempt,
				"delay":    delay.String(),
			}).Info("Retrying status update")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			h.retries.Add(1)

			delay *= 2
			if delay > h.maxDelay {
				delay = h.maxDelay
			}
		}

		err := h.handler.HandleStatusUpdate(ctx, update)
		if err == nil {
			return nil
		}

		if !h.handler.IsRetryable(err) {
			h.logger.WithError(err).WithField("order_id", update.OrderID).Warn("Non-retryable status update error")
			return err
		}

		h.logger.WithError(err).WithField("attempt", attempt+1).Warn("Retryable error applying status update")
	}

	return fmt.Errorf("exhausted retries for order %s", update.OrderID)
}

func extractMetadata(message *sarama.ConsumerMessage) MessageMetadata {
	metadata := MessageMetadata{OriginalTopic: message.Topic}
	for _, header := range message.Headers {
		switch string(header.Key) {
		case "metadata":
			json.Unmarshal(header.Value, &metadata)
		case "retry_count":
			if count, err := strconv.Atoi(string(header.Value)); err == nil {
				metadata.RetryCount = count
			}
		}
	}
	return metadata
}

func (h *statusClaimHandler) sendToDLQ(message *sarama.ConsumerMessage, processingError error) error {
	previous := extractMetadata(message)
	now := time.Now()

	metadata := MessageMetadata{
		RetryCount:    previous.RetryCount + 1,
		FirstFailure:  previous.FirstFailure,
		LastFailure:   now,
		OriginalTopic: message.Topic,
		ErrorMessage:  processingError.Error(),
	}
	if metadata.FirstFailure.IsZero() {
		metadata.FirstFailure = now
	}

	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dlqMessage := &sarama.ProducerMessage{
		Topic: OrderStatusUpdateDLQTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadataBytes},
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(message.Partition)))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(message.Offset, 10))},
			{Key: []byte("failure_time"), Value: []byte(now.Format(time.RFC3339))},
		},
	}

	partition, offset, err := h.producer.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"dlq_topic":     OrderStatusUpdateDLQTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"error":         processingError.Error(),
	}).Warn("Message sent to dead letter queue")

	return nil
}
