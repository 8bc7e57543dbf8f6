package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

var ErrReplayLimitExceeded = errors.New("exceeded maximum replay attempts")

// DLQProcessor reads dead-lettered status updates and republishes them to
// the command topic after a delay, up to MaxRetries*2 times per message.
type DLQProcessor struct {
	consumer    sarama.ConsumerGroup
	producer    sarama.SyncProducer
	logger      *logrus.Logger
	replayTopic string
	replayDelay time.Duration
}

func NewDLQProcessor(brokers string, replayDelay time.Duration, logger *logrus.Logger) (*DLQProcessor, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Version = sarama.V2_6_0_0

	consumer, err := sarama.NewConsumerGroup(splitBrokers(brokers), "dlq-processor-group", consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ consumer: %w", err)
	}

	producer, err := sarama.NewSyncProducer(splitBrokers(brokers), newProducerConfig())
	if err != nil {
		consumer.Close()
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return newDLQProcessor(consumer, producer, replayDelay, logger), nil
}

func newDLQProcessor(consumer sarama.ConsumerGroup, producer sarama.SyncProducer, replayDelay time.Duration, logger *logrus.Logger) *DLQProcessor {
	return &DLQProcessor{
		consumer:    consumer,
		producer:    producer,
		logger:      logger,
		replayTopic: OrderStatusUpdateTopic,
		replayDelay: replayDelay,
	}
}

func (p *DLQProcessor) ProcessDLQ(ctx context.Context) error {
	handler := &dlqConsumerHandler{processor: p, logger: p.logger}

	for {
		if err := p.consumer.Consume(ctx, []string{OrderStatusUpdateDLQTopic}, handler); err != nil {
			p.logger.WithError(err).Error("Error consuming from DLQ")
			return err
		}
		if ctx.Err() != nil {
			p.logger.Info("DLQ processor context cancelled")
			return nil
		}
	}
}

func (p *DLQProcessor) ReplayMessage(message *sarama.ConsumerMessage) error {
	metadata := extractMetadata(message)

	if metadata.RetryCount >= MaxRetries*2 {
		p.logger.WithFields(logrus.Fields{
			"order_key":   string(message.Key),
			"retry_count": metadata.RetryCount,
		}).Error("Message exceeded maximum replay attempts")
		return ErrReplayLimitExceeded
	}

	replayMessage := &sarama.ProducerMessage{
		Topic: p.replayTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("retry_count"), Value: []byte(strconv.Itoa(metadata.RetryCount))},
			{Key: []byte("replayed_from_dlq"), Value: []byte("true")},
			{Key: []byte("replay_time"), Value: []byte(time.Now().Format(time.RFC3339))},
		},
	}

	partition, offset, err := p.producer.SendMessage(replayMessage)
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"replay_topic":     p.replayTopic,
		"replay_partition": partition,
		"replay_offset":    offset,
		"order_key":        string(message.Key),
	}).Info("Message replayed from DLQ")

	return nil
}

func (p *DLQProcessor) Close() error {
	if err := p.producer.Close(); err != nil {
		p.logger.WithError(err).Error("Failed to close producer")
	}
	return p.consumer.Close()
}

type dlqConsumerHandler struct {
	processor *DLQProcessor
	logger    *logrus.Logger
}

func (h *dlqConsumerHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("DLQ consumer session setup")
	return nil
}

func (h *dlqConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("DLQ consumer session cleanup")
	return nil
}

func (h *dlqConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			metadata := extractMetadata(message)
			h.logger.WithFields(logrus.Fields{
				"original_topic": metadata.OriginalTopic,
				"retry_count":    metadata.RetryCount,
				"first_failure":  metadata.FirstFailure,
				"last_failure":   metadata.LastFailure,
				"error_message":  metadata.ErrorMessage,
			}).Warn("DLQ message details")

			select {
			case <-session.Context().Done():
				return nil
			case <-time.After(h.processor.replayDelay):
			}

			if err := h.processor.ReplayMessage(message); err != nil {
				h.logger.WithError(err).Error("Failed to replay DLQ message")
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
