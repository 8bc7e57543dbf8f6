package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	OrderCreatedTopic       = "order.created"
	OrderStatusChangedTopic = "order.status_changed"
	OrderStatusUpdateTopic  = "order.status.update"
)

type OrderCreatedEvent struct {
	OrderID     string             `json:"order_id"`
	UserID      string             `json:"user_id"`
	AgentID     string             `json:"agent_id,omitempty"`
	TokenType   models.TokenType   `json:"token_type"`
	TotalAmount float64            `json:"total_amount"`
	ItemCount   int                `json:"item_count"`
	Status      models.OrderStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	EventTime   time.Time          `json:"event_time"`
}

type OrderStatusChangedEvent struct {
	OrderID        string             `json:"order_id"`
	UserID         string             `json:"user_id"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
	Status         models.OrderStatus `json:"status"`
	UpdatedAt      time.Time          `json:"updated_at"`
	EventTime      time.Time          `json:"event_time"`
}

func newProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0
	return config
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewKafkaProducer(brokers string, logger *logrus.Logger) (*KafkaProducer, error) {
	producer, err := sarama.NewSyncProducer(splitBrokers(brokers), newProducerConfig())
	if err != nil {
		return nil, err
	}
	return NewKafkaProducerWith(producer, logger), nil
}

// NewKafkaProducerWith wraps an existing sarama producer.
func NewKafkaProducerWith(producer sarama.SyncProducer, logger *logrus.Logger) *KafkaProducer {
	return &KafkaProducer{
		producer: producer,
		logger:   logger,
	}
}

func (p *KafkaProducer) PublishOrderCreated(_ context.Context, order *models.Order) error {
	event := OrderCreatedEvent{
		OrderID:     order.OrderID,
		UserID:      order.UserID,
		AgentID:     order.AgentID,
		TokenType:   order.TokenType,
		TotalAmount: order.TotalAmount,
		ItemCount:   len(order.Items),
		Status:      order.Status,
		CreatedAt:   order.CreatedAt,
		EventTime:   time.Now(),
	}
	return p.publish(OrderCreatedTopic, order.OrderID, event)
}

func (p *KafkaProducer) PublishOrderStatusChanged(_ context.Context, order *models.Order, previous models.OrderStatus) error {
	event := OrderStatusChangedEvent{
		OrderID:        order.OrderID,
		UserID:         order.UserID,
		PreviousStatus: previous,
		Status:         order.Status,
		UpdatedAt:      order.UpdatedAt,
		EventTime:      time.Now(),
	}
	return p.publish(OrderStatusChangedTopic, order.OrderID, event)
}

func (p *KafkaProducer) PublishStatusUpdate(_ context.Context, update models.OrderStatusUpdate) error {
	return p.publish(OrderStatusUpdateTopic, update.OrderID, update)
}

func (p *KafkaProducer) publish(topic, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("Failed to send message to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
		"order_id":  key,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
