package events

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// StatusListener is notified of order status changes, e.g. to push them to
// a customer's chat session.
type StatusListener interface {
	OnOrderStatusChanged(ctx context.Context, event OrderStatusChangedEvent) error
}

// CreatedListener is notified of newly placed orders.
type CreatedListener interface {
	OnOrderCreated(ctx context.Context, event OrderCreatedEvent) error
}

// Subscriber fans order events out to a listener. Delivery is best effort:
// a failed listener call is logged and the offset is still committed.
type Subscriber struct {
	consumerGroup sarama.ConsumerGroup
	handler       *subscriberHandler
	logger        *logrus.Logger
	topics        []string
}

type subscriberHandler struct {
	status  StatusListener
	created CreatedListener
	logger  *logrus.Logger
}

func NewStatusSubscriber(brokers, groupID string, listener StatusListener, logger *logrus.Logger) (*Subscriber, error) {
	return newSubscriber(brokers, groupID, OrderStatusChangedTopic, &subscriberHandler{status: listener, logger: logger}, logger)
}

func NewCreatedSubscriber(brokers, groupID string, listener CreatedListener, logger *logrus.Logger) (*Subscriber, error) {
	return newSubscriber(brokers, groupID, OrderCreatedTopic, &subscriberHandler{created: listener, logger: logger}, logger)
}

func newSubscriber(brokers, groupID, topic string, handler *subscriberHandler, logger *logrus.Logger) (*Subscriber, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(splitBrokers(brokers), groupID, config)
	if err != nil {
		return nil, err
	}

	return &Subscriber{
		consumerGroup: consumerGroup,
		handler:       handler,
		logger:        logger,
		topics:        []string{topic},
	}, nil
}

func (s *Subscriber) Start(ctx context.Context) error {
	for {
		if err := s.consumerGroup.Consume(ctx, s.topics, s.handler); err != nil {
			s.logger.WithError(err).Error("Error consuming from Kafka")
			return err
		}
		if ctx.Err() != nil {
			s.logger.Info("Kafka subscriber context cancelled")
			return nil
		}
	}
}

func (s *Subscriber) Close() error {
	return s.consumerGroup.Close()
}

func (h *subscriberHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *subscriberHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *subscriberHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			if err := h.handleMessage(session.Context(), message); err != nil {
				h.logger.WithError(err).WithFields(logrus.Fields{
					"topic":  message.Topic,
					"offset": message.Offset,
				}).Warn("Failed to handle order event")
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *subscriberHandler) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	switch {
	case message.Topic == OrderStatusChangedTopic && h.status != nil:
		var event OrderStatusChangedEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return err
		}
		h.logger.WithFields(logrus.Fields{
			"order_id": event.OrderID,
			"status":   event.Status,
		}).Info("Processing order status event")
		return h.status.OnOrderStatusChanged(ctx, event)

	case message.Topic == OrderCreatedTopic && h.created != nil:
		var event OrderCreatedEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return err
		}
		h.logger.WithFields(logrus.Fields{
			"order_id":     event.OrderID,
			"total_amount": event.TotalAmount,
		}).Info("Processing order created event")
		return h.created.OnOrderCreated(ctx, event)
	}

	h.logger.WithField("topic", message.Topic).Warn("Unknown topic received")
	return nil
}
