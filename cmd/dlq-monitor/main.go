package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/jogardn/pizza-shack/internal/config"
	"github.com/jogardn/pizza-shack/internal/events"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

func main() {
	replay := flag.Bool("replay", false, "republish dead-lettered status updates instead of only reporting them")
	replayDelay := flag.Duration("replay-delay", 5*time.Second, "wait before each replayed message")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	brokers := cfg.KafkaBrokers
	if brokers == "" {
		brokers = "localhost:9092"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *replay {
		processor, err := events.NewDLQProcessor(brokers, *replayDelay, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create DLQ processor")
		}
		defer processor.Close()

		go func() {
			if err := processor.ProcessDLQ(ctx); err != nil {
				logger.WithError(err).Error("DLQ processor stopped")
			}
		}()
		logger.WithField("topic", events.OrderStatusUpdateDLQTopic).Info("DLQ replay started")
	} else {
		consumer, err := newMonitor(brokers)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create DLQ consumer")
		}
		defer consumer.Close()

		handler := &dlqHandler{logger: logger}
		go func() {
			for ctx.Err() == nil {
				if err := consumer.Consume(ctx, []string{events.OrderStatusUpdateDLQTopic}, handler); err != nil {
					logger.WithError(err).Error("Error consuming from DLQ")
				}
			}
		}()
		logger.WithField("topic", events.OrderStatusUpdateDLQTopic).Info("DLQ monitor started")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down DLQ monitor...")
}

func newMonitor(brokers string) (sarama.ConsumerGroup, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Version = sarama.V2_6_0_0

	return sarama.NewConsumerGroup(strings.Split(brokers, ","), "dlq-monitor-group", consumerConfig)
}

type dlqHandler struct {
	logger *logrus.Logger
}

func (h *dlqHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *dlqHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *dlqHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		report := describe(message)

		h.logger.WithFields(logrus.Fields{
			"partition":     message.Partition,
			"offset":        message.Offset,
			"order_id":      report.Update.OrderID,
			"status":        report.Update.Status,
			"retry_count":   report.Metadata.RetryCount,
			"error_message": report.Metadata.ErrorMessage,
		}).Warn("DLQ message detected")

		fmt.Print(report)
		session.MarkMessage(message, "")
	}
	return nil
}

type dlqReport struct {
	Key         string
	Update      models.OrderStatusUpdate
	Metadata    events.MessageMetadata
	FailureTime string
}

func describe(message *sarama.ConsumerMessage) dlqReport {
	report := dlqReport{Key: string(message.Key)}
	for _, header := range message.Headers {
		switch string(header.Key) {
		case "metadata":
			json.Unmarshal(header.Value, &report.Metadata)
		case "failure_time":
			report.FailureTime = string(header.Value)
		}
	}
	json.Unmarshal(message.Value, &report.Update)
	return report
}

func (r dlqReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n=== DLQ Message ===\n")
	fmt.Fprintf(&b, "Order: %s\n", r.Key)
	fmt.Fprintf(&b, "Requested Status: %s\n", r.Update.Status)
	fmt.Fprintf(&b, "Failed At: %s\n", r.FailureTime)
	fmt.Fprintf(&b, "Error: %s\n", r.Metadata.ErrorMessage)
	fmt.Fprintf(&b, "Retry Count: %d\n", r.Metadata.RetryCount)
	fmt.Fprintf(&b, "===================\n\n")
	return b.String()
}
