package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jogardn/pizza-shack/internal/config"
	"github.com/jogardn/pizza-shack/internal/events"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

type statusPublisher interface {
	PublishStatusUpdate(ctx context.Context, update models.OrderStatusUpdate) error
}

// stages an order walks through after it is placed.
var stages = []models.OrderStatus{
	models.StatusConfirmed,
	models.StatusPreparing,
	models.StatusOutForDelivery,
	models.StatusDelivered,
}

// kitchen plays the store's fulfilment side: every new order is moved
// through the stages with a randomized delay, by publishing status update
// commands back to the pizza API.
type kitchen struct {
	publisher statusPublisher
	delay     time.Duration
	ctx       context.Context
	wg        sync.WaitGroup
	logger    *logrus.Logger
}

func newKitchen(ctx context.Context, publisher statusPublisher, delay time.Duration, logger *logrus.Logger) *kitchen {
	return &kitchen{publisher: publisher, delay: delay, ctx: ctx, logger: logger}
}

func (k *kitchen) OnOrderCreated(_ context.Context, event events.OrderCreatedEvent) error {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.prepare(event)
	}()
	return nil
}

func (k *kitchen) prepare(event events.OrderCreatedEvent) {
	logger := k.logger.WithField("order_id", event.OrderID)

	for _, status := range stages {
		delay := k.delay + time.Duration(rand.Int63n(int64(k.delay)/2+1))
		select {
		case <-time.After(delay):
		case <-k.ctx.Done():
			logger.Warn("Kitchen closed before order was finished")
			return
		}

		update := models.OrderStatusUpdate{OrderID: event.OrderID, Status: status}
		if err := k.publisher.PublishStatusUpdate(k.ctx, update); err != nil {
			logger.WithError(err).WithField("status", status).Error("Failed to publish status update")
			return
		}
		logger.WithFields(logrus.Fields{
			"status":   status,
			"delay_ms": delay.Milliseconds(),
		}).Info("Order moved to next stage")
	}
}

// wait blocks until every order in progress has finished or been abandoned.
func (k *kitchen) wait() {
	k.wg.Wait()
}

func main() {
	stageDelay := flag.Duration("stage-delay", 20*time.Second, "minimum time an order spends in each stage")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	brokers := cfg.KafkaBrokers
	if brokers == "" {
		brokers = "localhost:9092"
	}

	var producer *events.KafkaProducer
	for i := 0; i < 10; i++ {
		producer, err = events.NewKafkaProducer(brokers, logger)
		if err == nil {
			break
		}
		logger.WithError(err).WithField("attempt", i+1).Warn("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer after retries")
	}
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	k := newKitchen(ctx, producer, *stageDelay, logger)

	subscriber, err := events.NewCreatedSubscriber(brokers, "kitchen", k, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create order subscriber")
	}
	defer subscriber.Close()

	go func() {
		if err := subscriber.Start(ctx); err != nil {
			logger.WithError(err).Error("Order subscriber stopped")
		}
	}()

	logger.WithFields(logrus.Fields{
		"brokers":     brokers,
		"stage_delay": stageDelay.String(),
	}).Info("Kitchen open")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Closing kitchen...")
	cancel()
	k.wait()
	logger.Info("Kitchen closed")
}
