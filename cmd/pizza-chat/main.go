package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/jogardn/pizza-shack/internal/chatclient"
	"github.com/jogardn/pizza-shack/internal/config"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	chatURL := flag.String("url", cfg.Agent.ChatURL, "agent chat endpoint")
	sessionID := flag.String("session", uuid.NewString(), "chat session id")
	flag.Parse()

	// Logs go to stderr so they do not interleave with the conversation.
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if strings.EqualFold(cfg.LogLevel, "debug") {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	client := chatclient.New(chatclient.Config{
		URL:       *chatURL,
		SessionID: *sessionID,
	}, func(envelope models.Envelope) {
		render(os.Stdout, envelope)
	}, logger)

	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx)
	}()

	fmt.Println("🍕 Welcome to Pizza Shack! Type 'menu' to get started, 'cancel' to drop a pending order, 'exit' to leave.")
	go readInput(os.Stdin, client, logger)

	if err := <-done; err != nil {
		logger.WithError(err).Error("Chat stopped")
		os.Exit(1)
	}
}

type sender interface {
	Send(message string) error
	SendControl(frame models.ControlFrame) error
}

// readInput forwards each typed line to the agent. "cancel" becomes an
// order_cancel control frame; everything else, exit included, is sent as
// text and the agent closes the session on exit.
func readInput(in io.Reader, client sender, logger *logrus.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		if strings.EqualFold(line, "cancel") {
			err = client.SendControl(models.ControlFrame{Type: models.ControlOrderCancel})
		} else {
			err = client.Send(line)
		}
		if err != nil {
			logger.WithError(err).Warn("Message not sent")
			fmt.Println("⚠️  Still reconnecting, please try again in a moment.")
		}
	}
}

func render(w io.Writer, envelope models.Envelope) {
	switch envelope.Type {
	case models.EnvelopeAuthRequest:
		fmt.Fprintf(w, "\n🔐 Please sign in to place your order:\n%s\n", envelope.AuthURL)
		if len(envelope.Scopes) > 0 {
			fmt.Fprintf(w, "Requested access: %s\n", strings.Join(envelope.Scopes, ", "))
		}
	case models.EnvelopeError:
		fmt.Fprintf(w, "\n❌ %s\n", envelope.Message)
	case models.EnvelopeOrderConfirmation:
		fmt.Fprintf(w, "\n✅ Order %s placed (total $%.2f)\n", envelope.OrderID, envelope.TotalAmount)
	case models.EnvelopeOrderStatus:
		fmt.Fprintf(w, "\n📦 Order %s is now %s\n", envelope.OrderID, envelope.Status)
	default:
		fmt.Fprintf(w, "\n%s\n", envelope.Content)
	}
}
