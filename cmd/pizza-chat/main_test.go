package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type recordingSender struct {
	messages []string
	controls []models.ControlFrame
}

func (r *recordingSender) Send(message string) error {
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordingSender) SendControl(frame models.ControlFrame) error {
	r.controls = append(r.controls, frame)
	return nil
}

func TestReadInput(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	sender := &recordingSender{}

	readInput(strings.NewReader("menu\n\n  Cancel \norder 2 margherita\nexit\n"), sender, logger)

	assert.Equal(t, []string{"menu", "order 2 margherita", "exit"}, sender.messages)
	assert.Equal(t, []models.ControlFrame{{Type: models.ControlOrderCancel}}, sender.controls)
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		envelope models.Envelope
		want     string
	}{
		{
			name:     "assistant message",
			envelope: models.AssistantMessage("Here's our menu"),
			want:     "Here's our menu",
		},
		{
			name:     "auth request",
			envelope: models.Envelope{Type: models.EnvelopeAuthRequest, AuthURL: "https://idp/authorize?state=s", Scopes: []string{"order:write"}},
			want:     "https://idp/authorize?state=s",
		},
		{
			name:     "error",
			envelope: models.ErrorEnvelope("Menu unavailable"),
			want:     "❌ Menu unavailable",
		},
		{
			name:     "order status",
			envelope: models.Envelope{Type: models.EnvelopeOrderStatus, OrderID: "ORD-1", Status: models.OrderStatus("preparing")},
			want:     "Order ORD-1 is now preparing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			render(&out, tt.envelope)
			assert.Contains(t, out.String(), tt.want)
		})
	}
}
