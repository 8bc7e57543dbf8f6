package models

import "time"

// Chat envelope types exchanged over the agent WebSocket.
const (
	EnvelopeMessage           = "message"
	EnvelopeAuthRequest       = "auth_request"
	EnvelopeError             = "error"
	EnvelopeOrderConfirmation = "order_confirmation"
	EnvelopeOrderStatus       = "order_status"

	ControlOrderCancel = "order_cancel"
	ControlOrderAck    = "order_ack"
)

const SenderAssistant = "assistant"

type Envelope struct {
	Type          string      `json:"type"`
	Content       string      `json:"content,omitempty"`
	Sender        string      `json:"sender,omitempty"`
	AuthURL       string      `json:"auth_url,omitempty"`
	State         string      `json:"state,omitempty"`
	Scopes        []string    `json:"scopes,omitempty"`
	Message       string      `json:"message,omitempty"`
	OrderID       string      `json:"order_id,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	TotalAmount   float64     `json:"total_amount,omitempty"`
	Status        OrderStatus `json:"status,omitempty"`
}

func AssistantMessage(content string) Envelope {
	return Envelope{Type: EnvelopeMessage, Content: content, Sender: SenderAssistant}
}

func ErrorEnvelope(message string) Envelope {
	return Envelope{Type: EnvelopeError, Message: message}
}

// ControlFrame is a JSON frame sent by the chat client instead of plain text.
type ControlFrame struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type ErrorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	Timestamp  string `json:"timestamp"`
}

func NewErrorResponse(code int, message string) ErrorResponse {
	return ErrorResponse{
		Error:      message,
		StatusCode: code,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}
