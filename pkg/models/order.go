package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing,
		StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// TokenType records whether an order was placed by the user directly or by
// an agent acting on the user's behalf.
type TokenType string

const (
	TokenTypeUser TokenType = "user"
	TokenTypeOBO  TokenType = "obo"
)

const DefaultSize = "medium"

type CustomerInfo struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type OrderItem struct {
	MenuItemID          int64   `json:"menu_item_id"`
	Name                string  `json:"name"`
	Quantity            int     `json:"quantity"`
	Size                string  `json:"size"`
	UnitPrice           float64 `json:"unit_price"`
	TotalPrice          float64 `json:"total_price"`
	SpecialInstructions string  `json:"special_instructions,omitempty"`
}

type Order struct {
	ID           int64         `json:"id"`
	OrderID      string        `json:"order_id"`
	UserID       string        `json:"user_id"`
	AgentID      string        `json:"agent_id,omitempty"`
	CustomerInfo *CustomerInfo `json:"customer_info,omitempty"`
	Items        []OrderItem   `json:"items"`
	TotalAmount  float64       `json:"total_amount"`
	Status       OrderStatus   `json:"status"`
	TokenType    TokenType     `json:"token_type"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ItemsTotal sums the line totals in whole cents.
func (o *Order) ItemsTotal() float64 {
	var cents int64
	for _, item := range o.Items {
		cents += ToCents(item.TotalPrice)
	}
	return FromCents(cents)
}

type OrderItemRequest struct {
	MenuItemID          int64  `json:"menu_item_id"`
	Quantity            int    `json:"quantity"`
	Size                string `json:"size,omitempty"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
}

type CreateOrderRequest struct {
	Items        []OrderItemRequest `json:"items"`
	CustomerInfo *CustomerInfo      `json:"customer_info,omitempty"`
}

var ErrInvalidOrderRequest = errors.New("invalid order request")

// MaxItemQuantity caps a single order line.
const MaxItemQuantity = 100

// MaxOrderCents is the largest total the orders table can store
// (NUMERIC(10,2)).
const MaxOrderCents int64 = 99_999_999_99

func (r *CreateOrderRequest) Validate() error {
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidOrderRequest)
	}
	for i, item := range r.Items {
		if item.MenuItemID <= 0 {
			return fmt.Errorf("%w: items[%d].menu_item_id must be positive", ErrInvalidOrderRequest, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be greater than 0", ErrInvalidOrderRequest, i)
		}
		if item.Quantity > MaxItemQuantity {
			return fmt.Errorf("%w: items[%d].quantity must be at most %d", ErrInvalidOrderRequest, i, MaxItemQuantity)
		}
	}
	return nil
}

type OrderStatusUpdate struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
}

func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func FromCents(cents int64) float64 {
	return float64(cents) / 100
}
