package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jogardn/pizza-shack/pkg/models"
)

const (
	taxPercent       = 8
	deliveryFeeCents = 299
	familyMinCents   = 2500
)

var ErrUnknownPizza = errors.New("pizza not on the menu")

// PizzaError names the pizza a quote could not price.
type PizzaError struct {
	Name string
}

func (e *PizzaError) Error() string { return fmt.Sprintf("%s: %s", ErrUnknownPizza, e.Name) }

func (e *PizzaError) Unwrap() error { return ErrUnknownPizza }

type discountRule struct {
	percent     int64
	fixedCents  int64
	minCents    int64
	description string
}

var discountRules = map[string]discountRule{
	"PIZZA10": {percent: 10, description: "10% off your order"},
	"WELCOME": {fixedCents: 500, description: "$5 off your first order"},
	"STUDENT": {percent: 15, description: "15% student discount"},
	"FAMILY":  {fixedCents: 300, minCents: familyMinCents, description: "$3 off orders over $25"},
}

type LineItem struct {
	MenuItemID int64   `json:"menu_item_id"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	Size       string  `json:"size"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}

type Discount struct {
	Code        string  `json:"code"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

type Quote struct {
	Items              []LineItem `json:"items"`
	Subtotal           float64    `json:"subtotal"`
	Discount           *Discount  `json:"discount,omitempty"`
	DiscountNote       string     `json:"discount_note,omitempty"`
	DiscountedSubtotal float64    `json:"discounted_subtotal"`
	Tax                float64    `json:"tax"`
	DeliveryFee        float64    `json:"delivery_fee"`
	Total              float64    `json:"total"`
}

// Calculate prices the mentioned pizzas against the menu the API serves,
// so the quote matches what the order endpoint will charge before tax and
// delivery.
func Calculate(items []ItemMention, menu []models.MenuItem, discountCode string, includeDelivery bool) (*Quote, error) {
	byName := make(map[string]models.MenuItem, len(menu))
	for _, item := range menu {
		byName[strings.ToLower(item.Name)] = item
	}

	quote := &Quote{Items: make([]LineItem, 0, len(items))}
	var subtotal int64
	for _, mention := range items {
		item, ok := byName[strings.ToLower(mention.Name)]
		if !ok || !item.Available {
			return nil, &PizzaError{Name: mention.Name}
		}
		quantity := mention.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		size := mention.Size
		if size == "" {
			size = models.DefaultSize
		}

		unit := models.ToCents(item.Price)
		line := unit * int64(quantity)
		subtotal += line
		quote.Items = append(quote.Items, LineItem{
			MenuItemID: item.ID,
			Name:       item.Name,
			Quantity:   quantity,
			Size:       size,
			UnitPrice:  models.FromCents(unit),
			TotalPrice: models.FromCents(line),
		})
	}

	discount, note := applyDiscount(subtotal, discountCode)
	discounted := subtotal - discount
	tax := roundPercent(discounted, taxPercent)
	var delivery int64
	if includeDelivery {
		delivery = deliveryFeeCents
	}

	quote.Subtotal = models.FromCents(subtotal)
	quote.DiscountNote = note
	if discount > 0 {
		quote.Discount = &Discount{
			Code:        strings.ToUpper(discountCode),
			Amount:      models.FromCents(discount),
			Description: discountRules[strings.ToUpper(discountCode)].description,
		}
		quote.DiscountNote = ""
	}
	quote.DiscountedSubtotal = models.FromCents(discounted)
	quote.Tax = models.FromCents(tax)
	quote.DeliveryFee = models.FromCents(delivery)
	quote.Total = models.FromCents(discounted + tax + delivery)
	return quote, nil
}

func applyDiscount(subtotal int64, code string) (int64, string) {
	rule, ok := discountRules[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return 0, ""
	}
	if subtotal < rule.minCents {
		return 0, "Family discount requires minimum $25 order"
	}
	if rule.percent > 0 {
		return roundPercent(subtotal, rule.percent), ""
	}
	return min(rule.fixedCents, subtotal), ""
}

// roundPercent returns pct percent of cents, rounded half up.
func roundPercent(cents, pct int64) int64 {
	return (cents*pct + 50) / 100
}

// OrderRequest turns a quote into the API request body.
func (q *Quote) OrderRequest() models.CreateOrderRequest {
	req := models.CreateOrderRequest{Items: make([]models.OrderItemRequest, 0, len(q.Items))}
	for _, item := range q.Items {
		req.Items = append(req.Items, models.OrderItemRequest{
			MenuItemID: item.MenuItemID,
			Quantity:   item.Quantity,
			Size:       item.Size,
		})
	}
	return req
}
