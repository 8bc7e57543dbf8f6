package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jogardn/pizza-shack/internal/circuitbreaker"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

// APIError is a non-2xx answer from the Pizza API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pizza api returned %d: %s", e.StatusCode, e.Message)
}

// IsClientError reports whether err is a 4xx answer. Those are the caller's
// fault and never trip the breaker or trigger the fallback URL.
func IsClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError
}

// Client talks to the Pizza API on behalf of the agent.
type Client struct {
	baseURL     string
	fallbackURL string
	httpClient  *http.Client
	breaker     *circuitbreaker.CircuitBreaker
	logger      *logrus.Logger
}

func NewClient(baseURL, fallbackURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		fallbackURL: strings.TrimRight(fallbackURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:        "pizza-api",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			IsFailure:   func(err error) bool { return !IsClientError(err) },
		}, logger),
		logger: logger,
	}
}

func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// GetMenu fetches the public menu. No token is sent.
func (c *Client) GetMenu(ctx context.Context, filter models.MenuFilter) ([]models.MenuItem, error) {
	query := url.Values{}
	if filter.Category != "" {
		query.Set("category", filter.Category)
	}
	if filter.PriceRange != "" {
		query.Set("price_range", filter.PriceRange)
	}
	path := "/api/menu"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var items []models.MenuItem
	if err := c.do(ctx, http.MethodGet, path, "", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) CreateOrder(ctx context.Context, token string, req models.CreateOrderRequest) (*models.Order, error) {
	c.logger.WithField("items", len(req.Items)).Info("Sending order to pizza api")

	var order models.Order
	if err := c.do(ctx, http.MethodPost, "/api/orders", token, req, &order); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":     order.OrderID,
		"total_amount": order.TotalAmount,
	}).Info("Order placed")
	return &order, nil
}

func (c *Client) ListOrders(ctx context.Context, token string) ([]models.Order, error) {
	var orders []models.Order
	if err := c.do(ctx, http.MethodGet, "/api/orders", token, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) GetOrder(ctx context.Context, token, orderID string) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(orderID), token, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		return c.send(ctx, c.baseURL, method, path, token, payload, out)
	})
	if err == nil || c.fallbackURL == "" || IsClientError(err) || ctx.Err() != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"path":  path,
		"error": err.Error(),
	}).Warn("Primary pizza api failed, trying fallback")
	return c.send(ctx, c.fallbackURL, method, path, token, payload, out)
}

func (c *Client) send(ctx context.Context, baseURL, method, path, token string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to pizza api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp models.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode pizza api response: %w", err)
	}
	return nil
}
