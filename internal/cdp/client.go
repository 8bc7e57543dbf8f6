package cdp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jogardn/pizza-shack/internal/circuitbreaker"
	"github.com/sirupsen/logrus"
)

var ErrProfileNotFound = errors.New("profile not found in CDP")

// Profile is the behavioural profile the CDP keeps for a user.
type Profile struct {
	UserID              string         `json:"user_id"`
	PreferredCategories []string       `json:"preferred_categories"`
	FavoriteItems       []string       `json:"favorite_items"`
	OrderCount          int            `json:"order_count"`
	Traits              map[string]any `json:"traits,omitempty"`
}

// Event is a behavioural event reported back to the CDP.
type Event struct {
	UserID     string         `json:"user_id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

func NewClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: breaker,
		logger:  logger,
	}
}

func (c *Client) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.ExecuteContext(ctx, fn)
}

func (c *Client) Profile(ctx context.Context, userID string) (*Profile, error) {
	c.logger.WithField("user_id", userID).Debug("Fetching profile from CDP")

	var profile Profile
	err := c.execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/profiles/"+url.PathEscape(userID), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request to CDP: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return ErrProfileNotFound
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("CDP returned error status: %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
			return fmt.Errorf("failed to decode CDP response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if profile.UserID == "" {
		profile.UserID = userID
	}
	return &profile, nil
}

// Track reports an event. Callers treat failures as non-fatal.
func (c *Client) Track(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return c.execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send event to CDP: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("CDP returned error status: %d", resp.StatusCode)
		}

		c.logger.WithFields(logrus.Fields{
			"user_id": event.UserID,
			"type":    event.Type,
		}).Debug("Event sent to CDP")
		return nil
	})
}
