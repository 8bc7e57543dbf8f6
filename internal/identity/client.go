package identity

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
	"github.com/sirupsen/logrus"
)

// Verification workflow actions accepted by the provider.
const (
	ActionInitiate   = "initiate"
	ActionComplete   = "complete"
	ActionReinitiate = "reinitiate"
)

// Workflow states reported by the provider.
const (
	WorkflowPending    = "PENDING"
	WorkflowInProgress = "IN_PROGRESS"
	WorkflowCompleted  = "COMPLETED"
	WorkflowFailed     = "FAILED"
)

var ErrUnknownAction = errors.New("unknown verification action")

// ProviderError is a non-2xx answer from the verification provider.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("verification provider returned %d: %s", e.StatusCode, e.Body)
}

type Request struct {
	Claims      []string          `json:"claims"`
	ReferenceID string            `json:"reference_id,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// Verification is the provider's view of a workflow. SDKToken is handed to
// the third-party capture SDK on the client.
type Verification struct {
	ReferenceID    string   `json:"reference_id"`
	WorkflowStatus string   `json:"workflow_status"`
	Claims         []string `json:"claims,omitempty"`
	SDKToken       string   `json:"sdk_token,omitempty"`
}

type Status struct {
	Claim          string `json:"claim"`
	IsVerified     bool   `json:"is_verified"`
	WorkflowStatus string `json:"workflow_status"`
}

// Client forwards the user's own token to the identity platform's
// verification API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

func NewClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		logger:     logger,
	}
}

func (c *Client) Initiate(ctx context.Context, token string, req Request) (*Verification, error) {
	return c.Run(ctx, token, ActionInitiate, req)
}

func (c *Client) Complete(ctx context.Context, token string, req Request) (*Verification, error) {
	return c.Run(ctx, token, ActionComplete, req)
}

func (c *Client) Reinitiate(ctx context.Context, token string, req Request) (*Verification, error) {
	return c.Run(ctx, token, ActionReinitiate, req)
}

// Run posts one workflow action.
func (c *Client) Run(ctx context.Context, token, action string, req Request) (*Verification, error) {
	switch action {
	case ActionInitiate, ActionComplete, ActionReinitiate:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verification request: %w", err)
	}

	var verification Verification
	if err := c.do(ctx, http.MethodPost, "/verification/"+action, token, payload, &verification); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"action":          action,
		"reference_id":    verification.ReferenceID,
		"workflow_status": verification.WorkflowStatus,
	}).Info("Verification workflow updated")
	return &verification, nil
}

// ClaimStatus reports whether the user's claim has been verified.
func (c *Client) ClaimStatus(ctx context.Context, token, claim string) (*Status, error) {
	var status Status
	if err := c.do(ctx, http.MethodGet, "/verification/claims/"+url.PathEscape(claim), token, nil, &status); err != nil {
		return nil, err
	}
	if status.Claim == "" {
		status.Claim = claim
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, payload []byte, out any) error {
	call := func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach verification provider: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return &ProviderError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode verification response: %w", err)
		}
		return nil
	}

	if c.breaker == nil {
		return call(ctx)
	}
	return c.breaker.ExecuteContext(ctx, call)
}
