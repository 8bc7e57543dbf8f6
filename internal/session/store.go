package session

import (
	"context"
	"errors"
	"time"

	"github.com/jogardn/pizza-shack/pkg/models"
)

var ErrNotFound = errors.New("session entry not found")

// AuthState is kept between sending the user to the IdP and the callback.
type AuthState struct {
	SessionID    string    `json:"session_id"`
	CodeVerifier string    `json:"code_verifier"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
}

// Token is a delegated (OBO) access token cached for a chat session.
type Token struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	Scopes      []string  `json:"scopes"`
	Expiry      time.Time `json:"expiry"`
}

const expirySkew = 30 * time.Second

// Valid reports whether the token can still be sent. Tokens without an
// expiry are treated as valid.
func (t *Token) Valid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || time.Now().Add(expirySkew).Before(t.Expiry)
}

func (t *Token) ttl() time.Duration {
	if t.Expiry.IsZero() {
		return time.Hour
	}
	if d := time.Until(t.Expiry); d > 0 {
		return d
	}
	return time.Second
}

// PendingOrder is an order the assistant is holding until the user
// authorizes it.
type PendingOrder struct {
	Request   models.CreateOrderRequest `json:"request"`
	Summary   string                    `json:"summary"`
	CreatedAt time.Time                 `json:"created_at"`
}

// Store holds per chat session state for the agent. Take operations are
// one shot: a second Take for the same key returns ErrNotFound.
type Store interface {
	PutAuthState(ctx context.Context, state string, auth AuthState, ttl time.Duration) error
	TakeAuthState(ctx context.Context, state string) (*AuthState, error)

	PutToken(ctx context.Context, sessionID string, token Token) error
	GetToken(ctx context.Context, sessionID string) (*Token, error)
	DropToken(ctx context.Context, sessionID string) error

	PutPendingOrder(ctx context.Context, sessionID string, order PendingOrder, ttl time.Duration) error
	TakePendingOrder(ctx context.Context, sessionID string) (*PendingOrder, error)
	ClearPendingOrder(ctx context.Context, sessionID string) error

	PutConfirmation(ctx context.Context, sessionID, correlationID, orderID string) error
	AckConfirmation(ctx context.Context, sessionID, correlationID string) (string, error)

	// Clear drops pending orders and unacknowledged confirmations. Cached
	// tokens survive so a reconnecting client does not have to log in again.
	Clear(ctx context.Context, sessionID string) error

	Close() error
}
