package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/pizza-shack/internal/auth"
	"github.com/jogardn/pizza-shack/internal/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrUnknownState = errors.New("unknown or expired authorization state")

type Config struct {
	IDPBaseURL   string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// AgentID and AgentSecret identify the agent itself. When set, every
	// authorization request names the agent as requested_actor and the
	// code exchange carries the agent's own token as actor_token.
	AgentID     string
	AgentSecret string
	Resource    string
	AuthTimeout time.Duration
}

// AuthRequest is what the chat client needs to open the consent popup.
type AuthRequest struct {
	AuthURL string
	State   string
	Scopes  []string
}

// Manager runs the authorization code + PKCE flow that yields on-behalf-of
// tokens for chat sessions.
type Manager struct {
	oauth      *oauth2.Config
	actor      oauth2.TokenSource
	config     Config
	store      session.Store
	httpClient *http.Client
	decoder    *auth.Decoder
	logger     *logrus.Logger
}

func NewManager(config Config, store session.Store, logger *logrus.Logger) *Manager {
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = 5 * time.Minute
	}
	base := strings.TrimRight(config.IDPBaseURL, "/")
	endpoint := oauth2.Endpoint{
		AuthURL:  base + "/oauth2/authorize",
		TokenURL: base + "/oauth2/token",
	}
	httpClient := &http.Client{Timeout: 10 * time.Second}

	m := &Manager{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  config.RedirectURI,
		},
		config:     config,
		store:      store,
		httpClient: httpClient,
		decoder:    auth.NewDecoder(),
		logger:     logger,
	}

	if config.AgentID != "" && config.AgentSecret != "" {
		actor := &clientcredentials.Config{
			ClientID:     config.AgentID,
			ClientSecret: config.AgentSecret,
			TokenURL:     endpoint.TokenURL,
		}
		m.actor = actor.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, httpClient))
	}
	return m
}

func (m *Manager) AuthTimeout() time.Duration {
	return m.config.AuthTimeout
}

// Begin records a new authorization attempt for the session and returns
// the URL the user has to visit.
func (m *Manager) Begin(ctx context.Context, sessionID string, scopes []string) (*AuthRequest, error) {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	err := m.store.PutAuthState(ctx, state, session.AuthState{
		SessionID:    sessionID,
		CodeVerifier: verifier,
		Scopes:       scopes,
		CreatedAt:    time.Now().UTC(),
	}, m.config.AuthTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to store authorization state: %w", err)
	}

	cfg := *m.oauth
	cfg.Scopes = scopes
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if m.config.AgentID != "" {
		opts = append(opts, oauth2.SetAuthURLParam("requested_actor", m.config.AgentID))
	}
	if m.config.Resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", m.config.Resource))
	}

	m.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"scopes":     scopes,
	}).Info("Authorization requested")

	return &AuthRequest{
		AuthURL: cfg.AuthCodeURL(state, opts...),
		State:   state,
		Scopes:  scopes,
	}, nil
}

// Complete exchanges the authorization code for the session's OBO token.
// A state is accepted once.
func (m *Manager) Complete(ctx context.Context, state, code string) (string, *session.Token, error) {
	pending, err := m.store.TakeAuthState(ctx, state)
	if errors.Is(err, session.ErrNotFound) {
		return "", nil, ErrUnknownState
	}
	if err != nil {
		return "", nil, err
	}

	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(pending.CodeVerifier)}
	if m.actor != nil {
		actorToken, err := m.actor.Token()
		if err != nil {
			return pending.SessionID, nil, fmt.Errorf("failed to obtain agent token: %w", err)
		}
		opts = append(opts, oauth2.SetAuthURLParam("actor_token", actorToken.AccessToken))
	}
	if m.config.Resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", m.config.Resource))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	cfg := *m.oauth
	cfg.Scopes = pending.Scopes
	tok, err := cfg.Exchange(ctx, code, opts...)
	if err != nil {
		return pending.SessionID, nil, fmt.Errorf("token exchange failed: %w", err)
	}

	token := &session.Token{
		AccessToken: tok.AccessToken,
		Scopes:      pending.Scopes,
		Expiry:      tok.Expiry,
	}
	if granted, ok := tok.Extra("scope").(string); ok && granted != "" {
		token.Scopes = strings.Fields(granted)
	}
	if principal, err := m.decoder.Validate(ctx, tok.AccessToken); err == nil {
		token.UserID = principal.Subject
	}

	if err := m.store.PutToken(ctx, pending.SessionID, *token); err != nil {
		return pending.SessionID, nil, fmt.Errorf("failed to cache token: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"session_id": pending.SessionID,
		"user_id":    token.UserID,
		"token":      auth.Preview(token.AccessToken),
		"scopes":     token.Scopes,
	}).Info("Authorization completed")

	return pending.SessionID, token, nil
}

// Token returns the cached token for a session, if any.
func (m *Manager) Token(ctx context.Context, sessionID string) (*session.Token, bool) {
	token, err := m.store.GetToken(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			m.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to read cached token")
		}
		return nil, false
	}
	return token, true
}

func (m *Manager) Forget(ctx context.Context, sessionID string) error {
	return m.store.DropToken(ctx, sessionID)
}
