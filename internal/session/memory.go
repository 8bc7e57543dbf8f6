package session

import (
	"context"
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e entry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is the single-process Store used when REDIS_URL is unset.
type MemoryStore struct {
	mutex         sync.Mutex
	authStates    map[string]entry[AuthState]
	tokens        map[string]Token
	pending       map[string]entry[PendingOrder]
	confirmations map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		authStates:    make(map[string]entry[AuthState]),
		tokens:        make(map[string]Token),
		pending:       make(map[string]entry[PendingOrder]),
		confirmations: make(map[string]map[string]string),
	}
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (s *MemoryStore) PutAuthState(_ context.Context, state string, auth AuthState, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.authStates[state] = entry[AuthState]{value: auth, expiresAt: expiry(ttl)}
	return nil
}

func (s *MemoryStore) TakeAuthState(_ context.Context, state string) (*AuthState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.authStates[state]
	delete(s.authStates, state)
	if !ok || e.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return &e.value, nil
}

func (s *MemoryStore) PutToken(_ context.Context, sessionID string, token Token) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.tokens[sessionID] = token
	return nil
}

func (s *MemoryStore) GetToken(_ context.Context, sessionID string) (*Token, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	token, ok := s.tokens[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if !token.Valid() {
		delete(s.tokens, sessionID)
		return nil, ErrNotFound
	}
	return &token, nil
}

func (s *MemoryStore) DropToken(_ context.Context, sessionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.tokens, sessionID)
	return nil
}

func (s *MemoryStore) PutPendingOrder(_ context.Context, sessionID string, order PendingOrder, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pending[sessionID] = entry[PendingOrder]{value: order, expiresAt: expiry(ttl)}
	return nil
}

func (s *MemoryStore) TakePendingOrder(_ context.Context, sessionID string) (*PendingOrder, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.pending[sessionID]
	delete(s.pending, sessionID)
	if !ok || e.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return &e.value, nil
}

func (s *MemoryStore) ClearPendingOrder(_ context.Context, sessionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.pending, sessionID)
	return nil
}

func (s *MemoryStore) PutConfirmation(_ context.Context, sessionID, correlationID, orderID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.confirmations[sessionID] == nil {
		s.confirmations[sessionID] = make(map[string]string)
	}
	s.confirmations[sessionID][correlationID] = orderID
	return nil
}

func (s *MemoryStore) AckConfirmation(_ context.Context, sessionID, correlationID string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	orderID, ok := s.confirmations[sessionID][correlationID]
	if !ok {
		return "", ErrNotFound
	}
	delete(s.confirmations[sessionID], correlationID)
	return orderID, nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.pending, sessionID)
	delete(s.confirmations, sessionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
