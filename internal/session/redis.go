package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	defaultKeyPrefix = "pizza-agent"
	confirmationTTL  = 24 * time.Hour
)

type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *logrus.Logger
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(ctx context.Context, redisURL string, logger *logrus.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.WithField("addr", opt.Addr).Info("Session store connected to redis")
	return NewRedisStoreWithClient(client, defaultKeyPrefix, logger), nil
}

func NewRedisStoreWithClient(client *redis.Client, keyPrefix string, logger *logrus.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, logger: logger}
}

func (s *RedisStore) authKey(state string) string {
	return s.keyPrefix + ":auth:" + state
}

func (s *RedisStore) tokenKey(sessionID string) string {
	return s.keyPrefix + ":token:" + sessionID
}

func (s *RedisStore) pendingKey(sessionID string) string {
	return s.keyPrefix + ":pending:" + sessionID
}

func (s *RedisStore) confirmKey(sessionID string) string {
	return s.keyPrefix + ":confirm:" + sessionID
}

func (s *RedisStore) PutAuthState(ctx context.Context, state string, auth AuthState, ttl time.Duration) error {
	return s.setJSON(ctx, s.authKey(state), auth, ttl)
}

func (s *RedisStore) TakeAuthState(ctx context.Context, state string) (*AuthState, error) {
	var auth AuthState
	if err := s.takeJSON(ctx, s.authKey(state), &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

func (s *RedisStore) PutToken(ctx context.Context, sessionID string, token Token) error {
	return s.setJSON(ctx, s.tokenKey(sessionID), token, token.ttl())
}

func (s *RedisStore) GetToken(ctx context.Context, sessionID string) (*Token, error) {
	data, err := s.client.Get(ctx, s.tokenKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	if !token.Valid() {
		s.client.Del(ctx, s.tokenKey(sessionID))
		s.logger.WithField("session_id", sessionID).Debug("Dropped expired session token")
		return nil, ErrNotFound
	}
	return &token, nil
}

func (s *RedisStore) DropToken(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.tokenKey(sessionID)).Err()
}

func (s *RedisStore) PutPendingOrder(ctx context.Context, sessionID string, order PendingOrder, ttl time.Duration) error {
	return s.setJSON(ctx, s.pendingKey(sessionID), order, ttl)
}

func (s *RedisStore) TakePendingOrder(ctx context.Context, sessionID string) (*PendingOrder, error) {
	var order PendingOrder
	if err := s.takeJSON(ctx, s.pendingKey(sessionID), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *RedisStore) ClearPendingOrder(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.pendingKey(sessionID)).Err()
}

func (s *RedisStore) PutConfirmation(ctx context.Context, sessionID, correlationID, orderID string) error {
	key := s.confirmKey(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, correlationID, orderID)
		pipe.Expire(ctx, key, confirmationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store confirmation: %w", err)
	}
	return nil
}

func (s *RedisStore) AckConfirmation(ctx context.Context, sessionID, correlationID string) (string, error) {
	key := s.confirmKey(sessionID)

	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, key, correlationID)
		pipe.HDel(ctx, key, correlationID)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to acknowledge confirmation: %w", err)
	}
	return get.Val(), nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.pendingKey(sessionID), s.confirmKey(sessionID)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) takeJSON(ctx context.Context, key string, out any) error {
	data, err := s.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
