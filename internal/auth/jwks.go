package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const jwksMinRefreshInterval = 30 * time.Second

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS caches RSA signing keys published by the identity provider. Keys are
// fetched lazily and refetched when a token names an unknown kid.
type JWKS struct {
	url        string
	httpClient *http.Client
	logger     *logrus.Logger

	mutex       sync.RWMutex
	keys        map[string]*rsa.PublicKey
	lastRefresh time.Time
}

func NewJWKS(url string, logger *logrus.Logger) *JWKS {
	return &JWKS{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		keys:       make(map[string]*rsa.PublicKey),
	}
}

func (j *JWKS) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key := j.lookup(kid); key != nil {
		return key, nil
	}

	if err := j.refresh(ctx); err != nil {
		return nil, err
	}

	if key := j.lookup(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("no signing key for kid %q", kid)
}

// lookup with an empty kid succeeds only when the set has exactly one key.
func (j *JWKS) lookup(kid string) *rsa.PublicKey {
	j.mutex.RLock()
	defer j.mutex.RUnlock()

	if kid == "" && len(j.keys) == 1 {
		for _, key := range j.keys {
			return key
		}
	}
	return j.keys[kid]
}

func (j *JWKS) refresh(ctx context.Context) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if time.Since(j.lastRefresh) < jwksMinRefreshInterval && len(j.keys) > 0 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create JWKS request: %w", err)
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		key, err := k.rsaKey()
		if err != nil {
			j.logger.WithError(err).WithField("kid", k.Kid).Warn("Skipping malformed JWKS key")
			continue
		}
		keys[k.Kid] = key
	}

	j.keys = keys
	j.lastRefresh = time.Now()

	j.logger.WithFields(logrus.Fields{
		"jwks_url":  j.url,
		"key_count": len(keys),
	}).Info("JWKS refreshed")

	return nil
}

func (k jsonWebKey) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	exponent := new(big.Int).SetBytes(e)
	if !exponent.IsInt64() || exponent.Int64() < 3 {
		return nil, fmt.Errorf("unsupported exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(exponent.Int64()),
	}, nil
}
