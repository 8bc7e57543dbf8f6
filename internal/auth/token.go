package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jogardn/pizza-shack/pkg/models"
)

var (
	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid access token")
)

// DefaultTokenHeaders are checked in order when no header list is configured.
var DefaultTokenHeaders = []string{"Authorization", "X-Access-Token", "X-JWT-Assertion"}

// Principal is the caller identity resolved from a bearer token.
type Principal struct {
	Subject   string           `json:"sub"`
	ActorID   string           `json:"agent_id,omitempty"`
	TokenType models.TokenType `json:"token_type"`
	Scopes    Scopes           `json:"-"`
	Claims    jwt.MapClaims    `json:"-"`
	Token     string           `json:"-"`
}

// OnBehalfOf reports whether an agent is acting for the subject.
func (p *Principal) OnBehalfOf() bool {
	return p.ActorID != ""
}

type Validator interface {
	Validate(ctx context.Context, raw string) (*Principal, error)
}

// ExtractToken returns the first non-empty token among the given headers.
// A "Bearer " prefix is stripped when present.
func ExtractToken(r *http.Request, headers []string) (string, error) {
	if len(headers) == 0 {
		headers = DefaultTokenHeaders
	}
	for _, name := range headers {
		value := strings.TrimSpace(r.Header.Get(name))
		if value == "" {
			continue
		}
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			value = strings.TrimSpace(value[7:])
		}
		if value != "" {
			return value, nil
		}
	}
	return "", ErrMissingToken
}

// Decoder reads claims without checking the signature. It is used when an
// API gateway in front of the service has already validated the token.
type Decoder struct {
	parser *jwt.Parser
}

func NewDecoder() *Decoder {
	return &Decoder{parser: jwt.NewParser()}
}

func (d *Decoder) Validate(_ context.Context, raw string) (*Principal, error) {
	claims := jwt.MapClaims{}
	if _, _, err := d.parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return principalFromClaims(claims, raw)
}

type VerifierConfig struct {
	Issuer   string
	Audience string
	Secret   string
	JWKS     *JWKS
}

// Verifier checks signature, expiry, issuer and audience.
type Verifier struct {
	config VerifierConfig
	parser *jwt.Parser
}

func NewVerifier(config VerifierConfig) (*Verifier, error) {
	if config.Secret == "" && config.JWKS == nil {
		return nil, errors.New("verifier needs an HMAC secret or a JWKS key set")
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	if config.JWKS != nil {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	}

	return &Verifier{config: config, parser: jwt.NewParser(opts...)}, nil
}

func (v *Verifier) Validate(ctx context.Context, raw string) (*Principal, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if v.config.JWKS != nil {
			kid, _ := t.Header["kid"].(string)
			return v.config.JWKS.Key(ctx, kid)
		}
		return []byte(v.config.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return principalFromClaims(claims, raw)
}

var subjectClaims = []string{"sub", "username", "preferred_username", "email", "upn"}

func principalFromClaims(claims jwt.MapClaims, raw string) (*Principal, error) {
	p := &Principal{
		TokenType: models.TokenTypeUser,
		Claims:    claims,
		Token:     raw,
	}

	for _, name := range subjectClaims {
		if s, ok := claims[name].(string); ok && s != "" {
			p.Subject = s
			break
		}
	}
	if p.Subject == "" {
		return nil, fmt.Errorf("%w: no user identifier in token", ErrInvalidToken)
	}

	scopeClaim := claims["scope"]
	if scopeClaim == nil {
		scopeClaim = claims["scp"]
	}
	p.Scopes = ParseScopes(scopeClaim)

	if act, ok := claims["act"].(map[string]any); ok {
		if sub, ok := act["sub"].(string); ok && sub != "" {
			p.ActorID = sub
			p.TokenType = models.TokenTypeOBO
		}
	}

	return p, nil
}

// Preview shortens a token for logs.
func Preview(token string) string {
	if len(token) <= 16 {
		return "***"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
