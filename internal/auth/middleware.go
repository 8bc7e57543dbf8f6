package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

type contextKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok && p != nil
}

type Authenticator struct {
	validator Validator
	headers   []string
	logger    *logrus.Logger
}

func NewAuthenticator(validator Validator, headers []string, logger *logrus.Logger) *Authenticator {
	if len(headers) == 0 {
		headers = DefaultTokenHeaders
	}
	return &Authenticator{
		validator: validator,
		headers:   headers,
		logger:    logger,
	}
}

// Authenticate resolves the principal for a request.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	raw, err := ExtractToken(r, a.headers)
	if err != nil {
		return nil, err
	}
	return a.validator.Validate(r.Context(), raw)
}

// Require rejects requests without a valid token (401) or without every
// listed scope (403).
func (a *Authenticator) Require(scopes ...string) mux.MiddlewareFunc {
	return a.RequireRoute(nil, scopes...)
}

// RequireRoute takes the required scopes from the OpenAPI scope map when it
// documents the route, and from fallback otherwise.
func (a *Authenticator) RequireRoute(scopeMap *ScopeMap, fallback ...string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.Authenticate(r)
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"path":  r.URL.Path,
					"error": err.Error(),
				}).Warn("Rejected unauthenticated request")
				w.Header().Set("WWW-Authenticate", `Bearer realm="pizza-shack"`)
				if errors.Is(err, ErrMissingToken) {
					writeError(w, http.StatusUnauthorized, "Authentication required")
				} else {
					writeError(w, http.StatusUnauthorized, "Invalid or expired token")
				}
				return
			}

			required := fallback
			if scopeMap != nil {
				if mapped, ok := scopeMap.Required(r.Method, r.URL.Path); ok {
					required = mapped
				}
			}

			if missing := principal.Scopes.Missing(required...); len(missing) > 0 {
				a.logger.WithFields(logrus.Fields{
					"path":           r.URL.Path,
					"user_id":        principal.Subject,
					"missing_scopes": missing,
				}).Warn("Rejected request with insufficient scope")
				writeError(w, http.StatusForbidden, "Insufficient scope: requires "+strings.Join(missing, " "))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// Optional attaches a principal when the request carries a valid token and
// lets the request through either way.
func (a *Authenticator) Optional() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if principal, err := a.Authenticate(r); err == nil {
				r = r.WithContext(WithPrincipal(r.Context(), principal))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(models.NewErrorResponse(code, message))
}
