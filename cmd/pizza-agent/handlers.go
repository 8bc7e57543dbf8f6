package main

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/pizza-shack/internal/circuitbreaker"
	"github.com/jogardn/pizza-shack/internal/oauth"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

type authCompleter interface {
	CompleteAuthorization(ctx context.Context, state, code string) (string, []models.Envelope, error)
	UserID(ctx context.Context, sessionID string) string
}

type sessionSender interface {
	Send(sessionID string, envelope models.Envelope) bool
	Bind(sessionID, userID string)
}

type menuChecker interface {
	GetMenu(ctx context.Context, filter models.MenuFilter) ([]models.MenuItem, error)
	Breaker() *circuitbreaker.CircuitBreaker
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>Pizza Shack</title></head>
<body>
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
<script>setTimeout(function () { window.close(); }, 1500);</script>
</body>
</html>
`))

type callbackView struct {
	Title   string
	Message string
}

// callbackHandler receives the identity provider redirect, finishes the
// on-behalf-of exchange and pushes the outcome into the waiting chat.
func callbackHandler(assistant authCompleter, sessions sessionSender, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if idpErr := query.Get("error"); idpErr != "" {
			logger.WithFields(logrus.Fields{
				"error":       idpErr,
				"description": query.Get("error_description"),
			}).Warn("Authorization was declined")
			renderCallback(w, http.StatusBadRequest, callbackView{
				Title:   "Sign-in cancelled",
				Message: "You can close this window and try again from the chat.",
			})
			return
		}

		code, state := query.Get("code"), query.Get("state")
		if code == "" || state == "" {
			renderCallback(w, http.StatusBadRequest, callbackView{
				Title:   "Sign-in failed",
				Message: "The authorization response is missing its code or state.",
			})
			return
		}

		sessionID, envelopes, err := assistant.CompleteAuthorization(r.Context(), state, code)
		if errors.Is(err, oauth.ErrUnknownState) {
			renderCallback(w, http.StatusBadRequest, callbackView{
				Title:   "Sign-in expired",
				Message: "This sign-in link is no longer valid. Please place your order again.",
			})
			return
		}
		if err != nil {
			logger.WithError(err).WithField("session_id", sessionID).Error("Failed to complete authorization")
			if sessionID != "" {
				sessions.Send(sessionID, models.ErrorEnvelope("Sign-in failed. Please try ordering again."))
			}
			renderCallback(w, http.StatusBadGateway, callbackView{
				Title:   "Sign-in failed",
				Message: "We couldn't finish signing you in. Please try again from the chat.",
			})
			return
		}

		if userID := assistant.UserID(r.Context(), sessionID); userID != "" {
			sessions.Bind(sessionID, userID)
		}

		delivered := true
		for _, envelope := range envelopes {
			delivered = sessions.Send(sessionID, envelope) && delivered
		}
		if !delivered {
			logger.WithField("session_id", sessionID).Warn("Chat session gone before authorization completed")
		}

		renderCallback(w, http.StatusOK, callbackView{
			Title:   "You're signed in!",
			Message: "Head back to the chat. This window will close on its own.",
		})
	}
}

func renderCallback(w http.ResponseWriter, code int, view callbackView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	callbackPage.Execute(w, view)
}

func healthCheck(hub interface{ GetClientCount() int }) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]any{
			"status":      "healthy",
			"service":     "pizza-agent",
			"connections": hub.GetClientCount(),
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// allServicesHealthCheck checks the pizza API through the agent's own client
// and reports every circuit breaker alongside.
func allServicesHealthCheck(api menuChecker, breakers *circuitbreaker.Manager, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := map[string]any{
			"pizza_agent": map[string]any{
				"status":        "healthy",
				"response_time": 0,
				"last_check":    time.Now().Format(time.RFC3339),
			},
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		start := time.Now()
		_, err := api.GetMenu(ctx, models.MenuFilter{})
		apiStatus := map[string]any{
			"status":        "healthy",
			"response_time": time.Since(start).Milliseconds(),
			"last_check":    time.Now().Format(time.RFC3339),
		}
		if err != nil {
			logger.WithError(err).Warn("Pizza API health check failed")
			apiStatus["status"] = "unhealthy"
			apiStatus["error"] = err.Error()
		}
		services["pizza_api"] = apiStatus

		metrics := breakers.AllMetrics()
		if breaker := api.Breaker(); breaker != nil {
			metrics[breaker.Name()] = breaker.Metrics()
		}

		code := http.StatusOK
		if err != nil {
			code = http.StatusServiceUnavailable
		}
		respondWithJSON(w, code, map[string]any{
			"services":         services,
			"circuit_breakers": metrics,
		})
	}
}

func resetBreaker(breakers *circuitbreaker.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		if !breakers.Reset(name) {
			respondWithJSON(w, http.StatusNotFound, models.NewErrorResponse(http.StatusNotFound, "Circuit breaker not found"))
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"name": name, "state": "closed"})
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
