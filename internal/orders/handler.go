package orders

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/pizza-shack/internal/auth"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	ScopeOrderRead  = "order:read"
	ScopeOrderWrite = "order:write"
)

type HandlerConfig struct {
	Version         string
	TokenValidation string
	EventsEnabled   bool
}

type Handler struct {
	service   *Service
	authn     *auth.Authenticator
	scopeMap  *auth.ScopeMap
	config    HandlerConfig
	logger    *logrus.Logger
	startedAt time.Time
}

func NewHandler(service *Service, authn *auth.Authenticator, scopeMap *auth.ScopeMap, config HandlerConfig, logger *logrus.Logger) *Handler {
	if config.Version == "" {
		config.Version = "1.0.0"
	}
	return &Handler{
		service:   service,
		authn:     authn,
		scopeMap:  scopeMap,
		config:    config,
		logger:    logger,
		startedAt: time.Now(),
	}
}

func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/", h.APIInfo).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/system/status", h.SystemStatus).Methods(http.MethodGet)
	api.Handle("/menu", h.authn.Optional()(http.HandlerFunc(h.GetMenu))).Methods(http.MethodGet)
	api.Handle("/token-info", h.authn.Optional()(http.HandlerFunc(h.TokenInfo))).Methods(http.MethodGet)

	api.Handle("/orders", h.authn.RequireRoute(h.scopeMap, ScopeOrderWrite)(http.HandlerFunc(h.CreateOrder))).
		Methods(http.MethodPost)
	api.Handle("/orders", h.authn.RequireRoute(h.scopeMap, ScopeOrderRead)(http.HandlerFunc(h.ListOrders))).
		Methods(http.MethodGet)
	api.Handle("/orders/{id}", h.authn.RequireRoute(h.scopeMap, ScopeOrderRead)(http.HandlerFunc(h.GetOrder))).
		Methods(http.MethodGet)
}

func (h *Handler) APIInfo(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"name":        "Pizza Shack API",
		"version":     h.config.Version,
		"description": "Pizza ordering API with delegated agent authorization",
		"status_url":  "/api/system/status",
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.WithError(err).Warn("Health check failed")
		h.respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":    "unhealthy",
			"error":     "database connection failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	database := "connected"
	if err := h.service.Ping(r.Context()); err != nil {
		database = "disconnected"
	}
	events := "disabled"
	if h.config.EventsEnabled {
		events = "active"
	}

	h.respondWithJSON(w, http.StatusOK, map[string]any{
		"status":   "operational",
		"database": database,
		"services": map[string]string{
			"order_processing": "active",
			"menu_service":     "active",
			"events":           events,
		},
		"token_validation": h.config.TokenValidation,
		"uptime":           time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) TokenInfo(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.respondWithJSON(w, http.StatusOK, map[string]any{
			"user_id":    "gateway-user",
			"token_type": "gateway",
			"agent_id":   nil,
		})
		return
	}

	var agentID any
	if principal.ActorID != "" {
		agentID = principal.ActorID
	}
	h.respondWithJSON(w, http.StatusOK, map[string]any{
		"user_id":    principal.Subject,
		"token_type": principal.TokenType,
		"agent_id":   agentID,
		"scopes":     principal.Scopes.List(),
	})
}

func (h *Handler) GetMenu(w http.ResponseWriter, r *http.Request) {
	filter := models.MenuFilter{
		Category:   r.URL.Query().Get("category"),
		PriceRange: r.URL.Query().Get("price_range"),
	}

	items, err := h.service.Menu(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load menu")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to load menu")
		return
	}

	h.respondWithJSON(w, http.StatusOK, items)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Warn("Failed to decode order request")
		h.respondWithError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), principal, req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, order)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	orders, err := h.service.ListOrders(r.Context(), principal)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"user_id": principal.Subject,
		"count":   len(orders),
	}).Info("Retrieved orders")

	h.respondWithJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	order, err := h.service.GetOrder(r.Context(), principal, mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error) {
	var itemErr *MenuItemError
	switch {
	case errors.As(err, &itemErr) && errors.Is(err, ErrMenuItemUnavailable):
		h.respondWithError(w, http.StatusBadRequest, itemErr.Error())
	case errors.As(err, &itemErr):
		h.respondWithError(w, http.StatusNotFound, itemErr.Error())
	case errors.Is(err, ErrInvalidRequest):
		h.respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNoUserContext):
		h.respondWithError(w, http.StatusBadRequest, "User context required")
	case errors.Is(err, ErrOrderNotFound):
		h.respondWithError(w, http.StatusNotFound, "Order not found")
	default:
		h.logger.WithError(err).Error("Order request failed")
		h.respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal response")
		code = http.StatusInternalServerError
		response, _ = json.Marshal(models.NewErrorResponse(code, "Internal server error"))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, models.NewErrorResponse(code, message))
}
