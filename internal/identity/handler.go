package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jogardn/pizza-shack/internal/auth"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

type Verifier interface {
	Run(ctx context.Context, token, action string, req Request) (*Verification, error)
	ClaimStatus(ctx context.Context, token, claim string) (*Status, error)
}

// Handler exposes the verification client to signed-in users of the API.
type Handler struct {
	verifier Verifier
	authn    *auth.Authenticator
	logger   *logrus.Logger
}

func NewHandler(verifier Verifier, authn *auth.Authenticator, logger *logrus.Logger) *Handler {
	return &Handler{verifier: verifier, authn: authn, logger: logger}
}

// Register mounts the routes under /api/verification.
func (h *Handler) Register(router *mux.Router) {
	verification := router.PathPrefix("/api/verification").Subrouter()
	verification.Use(h.authn.Require())
	verification.HandleFunc("/claims/{claim}", h.ClaimStatus).Methods(http.MethodGet)
	verification.HandleFunc("/{action:initiate|complete|reinitiate}", h.Workflow).Methods(http.MethodPost)
}

func (h *Handler) Workflow(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	action := mux.Vars(r)["action"]

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if action == ActionInitiate && len(req.Claims) == 0 {
		h.respondWithError(w, http.StatusBadRequest, "At least one claim is required")
		return
	}

	verification, err := h.verifier.Run(r.Context(), principal.Token, action, req)
	if err != nil {
		h.providerFailure(w, principal, action, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, verification)
}

func (h *Handler) ClaimStatus(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	claim := mux.Vars(r)["claim"]

	status, err := h.verifier.ClaimStatus(r.Context(), principal.Token, claim)
	if err != nil {
		h.providerFailure(w, principal, "claim_status", err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, status)
}

func (h *Handler) providerFailure(w http.ResponseWriter, principal *auth.Principal, action string, err error) {
	fields := logrus.Fields{
		"user_id": principal.Subject,
		"action":  action,
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		fields["provider_status"] = providerErr.StatusCode
	}
	h.logger.WithError(err).WithFields(fields).Error("Verification provider call failed")
	h.respondWithError(w, http.StatusBadGateway, "Identity verification service unavailable")
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal response")
		h.respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, models.NewErrorResponse(code, message))
}
