package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/pizza-shack/internal/cdp"
	"github.com/jogardn/pizza-shack/internal/oauth"
	"github.com/jogardn/pizza-shack/internal/orders"
	"github.com/jogardn/pizza-shack/internal/session"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

const recommendationCount = 3

// OrderAPI is the part of the pizza API the assistant talks to.
type OrderAPI interface {
	GetMenu(ctx context.Context, filter models.MenuFilter) ([]models.MenuItem, error)
	CreateOrder(ctx context.Context, token string, req models.CreateOrderRequest) (*models.Order, error)
}

// Authorizer obtains on-behalf-of tokens for chat sessions.
type Authorizer interface {
	Begin(ctx context.Context, sessionID string, scopes []string) (*oauth.AuthRequest, error)
	Complete(ctx context.Context, state, code string) (string, *session.Token, error)
	Token(ctx context.Context, sessionID string) (*session.Token, bool)
	Forget(ctx context.Context, sessionID string) error
	AuthTimeout() time.Duration
}

// Profiles is the customer data platform. It is optional.
type Profiles interface {
	Profile(ctx context.Context, userID string) (*cdp.Profile, error)
	Track(ctx context.Context, event cdp.Event) error
}

type Assistant struct {
	api      OrderAPI
	authz    Authorizer
	sessions session.Store
	profiles Profiles
	scopes   []string
	logger   *logrus.Logger
}

func NewAssistant(api OrderAPI, authz Authorizer, sessions session.Store, profiles Profiles, scopes []string, logger *logrus.Logger) *Assistant {
	return &Assistant{
		api:      api,
		authz:    authz,
		sessions: sessions,
		profiles: profiles,
		scopes:   scopes,
		logger:   logger,
	}
}

// Respond answers one chat message.
func (a *Assistant) Respond(ctx context.Context, sessionID, message string) []models.Envelope {
	intent := AnalyzeIntent(message)

	a.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"action":     intent.Action,
		"items":      len(intent.Items),
	}).Debug("Intent analyzed")

	switch intent.Action {
	case ActionGetMenu:
		return a.menu(ctx, intent.Filter)
	case ActionCalculateTotal:
		return a.quote(ctx, intent)
	case ActionRecommend:
		return a.recommend(ctx, sessionID)
	case ActionPlaceOrder:
		return a.order(ctx, sessionID, intent)
	default:
		return []models.Envelope{models.AssistantMessage(GeneralResponse(message))}
	}
}

func (a *Assistant) menu(ctx context.Context, filter models.MenuFilter) []models.Envelope {
	items, err := a.api.GetMenu(ctx, filter)
	if err != nil {
		a.logger.WithError(err).Error("Failed to fetch menu")
		return []models.Envelope{models.ErrorEnvelope("Sorry, I couldn't load the menu right now. Please try again in a moment.")}
	}
	return []models.Envelope{models.AssistantMessage(FormatMenu(items))}
}

func (a *Assistant) resolve(ctx context.Context, intent Intent) (*Quote, []models.Envelope) {
	if len(intent.Items) == 0 {
		return nil, []models.Envelope{models.AssistantMessage(
			"Which pizza would you like? Try something like 'Order 2 large Margherita Classic' or ask to see the menu.")}
	}

	menu, err := a.api.GetMenu(ctx, models.MenuFilter{})
	if err != nil {
		a.logger.WithError(err).Error("Failed to fetch menu for pricing")
		return nil, []models.Envelope{models.ErrorEnvelope("Sorry, I couldn't reach the menu to price your order. Please try again.")}
	}

	quote, err := Calculate(intent.Items, menu, intent.DiscountCode, true)
	var pizzaErr *PizzaError
	if errors.As(err, &pizzaErr) {
		return nil, []models.Envelope{models.AssistantMessage(
			fmt.Sprintf("Sorry, %s isn't available right now. Ask me for the menu to see what we have.", pizzaErr.Name))}
	}
	if err != nil {
		return nil, []models.Envelope{models.ErrorEnvelope("Sorry, I couldn't price that order.")}
	}
	return quote, nil
}

func (a *Assistant) quote(ctx context.Context, intent Intent) []models.Envelope {
	quote, reply := a.resolve(ctx, intent)
	if quote == nil {
		return reply
	}
	return []models.Envelope{models.AssistantMessage(FormatQuote(quote))}
}

func (a *Assistant) recommend(ctx context.Context, sessionID string) []models.Envelope {
	menu, err := a.api.GetMenu(ctx, models.MenuFilter{})
	if err != nil {
		a.logger.WithError(err).Error("Failed to fetch menu for recommendations")
		return []models.Envelope{models.ErrorEnvelope("Sorry, I couldn't load the menu right now. Please try again in a moment.")}
	}

	var profile *cdp.Profile
	if token, ok := a.authz.Token(ctx, sessionID); ok && token.UserID != "" && a.profiles != nil {
		profile, err = a.profiles.Profile(ctx, token.UserID)
		if err != nil {
			// personalization is optional
			a.logger.WithError(err).WithField("user_id", token.UserID).Warn("CDP profile unavailable, using default recommendations")
			profile = nil
		}
	}

	picks := cdp.Recommend(profile, menu, recommendationCount)
	return []models.Envelope{models.AssistantMessage(FormatRecommendations(picks, profile != nil))}
}

func (a *Assistant) order(ctx context.Context, sessionID string, intent Intent) []models.Envelope {
	quote, reply := a.resolve(ctx, intent)
	if quote == nil {
		return reply
	}
	req := quote.OrderRequest()

	if token, ok := a.authz.Token(ctx, sessionID); ok && token.Valid() {
		return a.placeOrder(ctx, sessionID, token, req)
	}
	return a.requestAuthorization(ctx, sessionID, req, FormatQuote(quote))
}

func (a *Assistant) requestAuthorization(ctx context.Context, sessionID string, req models.CreateOrderRequest, summary string) []models.Envelope {
	err := a.sessions.PutPendingOrder(ctx, sessionID, session.PendingOrder{
		Request:   req,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}, a.authz.AuthTimeout())
	if err != nil {
		a.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to store pending order")
		return []models.Envelope{models.ErrorEnvelope("Sorry, I couldn't hold your order. Please try again.")}
	}

	authReq, err := a.authz.Begin(ctx, sessionID, a.scopes)
	if err != nil {
		a.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to start authorization")
		return []models.Envelope{models.ErrorEnvelope("Sorry, I couldn't start the sign-in process. Please try again.")}
	}

	return []models.Envelope{
		models.AssistantMessage("To place your order I need your permission to order on your behalf. Please sign in using the link below. 🔐"),
		{
			Type:    models.EnvelopeAuthRequest,
			AuthURL: authReq.AuthURL,
			State:   authReq.State,
			Scopes:  authReq.Scopes,
		},
	}
}

func (a *Assistant) placeOrder(ctx context.Context, sessionID string, token *session.Token, req models.CreateOrderRequest) []models.Envelope {
	logger := a.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    token.UserID,
	})

	order, err := a.api.CreateOrder(ctx, token.AccessToken, req)
	if err != nil {
		var apiErr *orders.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusUnauthorized:
				logger.Warn("Cached token rejected, asking the user to sign in again")
				if err := a.authz.Forget(ctx, sessionID); err != nil {
					logger.WithError(err).Warn("Failed to drop cached token")
				}
				return a.requestAuthorization(ctx, sessionID, req, "")
			case http.StatusForbidden:
				return []models.Envelope{models.AssistantMessage(
					"You haven't granted permission to place orders. Please sign in again and allow ordering.")}
			}
		}
		logger.WithError(err).Error("Failed to place order")
		return []models.Envelope{models.ErrorEnvelope("Sorry, I couldn't place your order. Please try again.")}
	}

	correlationID := uuid.NewString()
	if err := a.sessions.PutConfirmation(ctx, sessionID, correlationID, order.OrderID); err != nil {
		logger.WithError(err).Warn("Failed to record order confirmation")
	}
	a.track(ctx, order)

	logger.WithFields(logrus.Fields{
		"order_id":       order.OrderID,
		"correlation_id": correlationID,
		"total_amount":   order.TotalAmount,
	}).Info("Order placed on behalf of user")

	return []models.Envelope{
		{
			Type:          models.EnvelopeOrderConfirmation,
			OrderID:       order.OrderID,
			CorrelationID: correlationID,
			TotalAmount:   order.TotalAmount,
			Status:        order.Status,
		},
		models.AssistantMessage(FormatOrder(order)),
	}
}

func (a *Assistant) track(ctx context.Context, order *models.Order) {
	if a.profiles == nil || order.UserID == "" {
		return
	}
	names := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		names = append(names, item.Name)
	}
	err := a.profiles.Track(ctx, cdp.Event{
		UserID: order.UserID,
		Type:   "order_placed",
		Properties: map[string]any{
			"order_id":     order.OrderID,
			"items":        names,
			"total_amount": order.TotalAmount,
		},
	})
	if err != nil {
		a.logger.WithError(err).WithField("order_id", order.OrderID).Warn("Failed to track order in CDP")
	}
}

// CompleteAuthorization finishes the sign-in started by an auth_request and
// places the order that was waiting for it.
func (a *Assistant) CompleteAuthorization(ctx context.Context, state, code string) (string, []models.Envelope, error) {
	sessionID, token, err := a.authz.Complete(ctx, state, code)
	if err != nil {
		return sessionID, nil, err
	}

	pending, err := a.sessions.TakePendingOrder(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return sessionID, []models.Envelope{models.AssistantMessage("You're signed in! What would you like to order? 🍕")}, nil
	}
	if err != nil {
		return sessionID, nil, fmt.Errorf("failed to load pending order: %w", err)
	}

	return sessionID, a.placeOrder(ctx, sessionID, token, pending.Request), nil
}

// Control handles a JSON control frame from the chat client.
func (a *Assistant) Control(ctx context.Context, sessionID string, frame models.ControlFrame) []models.Envelope {
	switch frame.Type {
	case models.ControlOrderCancel:
		if err := a.sessions.ClearPendingOrder(ctx, sessionID); err != nil {
			a.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to clear pending order")
		}
		return []models.Envelope{models.AssistantMessage("No problem, I've cancelled that order. Anything else I can get you?")}

	case models.ControlOrderAck:
		orderID, err := a.sessions.AckConfirmation(ctx, sessionID, frame.CorrelationID)
		if err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"session_id":     sessionID,
				"correlation_id": frame.CorrelationID,
			}).Warn("Unknown order acknowledgement")
			return nil
		}
		a.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"order_id":   orderID,
		}).Debug("Order confirmation acknowledged")
		return nil
	}

	return []models.Envelope{models.ErrorEnvelope(fmt.Sprintf("Unknown control message %q", frame.Type))}
}

// EndSession drops the pending state of a chat session.
func (a *Assistant) EndSession(ctx context.Context, sessionID string) {
	if err := a.sessions.Clear(ctx, sessionID); err != nil {
		a.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to clear session")
	}
}

// UserID reports which user a session is signed in as, if known.
func (a *Assistant) UserID(ctx context.Context, sessionID string) string {
	if token, ok := a.authz.Token(ctx, sessionID); ok {
		return token.UserID
	}
	return ""
}
