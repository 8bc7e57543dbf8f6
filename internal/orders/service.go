package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/pizza-shack/internal/auth"
	"github.com/jogardn/pizza-shack/internal/store"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidRequest      = models.ErrInvalidOrderRequest
	ErrMenuItemNotFound    = errors.New("menu item not found")
	ErrMenuItemUnavailable = errors.New("menu item not available")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidStatus       = errors.New("invalid order status")
	ErrNoUserContext       = errors.New("user context required to place orders")
)

// MenuItemError names the menu item a request referenced.
type MenuItemError struct {
	ID  int64
	Err error
}

func (e *MenuItemError) Error() string {
	if errors.Is(e.Err, ErrMenuItemUnavailable) {
		return fmt.Sprintf("Menu item %d is not available", e.ID)
	}
	return fmt.Sprintf("Menu item %d not found", e.ID)
}

func (e *MenuItemError) Unwrap() error { return e.Err }

type Repository interface {
	Ping(ctx context.Context) error
	ListMenu(ctx context.Context, filter models.MenuFilter) ([]models.MenuItem, error)
	MenuItemsByID(ctx context.Context, ids []int64) (map[int64]models.MenuItem, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	OrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	OrderByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error)
}

type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderStatusChanged(ctx context.Context, order *models.Order, previous models.OrderStatus) error
}

type noopPublisher struct{}

func (noopPublisher) PublishOrderCreated(context.Context, *models.Order) error { return nil }
func (noopPublisher) PublishOrderStatusChanged(context.Context, *models.Order, models.OrderStatus) error {
	return nil
}

const maxOrderIDAttempts = 3

type Service struct {
	repo      Repository
	publisher EventPublisher
	logger    *logrus.Logger
	now       func() time.Time
}

// NewService wires the order logic. A nil publisher disables events.
func NewService(repo Repository, publisher EventPublisher, logger *logrus.Logger) *Service {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) Menu(ctx context.Context, filter models.MenuFilter) ([]models.MenuItem, error) {
	filter.Category = strings.ToLower(strings.TrimSpace(filter.Category))
	filter.PriceRange = strings.ToLower(strings.TrimSpace(filter.PriceRange))
	return s.repo.ListMenu(ctx, filter)
}

// CreateOrder prices every line from the current menu and stores the order
// as pending. Client supplied prices are never trusted.
func (s *Service) CreateOrder(ctx context.Context, principal *auth.Principal, req models.CreateOrderRequest) (*models.Order, error) {
	if principal == nil || principal.Subject == "" {
		return nil, ErrNoUserContext
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.MenuItemID)
	}
	menu, err := s.repo.MenuItemsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load menu items: %w", err)
	}

	order := &models.Order{
		UserID:       principal.Subject,
		AgentID:      principal.ActorID,
		CustomerInfo: req.CustomerInfo,
		Status:       models.StatusPending,
		TokenType:    principal.TokenType,
		Items:        make([]models.OrderItem, 0, len(req.Items)),
	}

	var totalCents int64
	for _, line := range req.Items {
		menuItem, ok := menu[line.MenuItemID]
		if !ok {
			return nil, &MenuItemError{ID: line.MenuItemID, Err: ErrMenuItemNotFound}
		}
		if !menuItem.Available {
			return nil, &MenuItemError{ID: line.MenuItemID, Err: ErrMenuItemUnavailable}
		}

		size := strings.ToLower(strings.TrimSpace(line.Size))
		if size == "" {
			size = models.DefaultSize
		}

		lineCents := models.ToCents(menuItem.Price) * int64(line.Quantity)
		totalCents += lineCents
		if totalCents > models.MaxOrderCents {
			return nil, fmt.Errorf("%w: order total exceeds %.2f", ErrInvalidRequest, models.FromCents(models.MaxOrderCents))
		}

		order.Items = append(order.Items, models.OrderItem{
			MenuItemID:          menuItem.ID,
			Name:                menuItem.Name,
			Quantity:            line.Quantity,
			Size:                size,
			UnitPrice:           menuItem.Price,
			TotalPrice:          models.FromCents(lineCents),
			SpecialInstructions: line.SpecialInstructions,
		})
	}
	order.TotalAmount = models.FromCents(totalCents)

	for attempt := 0; ; attempt++ {
		order.OrderID = s.newOrderID(len(order.Items))
		err = s.repo.CreateOrder(ctx, order)
		if !errors.Is(err, store.ErrDuplicateOrderID) || attempt+1 >= maxOrderIDAttempts {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save order: %w", err)
	}

	if err := s.publisher.PublishOrderCreated(ctx, order); err != nil {
		// The order is committed; a lost event must not fail the request.
		s.logger.WithError(err).WithField("order_id", order.OrderID).Error("Failed to publish order created event")
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":     order.OrderID,
		"user_id":      order.UserID,
		"agent_id":     order.AgentID,
		"token_type":   order.TokenType,
		"total_amount": order.TotalAmount,
		"items":        len(order.Items),
	}).Info("Order created")

	return order, nil
}

// newOrderID keeps the readable ORD-<timestamp>-<item count> shape and adds
// a random suffix so two orders in the same second cannot collide.
func (s *Service) newOrderID(itemCount int) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%s-%d-%s", s.now().UTC().Format("20060102150405"), itemCount, suffix)
}

func (s *Service) ListOrders(ctx context.Context, principal *auth.Principal) ([]models.Order, error) {
	if principal == nil || principal.Subject == "" {
		return nil, ErrNoUserContext
	}
	return s.repo.OrdersByUser(ctx, principal.Subject)
}

// GetOrder hides orders owned by other users behind ErrOrderNotFound.
func (s *Service) GetOrder(ctx context.Context, principal *auth.Principal, orderID string) (*models.Order, error) {
	if principal == nil || principal.Subject == "" {
		return nil, ErrNoUserContext
	}

	order, err := s.repo.OrderByOrderID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if order.UserID != principal.Subject {
		s.logger.WithFields(logrus.Fields{
			"order_id":  orderID,
			"requester": principal.Subject,
		}).Warn("Order lookup by non-owner")
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// UpdateStatus is the only mutation an order sees after creation.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	current, err := s.repo.OrderByOrderID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, orderID, status)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	if err := s.publisher.PublishOrderStatusChanged(ctx, updated, current.Status); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("Failed to publish status changed event")
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"from":     current.Status,
		"to":       status,
	}).Info("Order status updated")

	return updated, nil
}

func (s *Service) HandleStatusUpdate(ctx context.Context, update models.OrderStatusUpdate) error {
	_, err := s.UpdateStatus(ctx, update.OrderID, update.Status)
	return err
}

// IsRetryable reports whether a failed status update may succeed later.
func (s *Service) IsRetryable(err error) bool {
	return !errors.Is(err, ErrOrderNotFound) && !errors.Is(err, ErrInvalidStatus)
}
