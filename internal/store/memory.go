package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jogardn/pizza-shack/pkg/models"
)

// MemoryStore keeps menu and orders in process memory. It backs local runs
// without PostgreSQL and the handler tests.
type MemoryStore struct {
	mutex  sync.RWMutex
	menu   []models.MenuItem
	orders []models.Order
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) SeedMenu(_ context.Context, items []models.MenuItem) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.menu) > 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i, item := range items {
		item.ID = int64(i + 1)
		item.CreatedAt = now
		s.menu = append(s.menu, item)
	}
	return len(items), nil
}

// SetAvailability toggles a menu item; it reports false for unknown ids.
func (s *MemoryStore) SetAvailability(id int64, available bool) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := range s.menu {
		if s.menu[i].ID == id {
			s.menu[i].Available = available
			return true
		}
	}
	return false
}

// SetPrice changes the current price of a menu item.
func (s *MemoryStore) SetPrice(id int64, price float64) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := range s.menu {
		if s.menu[i].ID == id {
			s.menu[i].Price = price
			return true
		}
	}
	return false
}

func (s *MemoryStore) ListMenu(_ context.Context, filter models.MenuFilter) ([]models.MenuItem, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	items := []models.MenuItem{}
	for _, item := range s.menu {
		if filter.Matches(item) {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *MemoryStore) MenuItemsByID(_ context.Context, ids []int64) (map[int64]models.MenuItem, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	items := make(map[int64]models.MenuItem)
	for _, item := range s.menu {
		if wanted[item.ID] {
			items[item.ID] = item
		}
	}
	return items, nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, order *models.Order) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, existing := range s.orders {
		if existing.OrderID == order.OrderID {
			return ErrDuplicateOrderID
		}
	}

	s.nextID++
	now := time.Now().UTC()
	order.ID = s.nextID
	order.CreatedAt = now
	order.UpdatedAt = now
	s.orders = append(s.orders, cloneOrder(*order))
	return nil
}

func (s *MemoryStore) OrdersByUser(_ context.Context, userID string) ([]models.Order, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	orders := []models.Order{}
	for _, order := range s.orders {
		if order.UserID == userID {
			orders = append(orders, cloneOrder(order))
		}
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (s *MemoryStore) OrderByOrderID(_ context.Context, orderID string) (*models.Order, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, order := range s.orders {
		if order.OrderID == orderID {
			found := cloneOrder(order)
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := range s.orders {
		if s.orders[i].OrderID == orderID {
			s.orders[i].Status = status
			s.orders[i].UpdatedAt = time.Now().UTC()
			updated := cloneOrder(s.orders[i])
			return &updated, nil
		}
	}
	return nil, ErrNotFound
}

func cloneOrder(order models.Order) models.Order {
	order.Items = append([]models.OrderItem(nil), order.Items...)
	if order.CustomerInfo != nil {
		info := *order.CustomerInfo
		order.CustomerInfo = &info
	}
	return order
}
