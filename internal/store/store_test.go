package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// orderStore is what the pizza API needs from either backend.
type orderStore interface {
	Ping(ctx context.Context) error
	SeedMenu(ctx context.Context, items []models.MenuItem) (int, error)
	ListMenu(ctx context.Context, filter models.MenuFilter) ([]models.MenuItem, error)
	MenuItemsByID(ctx context.Context, ids []int64) (map[int64]models.MenuItem, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	OrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	OrderByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error)
}

var (
	_ orderStore = (*MemoryStore)(nil)
	_ orderStore = (*PostgresStore)(nil)
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

// stores returns the memory store and, when TEST_DATABASE_URL points at a
// PostgreSQL server, a migrated Postgres store.
func stores(t *testing.T) map[string]orderStore {
	t.Helper()
	out := map[string]orderStore{"memory": NewMemoryStore()}

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		return out
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := Open(ctx, dsn, 3, time.Second, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })
	require.NoError(t, pg.Migrate(ctx))
	out["postgres"] = pg
	return out
}

func TestStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Ping(ctx))

			_, err := s.SeedMenu(ctx, DefaultMenu())
			require.NoError(t, err)
			n, err := s.SeedMenu(ctx, DefaultMenu())
			require.NoError(t, err)
			assert.Zero(t, n, "seeding a populated menu is a no-op")

			menu, err := s.ListMenu(ctx, models.MenuFilter{})
			require.NoError(t, err)
			require.NotEmpty(t, menu)

			var margherita models.MenuItem
			for _, item := range menu {
				if item.Name == "Margherita Classic" {
					margherita = item
				}
			}
			require.NotZero(t, margherita.ID)

			byID, err := s.MenuItemsByID(ctx, []int64{margherita.ID, -1})
			require.NoError(t, err)
			require.Len(t, byID, 1)
			got := byID[margherita.ID]
			assert.Equal(t, margherita.Price, got.Price)
			assert.Equal(t, margherita.Ingredients, got.Ingredients)
			assert.Len(t, got.SizeOptions, 3)

			userID := "user-" + uuid.NewString()
			orderID := "ORD-" + uuid.NewString()[:8]
			order := &models.Order{
				OrderID:      orderID,
				UserID:       userID,
				AgentID:      "pizza-agent",
				CustomerInfo: &models.CustomerInfo{Name: "Alice", Phone: "555-0100"},
				Items: []models.OrderItem{
					{MenuItemID: margherita.ID, Name: margherita.Name, Quantity: 2, Size: "large",
						UnitPrice: 14.99, TotalPrice: 29.98, SpecialInstructions: "extra basil"},
					{MenuItemID: margherita.ID, Name: margherita.Name, Quantity: 1, Size: "small",
						UnitPrice: 0.1, TotalPrice: 0.1},
				},
				TotalAmount: 30.08,
				Status:      models.StatusPending,
				TokenType:   models.TokenTypeOBO,
			}
			require.NoError(t, s.CreateOrder(ctx, order))
			assert.NotZero(t, order.ID)

			stored, err := s.OrderByOrderID(ctx, orderID)
			require.NoError(t, err)
			assert.Equal(t, 30.08, stored.TotalAmount)
			assert.Equal(t, order.Items, stored.Items)
			assert.Equal(t, "pizza-agent", stored.AgentID)
			require.NotNil(t, stored.CustomerInfo)
			assert.Equal(t, "Alice", stored.CustomerInfo.Name)
			assert.Equal(t, models.TokenTypeOBO, stored.TokenType)

			err = s.CreateOrder(ctx, &models.Order{OrderID: orderID, UserID: "someone-else",
				Items: []models.OrderItem{}, Status: models.StatusPending})
			assert.ErrorIs(t, err, ErrDuplicateOrderID)

			second := &models.Order{OrderID: orderID + "-2", UserID: userID,
				Items: []models.OrderItem{}, Status: models.StatusPending, TokenType: models.TokenTypeOBO}
			require.NoError(t, s.CreateOrder(ctx, second))

			orders, err := s.OrdersByUser(ctx, userID)
			require.NoError(t, err)
			require.Len(t, orders, 2)
			assert.Equal(t, second.OrderID, orders[0].OrderID, "newest first")
			assert.Empty(t, orders[0].AgentID)
			assert.Nil(t, orders[0].CustomerInfo)

			updated, err := s.UpdateOrderStatus(ctx, orderID, models.StatusPreparing)
			require.NoError(t, err)
			assert.Equal(t, models.StatusPreparing, updated.Status)
			assert.Equal(t, order.Items, updated.Items)

			_, err = s.OrderByOrderID(ctx, "ORD-missing-"+uuid.NewString())
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.UpdateOrderStatus(ctx, "ORD-missing-"+uuid.NewString(), models.StatusCancelled)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
