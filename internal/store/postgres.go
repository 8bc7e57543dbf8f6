package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jogardn/pizza-shack/internal/migration"
	"github.com/jogardn/pizza-shack/pkg/models"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateOrderID = errors.New("duplicate order id")
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open connects to PostgreSQL and waits up to attempts*delay for the server.
func Open(ctx context.Context, dsn string, attempts int, delay time.Duration, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Info("Database connection established")
			return &PostgresStore{db: db, logger: logger}, nil
		}
		logger.WithField("attempt", i+1).Info("Waiting for database...")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	db.Close()
	return nil, fmt.Errorf("database not reachable: %w", err)
}

func NewPostgresStore(db *sql.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrator, err := migration.NewMigrator(s.db, s.logger, Migrations...)
	if err != nil {
		return err
	}
	_, err = migrator.Migrate(ctx)
	return err
}

// SeedMenu inserts items only when the menu is empty and reports how many
// rows were written.
func (s *PostgresStore) SeedMenu(ctx context.Context, items []models.MenuItem) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM menu_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count menu items: %w", err)
	}
	if count > 0 {
		s.logger.WithField("count", count).Info("Menu items already exist, skipping seed")
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, item := range items {
		ingredients, _ := json.Marshal(item.Ingredients)
		sizes, _ := json.Marshal(item.SizeOptions)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO menu_items (name, description, price, category, image_url, ingredients, size_options, available)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (name) DO NOTHING`,
			item.Name, item.Description, item.Price, item.Category, item.ImageURL,
			string(ingredients), string(sizes), item.Available)
		if err != nil {
			return 0, fmt.Errorf("failed to seed %q: %w", item.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.logger.WithField("count", len(items)).Info("Menu items populated")
	return len(items), nil
}

const menuColumns = `id, name, description, price, category, COALESCE(image_url, ''),
	ingredients, size_options, available, created_at`

func (s *PostgresStore) ListMenu(ctx context.Context, filter models.MenuFilter) ([]models.MenuItem, error) {
	query := `SELECT ` + menuColumns + ` FROM menu_items WHERE available = TRUE`
	var args []any
	if filter.Category != "" {
		args = append(args, strings.ToLower(filter.Category))
		query += ` AND LOWER(category) = $1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query menu: %w", err)
	}
	defer rows.Close()

	items := []models.MenuItem{}
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		if filter.Matches(item) {
			items = append(items, item)
		}
	}
	return items, rows.Err()
}

func (s *PostgresStore) MenuItemsByID(ctx context.Context, ids []int64) (map[int64]models.MenuItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+menuColumns+` FROM menu_items WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query menu items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64]models.MenuItem, len(ids))
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		items[item.ID] = item
	}
	return items, rows.Err()
}

func (s *PostgresStore) CreateOrder(ctx context.Context, order *models.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	var customer any
	if order.CustomerInfo != nil {
		data, err := json.Marshal(order.CustomerInfo)
		if err != nil {
			return fmt.Errorf("failed to marshal customer info: %w", err)
		}
		customer = string(data)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO orders (order_id, user_id, agent_id, customer_info, items, total_amount, status, token_type)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		order.OrderID, order.UserID, order.AgentID, customer, string(items),
		order.TotalAmount, string(order.Status), string(order.TokenType),
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateOrderID
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

const orderColumns = `id, order_id, user_id, agent_id, customer_info, items,
	total_amount, status, token_type, created_at, updated_at`

func (s *PostgresStore) OrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) OrderByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE orders SET status = $2 WHERE order_id = $1 RETURNING `+orderColumns,
		orderID, string(status))
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMenuItem(row scanner) (models.MenuItem, error) {
	var item models.MenuItem
	var ingredients, sizes []byte
	err := row.Scan(&item.ID, &item.Name, &item.Description, &item.Price, &item.Category,
		&item.ImageURL, &ingredients, &sizes, &item.Available, &item.CreatedAt)
	if err != nil {
		return item, err
	}
	if err := json.Unmarshal(ingredients, &item.Ingredients); err != nil {
		return item, fmt.Errorf("menu item %d: bad ingredients: %w", item.ID, err)
	}
	if err := json.Unmarshal(sizes, &item.SizeOptions); err != nil {
		return item, fmt.Errorf("menu item %d: bad size options: %w", item.ID, err)
	}
	return item, nil
}

func scanOrder(row scanner) (*models.Order, error) {
	var order models.Order
	var agentID sql.NullString
	var customer, items []byte
	var status, tokenType string

	err := row.Scan(&order.ID, &order.OrderID, &order.UserID, &agentID, &customer, &items,
		&order.TotalAmount, &status, &tokenType, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	order.AgentID = agentID.String
	order.Status = models.OrderStatus(status)
	order.TokenType = models.TokenType(tokenType)

	if len(customer) > 0 {
		order.CustomerInfo = &models.CustomerInfo{}
		if err := json.Unmarshal(customer, order.CustomerInfo); err != nil {
			return nil, fmt.Errorf("order %s: bad customer info: %w", order.OrderID, err)
		}
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("order %s: bad items: %w", order.OrderID, err)
	}
	return &order, nil
}
