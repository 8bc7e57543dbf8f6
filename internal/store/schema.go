package store

import "github.com/jogardn/pizza-shack/internal/migration"

// Migrations is the schema history of the pizza database.
var Migrations = []migration.Migration{
	{
		Version: 1,
		Name:    "create_menu_items",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS menu_items (
				id SERIAL PRIMARY KEY,
				name VARCHAR(100) NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				price NUMERIC(10,2) NOT NULL CHECK (price >= 0),
				category VARCHAR(50) NOT NULL,
				image_url VARCHAR(200),
				ingredients JSONB NOT NULL DEFAULT '[]',
				size_options JSONB NOT NULL DEFAULT '[]',
				available BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		},
	},
	{
		Version: 2,
		Name:    "create_orders",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS orders (
				id SERIAL PRIMARY KEY,
				order_id VARCHAR(64) NOT NULL UNIQUE,
				user_id VARCHAR(255) NOT NULL,
				agent_id VARCHAR(255),
				customer_info JSONB,
				items JSONB NOT NULL,
				total_amount NUMERIC(10,2) NOT NULL,
				status VARCHAR(32) NOT NULL DEFAULT 'pending',
				token_type VARCHAR(16) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		},
	},
	{
		Version: 3,
		Name:    "orders_updated_at_trigger",
		Statements: []string{
			`CREATE OR REPLACE FUNCTION set_updated_at() RETURNS TRIGGER AS $$
			BEGIN
				NEW.updated_at = NOW();
				RETURN NEW;
			END;
			$$ LANGUAGE plpgsql`,
			`DROP TRIGGER IF EXISTS orders_set_updated_at ON orders`,
			`CREATE TRIGGER orders_set_updated_at
				BEFORE UPDATE ON orders
				FOR EACH ROW EXECUTE FUNCTION set_updated_at()`,
		},
	},
	{
		Version: 4,
		Name:    "orders_user_index",
		Statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_menu_items_category ON menu_items(category)`,
		},
	},
}
