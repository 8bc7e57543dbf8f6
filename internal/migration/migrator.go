package migration

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

type Migration struct {
	Version    int
	Name       string
	Statements []string
}

type MigrationResult struct {
	Applied        []string      `json:"applied"`
	Skipped        int           `json:"skipped"`
	ProcessingTime time.Duration `json:"processing_time"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Migrator applies versioned schema changes and records them in
// schema_migrations. Each migration runs in its own transaction.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	logger     *logrus.Logger
}

func NewMigrator(db *sql.DB, logger *logrus.Logger, migrations ...Migration) (*Migrator, error) {
	if err := validate(migrations); err != nil {
		return nil, err
	}
	return &Migrator{
		db:         db,
		migrations: migrations,
		logger:     logger,
	}, nil
}

func validate(migrations []Migration) error {
	for i, m := range migrations {
		if m.Version <= 0 {
			return fmt.Errorf("migration %q has non-positive version %d", m.Name, m.Version)
		}
		if len(m.Statements) == 0 {
			return fmt.Errorf("migration %d (%s) has no statements", m.Version, m.Name)
		}
		if i > 0 && m.Version <= migrations[i-1].Version {
			return fmt.Errorf("migration versions must be strictly increasing: %d follows %d",
				m.Version, migrations[i-1].Version)
		}
	}
	return nil
}

// Pending returns migrations not yet recorded as applied, in version order.
func Pending(migrations []Migration, applied map[int]bool) []Migration {
	var out []Migration
	for _, m := range migrations {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (m *Migrator) Migrate(ctx context.Context) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{Applied: []string{}, Timestamp: start}

	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	pending := Pending(m.migrations, applied)
	result.Skipped = len(m.migrations) - len(pending)

	for _, migration := range pending {
		if err := m.apply(ctx, migration); err != nil {
			return result, fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}
		result.Applied = append(result.Applied, migration.Name)

		m.logger.WithFields(logrus.Fields{
			"version": migration.Version,
			"name":    migration.Name,
		}).Info("Applied schema migration")
	}

	result.ProcessingTime = time.Since(start)

	m.logger.WithFields(logrus.Fields{
		"applied":         len(result.Applied),
		"skipped":         result.Skipped,
		"processing_time": result.ProcessingTime.String(),
	}).Info("Schema migrations complete")

	return result, nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) apply(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range migration.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
		migration.Version, migration.Name); err != nil {
		return err
	}

	return tx.Commit()
}
