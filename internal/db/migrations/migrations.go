package migrations

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

// Migration represents a database migration
type Migration struct {
	ID        string
	Name      string
	UpSQL     string
	DownSQL   string
	CreatedAt time.Time
}

// All returns the schema migrations in the order they must be applied
func All() []*Migration {
	return []*Migration{
		InitialSchema,
		RetentionPolicies,
	}
}

// Migrator manages database migrations
type Migrator struct {
	db *sql.DB
}

// New creates a new Migrator
func New(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the migrations table if it doesn't exist
func (m *Migrator) Initialize() error {
	query := `
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	_, err := m.db.Exec(query)
	return err
}

// GetAppliedMigrations returns the names of applied migrations
func (m *Migrator) GetAppliedMigrations() (map[string]bool, error) {
	rows, err := m.db.Query(`SELECT name FROM migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.Printf("Warning: failed to close rows: %v", cerr)
		}
	}()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// Pending returns the names of migrations that have not been applied yet
func (m *Migrator) Pending(migrations []*Migration) ([]string, error) {
	if err := m.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var pending []string
	for _, migration := range migrations {
		if !applied[migration.Name] {
			pending = append(pending, migration.Name)
		}
	}
	return pending, nil
}

// run executes a migration script and its bookkeeping statement in one transaction
func (m *Migrator) run(migration *Migration, script, recordQuery string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(script); err != nil {
		m.rollback(tx)
		return fmt.Errorf("failed to execute migration %s: %w", migration.Name, err)
	}

	if _, err := tx.Exec(recordQuery, migration.Name); err != nil {
		m.rollback(tx)
		return fmt.Errorf("failed to record migration %s: %w", migration.Name, err)
	}

	return tx.Commit()
}

func (m *Migrator) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		log.Printf("Warning: failed to rollback transaction: %v", err)
	}
}

// ApplyMigration applies a single migration
func (m *Migrator) ApplyMigration(migration *Migration) error {
	return m.run(migration, migration.UpSQL, "INSERT INTO migrations (name) VALUES ($1)")
}

// RollbackMigration rolls back a single migration
func (m *Migrator) RollbackMigration(migration *Migration) error {
	return m.run(migration, migration.DownSQL, "DELETE FROM migrations WHERE name = $1")
}

// Migrate applies all pending migrations in order
func (m *Migrator) Migrate(migrations []*Migration) error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Name] {
			continue
		}
		if err := m.ApplyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Name, err)
		}
		log.Printf("Applied migration: %s", migration.Name)
	}

	return nil
}

// Rollback rolls back the most recently applied migration
func (m *Migrator) Rollback(migrations []*Migration) error {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var last *Migration
	for i := len(migrations) - 1; i >= 0; i-- {
		if applied[migrations[i].Name] {
			last = migrations[i]
			break
		}
	}

	if last == nil {
		return fmt.Errorf("no migrations to rollback")
	}

	if err := m.RollbackMigration(last); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", last.Name, err)
	}

	log.Printf("Rolled back migration: %s", last.Name)
	return nil
}
