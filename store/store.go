// Package store persists the simulation entities in sqlite and owns the
// order status audit trail, which is written by database triggers so no
// code path can skip it.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed entity store.
type Store struct {
	queries
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Pass ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: keeps :memory: databases coherent and serializes
	// writers at the pool instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{queries: queries{db: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for custom queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Tx is a transactional view of the store. All engine tick effects run
// through one Tx so a failure rolls the whole tick back.
type Tx struct {
	queries
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{queries: queries{db: sqlTx}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// migrate creates the schema and audit triggers if they don't exist.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id INTEGER PRIMARY KEY,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		is_delivery_point INTEGER NOT NULL DEFAULT 0,
		UNIQUE (x, y)
	);

	CREATE TABLE IF NOT EXISTS restaurants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		node_id INTEGER NOT NULL REFERENCES nodes(id)
	);

	CREATE TABLE IF NOT EXISTS blocked_edges (
		from_node_id INTEGER NOT NULL REFERENCES nodes(id),
		to_node_id INTEGER NOT NULL REFERENCES nodes(id),
		PRIMARY KEY (from_node_id, to_node_id)
	);

	CREATE TABLE IF NOT EXISTS bots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'IDLE',
		current_node_id INTEGER REFERENCES nodes(id),
		max_capacity INTEGER NOT NULL DEFAULT 3
	);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		restaurant_id INTEGER NOT NULL REFERENCES restaurants(id),
		pickup_node_id INTEGER NOT NULL REFERENCES nodes(id),
		delivery_node_id INTEGER NOT NULL REFERENCES nodes(id),
		bot_id INTEGER REFERENCES bots(id),
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at TEXT NOT NULL,
		assigned_at TEXT,
		picked_up_at TEXT,
		delivered_at TEXT
	);

	CREATE TABLE IF NOT EXISTS order_status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		old_status TEXT,
		new_status TEXT NOT NULL,
		changed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_orders_bot ON orders(bot_id);
	CREATE INDEX IF NOT EXISTS idx_history_order ON order_status_history(order_id, changed_at);

	CREATE TRIGGER IF NOT EXISTS order_creation_audit
	AFTER INSERT ON orders
	BEGIN
		INSERT INTO order_status_history (order_id, old_status, new_status, changed_at)
		VALUES (NEW.id, NULL, NEW.status, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'));
	END;

	CREATE TRIGGER IF NOT EXISTS order_status_change_audit
	AFTER UPDATE ON orders
	WHEN OLD.status IS NOT NEW.status
	BEGIN
		INSERT INTO order_status_history (order_id, old_status, new_status, changed_at)
		VALUES (NEW.id, OLD.status, NEW.status, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'));
	END;
	`
	_, err := s.db.Exec(schema)
	return err
}
