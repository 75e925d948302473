// Package store persists issued speed tickets in SQLite and exposes a read
// path for the REST introspection API. The speed coordinator does not read
// tickets back from it, so its per-car-per-day dedupe state is not restored
// after a restart.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"protorelay/internal/frameproto"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database holding the ticket ledger.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("ticket ledger opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
PRAGMA journal_mode = WAL;

CREATE TABLE IF NOT EXISTS tickets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	plate TEXT NOT NULL,
	road INTEGER NOT NULL,
	mile1 INTEGER NOT NULL,
	timestamp1 INTEGER NOT NULL,
	mile2 INTEGER NOT NULL,
	timestamp2 INTEGER NOT NULL,
	speed INTEGER NOT NULL,
	issued_at_unix INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
CREATE INDEX IF NOT EXISTS idx_tickets_plate ON tickets(plate);
CREATE INDEX IF NOT EXISTS idx_tickets_road ON tickets(road);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	slog.Debug("ticket ledger migrations applied")
	return nil
}

// RecordTicket persists one issued ticket. It satisfies speed.Ledger.
func (s *Store) RecordTicket(ctx context.Context, t frameproto.Ticket) error {
	const q = `
INSERT INTO tickets (plate, road, mile1, timestamp1, mile2, timestamp2, speed)
VALUES (?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, q, t.Plate, t.Road, t.Mile1, t.Timestamp1, t.Mile2, t.Timestamp2, t.Speed)
	if err != nil {
		return fmt.Errorf("store: insert ticket: %w", err)
	}
	slog.Debug("ticket persisted", "plate", t.Plate, "road", t.Road, "speed", t.Speed)
	return nil
}

// TicketRow is one persisted ticket, read back for the introspection API.
type TicketRow struct {
	ID         int64
	Plate      string
	Road       uint16
	Mile1      uint16
	Timestamp1 uint32
	Mile2      uint16
	Timestamp2 uint32
	Speed      uint16
	IssuedAt   int64
}

// TicketsByRoad returns the most recently issued tickets for road, newest
// first, bounded by limit.
func (s *Store) TicketsByRoad(ctx context.Context, road uint16, limit int) ([]TicketRow, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, plate, road, mile1, timestamp1, mile2, timestamp2, speed, issued_at_unix
FROM tickets
WHERE road = ?
ORDER BY id DESC
LIMIT ?
`
	rows, err := s.db.QueryContext(ctx, q, road, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query tickets: %w", err)
	}
	defer rows.Close()

	var out []TicketRow
	for rows.Next() {
		var t TicketRow
		if err := rows.Scan(&t.ID, &t.Plate, &t.Road, &t.Mile1, &t.Timestamp1, &t.Mile2, &t.Timestamp2, &t.Speed, &t.IssuedAt); err != nil {
			return nil, fmt.Errorf("store: scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Roads returns the distinct roads with at least one ticket on record.
func (s *Store) Roads(ctx context.Context) ([]uint16, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT road FROM tickets ORDER BY road`)
	if err != nil {
		return nil, fmt.Errorf("store: query roads: %w", err)
	}
	defer rows.Close()

	var roads []uint16
	for rows.Next() {
		var road uint16
		if err := rows.Scan(&road); err != nil {
			return nil, fmt.Errorf("store: scan road: %w", err)
		}
		roads = append(roads, road)
	}
	return roads, rows.Err()
}
