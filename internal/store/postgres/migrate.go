package postgres

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS slots (
		id             TEXT PRIMARY KEY,
		zone           TEXT NOT NULL,
		tag            TEXT NOT NULL,
		distance       DOUBLE PRECISION NOT NULL DEFAULT 0,
		gate_distances JSONB NOT NULL DEFAULT '{}'::jsonb,
		out_of_service BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id         TEXT PRIMARY KEY,
		plate      TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time   TIMESTAMPTZ NOT NULL,
		zone       TEXT NOT NULL DEFAULT '',
		tag        TEXT NOT NULL DEFAULT '',
		consumed   BOOLEAN NOT NULL DEFAULT FALSE,
		cancelled  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (start_time < end_time)
	)`,
	`CREATE INDEX IF NOT EXISTS bookings_plate_idx ON bookings (plate)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id              TEXT PRIMARY KEY,
		plate           TEXT NOT NULL,
		slot_id         TEXT NOT NULL,
		zone            TEXT NOT NULL,
		booking_id      TEXT NOT NULL DEFAULT '',
		entry_time      TIMESTAMPTZ NOT NULL,
		exit_time       TIMESTAMPTZ,
		price           NUMERIC(14, 4) NOT NULL,
		currency        TEXT NOT NULL,
		occupancy_ratio DOUBLE PRECISION NOT NULL,
		quote_scope     TEXT NOT NULL DEFAULT '',
		quoted_at       TIMESTAMPTZ NOT NULL,
		status          TEXT NOT NULL
	)`,
	// at most one active session per slot and per plate
	`CREATE UNIQUE INDEX IF NOT EXISTS sessions_active_slot_idx ON sessions (slot_id) WHERE status = 'active'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sessions_active_plate_idx ON sessions (plate) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS sessions_entry_time_idx ON sessions (entry_time DESC)`,
}

// Migrate creates the schema. It is idempotent.
func Migrate(ctx context.Context, db Querier) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: Migrate - statement %d: %v", ErrExecQuery, i, err)
		}
	}
	return nil
}
