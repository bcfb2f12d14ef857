package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'activity_action') THEN
			CREATE TYPE activity_action AS ENUM ('entry', 'exit', 'unauthorized_exit');
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS activity_records (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		plate VARCHAR(32) NOT NULL,
		action activity_action NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT FALSE,
		amount_due NUMERIC(10,2) NOT NULL DEFAULT 0,
		occurred_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_activity_records_plate ON activity_records (plate);`,
	`CREATE INDEX IF NOT EXISTS idx_activity_records_occurred_at ON activity_records (occurred_at);`,
	`CREATE INDEX IF NOT EXISTS idx_activity_records_plate_occurred_at ON activity_records (plate, occurred_at);`,
	`CREATE TABLE IF NOT EXISTS unauthorized_exits (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		plate VARCHAR(32) NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_unauthorized_exits_plate ON unauthorized_exits (plate);`,
	`CREATE INDEX IF NOT EXISTS idx_unauthorized_exits_occurred_at ON unauthorized_exits (occurred_at);`,
	`CREATE TABLE IF NOT EXISTS gate_events (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		lane VARCHAR(16) NOT NULL,
		command VARCHAR(16) NOT NULL,
		result VARCHAR(16) NOT NULL,
		plate VARCHAR(32),
		record_id UUID,
		detail JSONB,
		sent_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_events_sent_at ON gate_events (sent_at);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_events_lane ON gate_events (lane);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
