package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS gates (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		anpr_enabled    BOOLEAN NOT NULL DEFAULT TRUE,
		barcode_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_gates_name ON gates(name);`,
	`CREATE TABLE IF NOT EXISTS cameras (
		id               BIGSERIAL PRIMARY KEY,
		gate_id          BIGINT NOT NULL REFERENCES gates(id),
		name             TEXT NOT NULL,
		source_url       TEXT NOT NULL,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		invert_direction BOOLEAN NOT NULL DEFAULT FALSE,
		last_seen        TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_cameras_gate_name ON cameras(gate_id, name);`,
	`CREATE TABLE IF NOT EXISTS rois (
		id          BIGSERIAL PRIMARY KEY,
		gate_id     BIGINT NOT NULL REFERENCES gates(id),
		camera_id   BIGINT NOT NULL REFERENCES cameras(id),
		shape       TEXT NOT NULL DEFAULT 'rectangle',
		coordinates JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_rois_gate_camera ON rois(gate_id, camera_id);`,
	`CREATE TABLE IF NOT EXISTS events (
		id                  BIGSERIAL PRIMARY KEY,
		event_uuid          UUID NOT NULL DEFAULT uuid_generate_v4(),
		gate_id             BIGINT NOT NULL REFERENCES gates(id),
		camera_id           BIGINT NOT NULL REFERENCES cameras(id),
		track_id            BIGINT,
		direction           TEXT NOT NULL,
		vehicle_type        TEXT,
		confidence          NUMERIC(5,2),
		plate_number        TEXT,
		barcode_value       TEXT,
		material_type       TEXT,
		material_confidence NUMERIC(5,2),
		load_percentage     NUMERIC(5,2),
		load_label          TEXT,
		snapshot_url        TEXT,
		load_crop_url       TEXT,
		event_time          TIMESTAMPTZ NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_events_uuid ON events(event_uuid);`,
	`CREATE INDEX IF NOT EXISTS idx_events_event_time ON events(event_time);`,
	`CREATE INDEX IF NOT EXISTS idx_events_gate_id ON events(gate_id);`,
	`CREATE INDEX IF NOT EXISTS idx_events_camera_id ON events(camera_id);`,
	`CREATE TABLE IF NOT EXISTS notification_rules (
		id             BIGSERIAL PRIMARY KEY,
		gate_id        BIGINT NOT NULL REFERENCES gates(id),
		channel        TEXT NOT NULL DEFAULT 'email',
		enabled        BOOLEAN NOT NULL DEFAULT TRUE,
		min_confidence INT NOT NULL DEFAULT 0,
		directions     TEXT,
		vehicle_types  TEXT,
		recipients     TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_notification_rules_gate_id ON notification_rules(gate_id);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
