package archive

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          TEXT PRIMARY KEY,
	ts          TIMESTAMPTZ,
	action      TEXT NOT NULL DEFAULT '',
	actor       TEXT NOT NULL DEFAULT '',
	entity      TEXT NOT NULL DEFAULT '',
	entity_id   TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '',
	raw         JSONB,
	received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_ts_idx ON audit_events (ts DESC);
`

const insertSQL = `
	INSERT INTO audit_events (id, ts, action, actor, entity, entity_id, details, raw, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING
`

// EnsureSchema creates the audit_events table if it does not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
