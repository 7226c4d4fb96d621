package logstore

import (
	"context"

	apperrors "github.com/logsage/logsage/internal/pkg/errors"
)

// schema is applied idempotently at startup. Deployments with external
// migration tooling can skip Migrate and manage these tables themselves.
const schema = `
CREATE TABLE IF NOT EXISTS wide_events (
	request_id    TEXT PRIMARY KEY,
	ts            TIMESTAMPTZ NOT NULL,
	service       TEXT NOT NULL,
	route         TEXT NOT NULL DEFAULT '',
	method        TEXT NOT NULL DEFAULT '',
	status_code   INT NOT NULL DEFAULT 0,
	duration_ms   BIGINT,
	error_code    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	user_id       TEXT NOT NULL DEFAULT '',
	user_role     TEXT NOT NULL DEFAULT '',
	metadata      JSONB
);

CREATE INDEX IF NOT EXISTS wide_events_ts_idx ON wide_events (ts);
CREATE INDEX IF NOT EXISTS wide_events_service_idx ON wide_events (service, ts);
CREATE INDEX IF NOT EXISTS wide_events_error_idx ON wide_events (error_code) WHERE error_code <> '';

CREATE TABLE IF NOT EXISTS log_embeddings (
	id             UUID PRIMARY KEY,
	request_id     TEXT NOT NULL UNIQUE REFERENCES wide_events(request_id),
	ts             TIMESTAMPTZ NOT NULL,
	service        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'pending',
	summary        TEXT,
	model          TEXT,
	failure_reason TEXT,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS log_embeddings_status_idx ON log_embeddings (status, ts);
`

// Migrate applies the storage schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return apperrors.StorageError("apply schema", err)
	}
	return nil
}
