package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/logsage/logsage/internal/event"
	apperrors "github.com/logsage/logsage/internal/pkg/errors"
	"github.com/logsage/logsage/internal/pkg/logger"
)

// PostgresStore implements Storage on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresStore connects a pool and verifies connectivity.
func NewPostgresStore(ctx context.Context, dsn string, log *logger.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("logstore: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("logstore: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("logstore: ping: %w", err)
	}

	return &PostgresStore{pool: pool, log: log}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping checks connectivity to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// InsertEvents inserts events using the COPY protocol for high throughput.
func (s *PostgresStore) InsertEvents(ctx context.Context, events []event.WideEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	columns := []string{
		"request_id", "ts", "service", "route", "method", "status_code",
		"duration_ms", "error_code", "error_message", "user_id", "user_role", "metadata",
	}

	rows := make([][]any, len(events))
	for i, e := range events {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return 0, apperrors.StorageError("encode event metadata", err)
		}
		rows[i] = []any{
			e.RequestID,
			e.Timestamp,
			e.Service,
			e.Route,
			e.Method,
			e.StatusCode,
			e.DurationMS,
			e.ErrorCode,
			e.ErrorMessage,
			e.UserID,
			e.UserRole,
			meta,
		}
	}

	// Dedicated COPY timeout prevents a hung Postgres from blocking the
	// ingest flush indefinitely.
	copyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	count, err := s.pool.CopyFrom(copyCtx, pgx.Identifier{"wide_events"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, apperrors.StorageError("copy wide events", err)
	}
	return count, nil
}

const eventColumns = `request_id, ts, service, route, method, status_code,
	duration_ms, error_code, error_message, user_id, user_role, metadata`

// FindByRequestID returns the event for a request id.
func (s *PostgresStore) FindByRequestID(ctx context.Context, requestID string) (*event.WideEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM wide_events WHERE request_id = $1`, requestID)

	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("event " + requestID)
		}
		return nil, apperrors.StorageError("find event by request id", err)
	}
	return e, nil
}

// FindByRequestIDs returns the events for the given request ids.
func (s *PostgresStore) FindByRequestIDs(ctx context.Context, requestIDs []string) ([]event.WideEvent, error) {
	if len(requestIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM wide_events WHERE request_id = ANY($1)`, requestIDs)
	if err != nil {
		return nil, apperrors.StorageError("find events by request ids", err)
	}
	defer rows.Close()

	var events []event.WideEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.StorageError("scan event", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError("iterate events", err)
	}
	return events, nil
}

// EnqueuePending creates pending embedding records for events lacking one.
func (s *PostgresStore) EnqueuePending(ctx context.Context, events []event.WideEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	var created int64
	for _, e := range events {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO log_embeddings (id, request_id, ts, service, status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (request_id) DO NOTHING`,
			uuid.NewString(), e.RequestID, e.Timestamp, e.Service, event.EmbeddingPending)
		if err != nil {
			return created, apperrors.StorageError("enqueue pending embedding", err)
		}
		created += tag.RowsAffected()
	}
	return created, nil
}

// FindPendingEmbedding returns up to limit pending records, oldest first,
// joined with their source events.
func (s *PostgresStore) FindPendingEmbedding(ctx context.Context, limit int) ([]event.LogEmbedding, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT le.id, le.request_id, le.ts, COALESCE(le.summary, ''), le.status,
		       le.service, COALESCE(le.model, ''),
		       `+prefixColumns("we", eventColumns)+`
		FROM log_embeddings le
		JOIN wide_events we ON we.request_id = le.request_id
		WHERE le.status = $1
		ORDER BY le.ts ASC
		LIMIT $2`, event.EmbeddingPending, limit)
	if err != nil {
		return nil, apperrors.StorageError("find pending embeddings", err)
	}
	defer rows.Close()

	var out []event.LogEmbedding
	for rows.Next() {
		var le event.LogEmbedding
		var src event.WideEvent
		var meta []byte
		err := rows.Scan(
			&le.ID, &le.RequestID, &le.Timestamp, &le.Summary, &le.Status,
			&le.Service, &le.Model,
			&src.RequestID, &src.Timestamp, &src.Service, &src.Route, &src.Method,
			&src.StatusCode, &src.DurationMS, &src.ErrorCode, &src.ErrorMessage,
			&src.UserID, &src.UserRole, &meta,
		)
		if err != nil {
			return nil, apperrors.StorageError("scan pending embedding", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &src.Metadata); err != nil {
				return nil, apperrors.StorageError("decode event metadata", err)
			}
		}
		le.Source = &src
		out = append(out, le)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError("iterate pending embeddings", err)
	}
	return out, nil
}

// FindEmbeddingByRequestID returns the embedding record for a request id
// regardless of status, joined with its source event.
func (s *PostgresStore) FindEmbeddingByRequestID(ctx context.Context, requestID string) (*event.LogEmbedding, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT le.id, le.request_id, le.ts, COALESCE(le.summary, ''), le.status,
		       le.service, COALESCE(le.model, ''),
		       `+prefixColumns("we", eventColumns)+`
		FROM log_embeddings le
		JOIN wide_events we ON we.request_id = le.request_id
		WHERE le.request_id = $1`, requestID)

	var le event.LogEmbedding
	var src event.WideEvent
	var meta []byte
	err := row.Scan(
		&le.ID, &le.RequestID, &le.Timestamp, &le.Summary, &le.Status,
		&le.Service, &le.Model,
		&src.RequestID, &src.Timestamp, &src.Service, &src.Route, &src.Method,
		&src.StatusCode, &src.DurationMS, &src.ErrorCode, &src.ErrorMessage,
		&src.UserID, &src.UserRole, &meta,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("embedding for request " + requestID)
		}
		return nil, apperrors.StorageError("find embedding by request id", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &src.Metadata); err != nil {
			return nil, apperrors.StorageError("decode event metadata", err)
		}
	}
	le.Source = &src
	return &le, nil
}

// SaveEmbedding marks the record embedded with its summary and model.
func (s *PostgresStore) SaveEmbedding(ctx context.Context, emb *event.LogEmbedding) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE log_embeddings
		SET status = $1, summary = $2, model = $3, updated_at = now()
		WHERE id = $4`,
		event.EmbeddingEmbedded, emb.Summary, emb.Model, emb.ID)
	if err != nil {
		return apperrors.StorageError("save embedding", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("embedding " + emb.ID)
	}
	return nil
}

// MarkEmbeddingFailed moves the record to failed with a reason.
func (s *PostgresStore) MarkEmbeddingFailed(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE log_embeddings
		SET status = $1, failure_reason = $2, updated_at = now()
		WHERE id = $3`,
		event.EmbeddingFailed, reason, id)
	if err != nil {
		return apperrors.StorageError("mark embedding failed", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFoundError("embedding " + id)
	}
	return nil
}

// Aggregate runs a typed pipeline as a single SQL query.
func (s *PostgresStore) Aggregate(ctx context.Context, p Pipeline) ([]Row, error) {
	query, args, err := buildAggregateSQL(p)
	if err != nil {
		return nil, apperrors.AggregationUnsatisfiableError(err.Error())
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.StorageError("run aggregation", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanAggregateRow(rows, p)
		if err != nil {
			return nil, apperrors.StorageError("scan aggregation row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError("iterate aggregation rows", err)
	}
	return out, nil
}

func scanAggregateRow(rows pgx.Rows, p Pipeline) (Row, error) {
	keyVals := make([]any, len(p.GroupBy))
	metricVals := make([]any, len(p.Metrics))
	dest := make([]any, 0, len(keyVals)+len(metricVals))
	for i := range keyVals {
		keyVals[i] = new(any)
		dest = append(dest, keyVals[i])
	}
	for i := range metricVals {
		metricVals[i] = new(*float64)
		dest = append(dest, metricVals[i])
	}

	if err := rows.Scan(dest...); err != nil {
		return Row{}, err
	}

	r := Row{Values: make(map[string]float64, len(p.Metrics))}
	if len(p.GroupBy) > 0 {
		r.Keys = make(map[string]string, len(p.GroupBy))
		for i, g := range p.GroupBy {
			r.Keys[g] = stringifyKey(*(keyVals[i].(*any)))
		}
	}
	for i, m := range p.Metrics {
		if v := *(metricVals[i].(**float64)); v != nil {
			r.Values[m.Name] = *v
		}
	}
	return r, nil
}

func stringifyKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// scanEvent scans one wide event row in eventColumns order.
func scanEvent(row pgx.Row) (*event.WideEvent, error) {
	var e event.WideEvent
	var meta []byte
	err := row.Scan(
		&e.RequestID, &e.Timestamp, &e.Service, &e.Route, &e.Method,
		&e.StatusCode, &e.DurationMS, &e.ErrorCode, &e.ErrorMessage,
		&e.UserID, &e.UserRole, &meta,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

// prefixColumns qualifies each column in a comma-separated list.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
