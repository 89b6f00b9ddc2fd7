package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS question_events (
  id           BIGSERIAL PRIMARY KEY,
  run_id       TEXT NOT NULL DEFAULT '',
  question     TEXT NOT NULL DEFAULT '',
  variant_seed BIGINT NOT NULL DEFAULT 0,
  phase        TEXT NOT NULL DEFAULT '',
  tag          TEXT NOT NULL DEFAULT '',
  event_type   TEXT NOT NULL,
  kind         TEXT NOT NULL DEFAULT '',
  message      TEXT NOT NULL DEFAULT '',
  data         JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS question_events_run_idx ON question_events (run_id);
`

// PostgresLogger inserts events into the question_events table.
type PostgresLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresLogger(pool *pgxpool.Pool) *PostgresLogger {
	return &PostgresLogger{pool: pool}
}

// EnsureSchema creates the question_events table if it does not exist.
func (l *PostgresLogger) EnsureSchema(ctx context.Context) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if _, err := l.pool.Exec(ctx, schemaPostgres); err != nil {
		return fmt.Errorf("creating question_events: %w", err)
	}
	return nil
}

func (l *PostgresLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}

	data, err := marshalData(event.Data)
	if err != nil {
		return err
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO question_events
		   (run_id, question, variant_seed, phase, tag, event_type, kind, message, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)`,
		event.RunID,
		event.Question,
		event.VariantSeed,
		event.Phase,
		event.Tag,
		event.EventType,
		event.Kind,
		event.Message,
		data,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.EventType,
		"run_id", event.RunID,
		"tag", event.Tag,
	)
	return nil
}

// CountByRun returns the number of events stored for a run.
func (l *PostgresLogger) CountByRun(ctx context.Context, runID string) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, `SELECT count(*) FROM question_events WHERE run_id = $1`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func marshalData(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event data: %w", err)
	}
	return string(data), nil
}
