package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS question_events (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id       TEXT NOT NULL DEFAULT '',
  question     TEXT NOT NULL DEFAULT '',
  variant_seed INTEGER NOT NULL DEFAULT 0,
  phase        TEXT NOT NULL DEFAULT '',
  tag          TEXT NOT NULL DEFAULT '',
  event_type   TEXT NOT NULL,
  kind         TEXT NOT NULL DEFAULT '',
  message      TEXT NOT NULL DEFAULT '',
  data         TEXT NOT NULL DEFAULT '{}',
  created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS question_events_run_idx ON question_events (run_id);
`

// SQLiteLogger stores events in a local SQLite database, for developer
// runs without PostgreSQL.
type SQLiteLogger struct {
	db *sql.DB
}

func NewSQLiteLogger(db *sql.DB) *SQLiteLogger {
	return &SQLiteLogger{db: db}
}

// EnsureSchema creates the question_events table if it does not exist.
func (l *SQLiteLogger) EnsureSchema(ctx context.Context) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("event logger db is nil")
	}
	if _, err := l.db.ExecContext(ctx, schemaSQLite); err != nil {
		return fmt.Errorf("creating question_events: %w", err)
	}
	return nil
}

func (l *SQLiteLogger) LogEvent(event Event) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("event logger db is nil")
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

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO question_events
		   (run_id, question, variant_seed, phase, tag, event_type, kind, message, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.Question, event.VariantSeed, event.Phase, event.Tag,
		event.EventType, event.Kind, event.Message, data, createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Events returns the events stored for a run, oldest first.
func (l *SQLiteLogger) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, question, variant_seed, phase, tag, event_type, kind, message, created_at
		 FROM question_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.RunID, &e.Question, &e.VariantSeed, &e.Phase, &e.Tag,
			&e.EventType, &e.Kind, &e.Message, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
