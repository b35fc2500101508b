package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// PostgresOutbox is the durable OutboxStore.
type PostgresOutbox struct {
	db *sql.DB
}

func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

const outboxDDL = `
CREATE TABLE IF NOT EXISTS event_outbox (
    id            BIGSERIAL PRIMARY KEY,
    topic         TEXT NOT NULL,
    payload       JSONB NOT NULL,
    attempts      INT NOT NULL DEFAULT 0,
    dead          BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    dispatched_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS event_outbox_pending_idx
    ON event_outbox (id) WHERE dispatched_at IS NULL AND NOT dead;
`

// EnsureSchema creates the outbox table. Idempotent.
func (s *PostgresOutbox) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, outboxDDL)
	return err
}

func (s *PostgresOutbox) Enqueue(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	query, args, err := sq.Insert("event_outbox").
		Columns("topic", "payload").
		Values(event.Topic, payload).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

func (s *PostgresOutbox) FetchPending(ctx context.Context, limit int) ([]OutboxRow, error) {
	query, args, err := sq.Select("id", "payload", "attempts").
		From("event_outbox").
		Where("dispatched_at IS NULL AND NOT dead").
		OrderBy("id ASC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch pending events: %w", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var (
			row     OutboxRow
			payload []byte
		)
		if err := rows.Scan(&row.ID, &payload, &row.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		if err := json.Unmarshal(payload, &row.Event); err != nil {
			return nil, fmt.Errorf("decode outbox event: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresOutbox) MarkDispatched(ctx context.Context, ids []int64) error {
	query, args, err := sq.Update("event_outbox").
		Set("dispatched_at", sq.Expr("now()")).
		Where(sq.Eq{"id": ids}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	return nil
}

func (s *PostgresOutbox) MarkFailed(ctx context.Context, id int64, dead bool) error {
	query, args, err := sq.Update("event_outbox").
		Set("attempts", sq.Expr("attempts + 1")).
		Set("dead", dead).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}
