package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"gantry/pkg/domain"
)

// Postgres is the durable audit store. Changes and metadata are stored as
// jsonb; the table is append-only and indexed for the entity/tenant/time
// lookups the trail is queried by.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const auditDDL = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id          UUID PRIMARY KEY,
    action      TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    actor_id    UUID NOT NULL,
    tenant_id   UUID NOT NULL,
    changes     JSONB,
    metadata    JSONB,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_entity_idx ON audit_entries (entity_type, entity_id);
CREATE INDEX IF NOT EXISTS audit_tenant_time_idx ON audit_entries (tenant_id, recorded_at);
`

// EnsureSchema creates the audit table. Idempotent.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, auditDDL)
	return err
}

func (s *Postgres) Append(ctx context.Context, entry Entry) error {
	var changes, metadata []byte
	var err error
	if len(entry.Changes) > 0 {
		if changes, err = json.Marshal(entry.Changes); err != nil {
			return fmt.Errorf("encode changes: %w", err)
		}
	}
	if len(entry.Metadata) > 0 {
		if metadata, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}

	query, args, err := sq.Insert("audit_entries").
		Columns("id", "action", "entity_type", "entity_id", "actor_id", "tenant_id", "changes", "metadata", "recorded_at").
		Values(entry.ID, string(entry.Action), entry.EntityType, entry.EntityID,
			uuid.UUID(entry.ActorID), uuid.UUID(entry.TenantID), changes, metadata, entry.Timestamp).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *Postgres) ListByEntity(ctx context.Context, entityType, entityID string) ([]Entry, error) {
	query, args, err := sq.Select("id", "action", "entity_type", "entity_id", "actor_id", "tenant_id", "changes", "metadata", "recorded_at").
		From("audit_entries").
		Where(sq.Eq{"entity_type": entityType, "entity_id": entityID}).
		OrderBy("recorded_at ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			actorID, tenantID uuid.UUID
			action            string
			changes, metadata []byte
			recordedAt        time.Time
		)
		if err := rows.Scan(&e.ID, &action, &e.EntityType, &e.EntityID, &actorID, &tenantID, &changes, &metadata, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = domain.Action(action)
		e.ActorID = domain.ActorID(actorID)
		e.TenantID = domain.TenantID(tenantID)
		e.Timestamp = recordedAt
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Changes); err != nil {
				return nil, fmt.Errorf("decode changes: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
