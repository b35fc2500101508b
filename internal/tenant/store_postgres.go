package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"gantry/pkg/domain"
	"gantry/pkg/platform/sentinel"
)

// Postgres is the durable Store implementation.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const tenantsDDL = `
CREATE TABLE IF NOT EXISTS tenants (
    id         UUID PRIMARY KEY,
    name       TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS tenants_name_key ON tenants (lower(name));
`

// EnsureSchema creates the tenants table. Idempotent.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, tenantsDDL)
	return err
}

func (s *Postgres) Create(ctx context.Context, t *Tenant) error {
	query, args, err := sq.Insert("tenants").
		Columns("id", "name", "status", "created_at").
		Values(uuid.UUID(t.ID), t.Name, string(t.Status), t.CreatedAt).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id domain.TenantID) (*Tenant, error) {
	query, args, err := sq.Select("id", "name", "status", "created_at").
		From("tenants").
		Where(sq.Eq{"id": uuid.UUID(id)}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var (
		t   Tenant
		uid uuid.UUID
		st  string
	)
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&uid, &t.Name, &st, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	t.ID = domain.TenantID(uid)
	t.Status = Status(st)
	return &t, nil
}

func (s *Postgres) SetStatus(ctx context.Context, id domain.TenantID, status Status) error {
	query, args, err := sq.Update("tenants").
		Set("status", string(status)).
		Where(sq.Eq{"id": uuid.UUID(id)}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update tenant status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
