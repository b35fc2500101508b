package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"gantry/pkg/domain"
	"gantry/pkg/platform/sentinel"
)

// Postgres stores all entity types in one jsonb-backed table. Tenant
// isolation is a WHERE clause on every statement; uniqueness is enforced by
// per-type expression indexes declared through EnsureUniqueField.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const entitiesDDL = `
CREATE TABLE IF NOT EXISTS entities (
    id          UUID PRIMARY KEY,
    tenant_id   UUID NOT NULL,
    entity_type TEXT NOT NULL,
    fields      JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS entities_tenant_type_idx ON entities (tenant_id, entity_type);
`

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EnsureSchema creates the entities table. Idempotent.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, entitiesDDL)
	return err
}

// EnsureUniqueField declares a per-tenant uniqueness constraint on one field
// of one entity type, matching the constraints the memory engine takes at
// construction.
func (s *Postgres) EnsureUniqueField(ctx context.Context, entityType, field string) error {
	if !identPattern.MatchString(entityType) || !identPattern.MatchString(field) {
		return fmt.Errorf("invalid identifier for unique index: %s.%s", entityType, field)
	}
	ddl := fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS entities_%s_%s_key
		 ON entities (tenant_id, (fields->>'%s')) WHERE entity_type = '%s'`,
		entityType, field, field, entityType,
	)
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func scopedWhere(b sq.SelectBuilder, entityType string, scope Scope) sq.SelectBuilder {
	b = b.Where(sq.Eq{"entity_type": entityType})
	if !scope.AllTenants {
		b = b.Where(sq.Eq{"tenant_id": uuid.UUID(scope.TenantID)})
	}
	return b
}

func scanEntity(row sq.RowScanner) (*Entity, error) {
	var (
		e         Entity
		id, tid   uuid.UUID
		rawFields []byte
	)
	if err := row.Scan(&id, &tid, &e.Type, &rawFields, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.ID = id.String()
	e.TenantID = domain.TenantID(tid)
	if err := json.Unmarshal(rawFields, &e.Fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return &e, nil
}

func (s *Postgres) FindOne(ctx context.Context, entityType string, scope Scope, id string) (*Entity, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, sentinel.ErrNotFound
	}

	b := sq.Select("id", "tenant_id", "entity_type", "fields", "created_at", "updated_at").
		From("entities").
		Where(sq.Eq{"id": uid})
	query, args, err := scopedWhere(b, entityType, scope).PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	e, err := scanEntity(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find entity: %w", err)
	}
	return e, nil
}

func (s *Postgres) List(ctx context.Context, entityType string, scope Scope, q Query) ([]*Entity, int, error) {
	applyFilter := func(b sq.SelectBuilder) sq.SelectBuilder {
		b = scopedWhere(b, entityType, scope)
		for k, v := range q.Filter {
			if !identPattern.MatchString(k) {
				// Unfilterable key can never match anything stored.
				return b.Where(sq.Expr("FALSE"))
			}
			b = b.Where(sq.Expr("fields->>? = ?", k, fmt.Sprint(v)))
		}
		return b
	}

	// Count first, from the same predicate as the page.
	countQuery, countArgs, err := applyFilter(sq.Select("COUNT(*)").From("entities")).
		PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entities: %w", err)
	}

	b := applyFilter(sq.Select("id", "tenant_id", "entity_type", "fields", "created_at", "updated_at").From("entities"))
	b = b.OrderBy(orderClause(q.Sort))
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		b = b.Offset(uint64(q.Offset))
	}
	query, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	items := []*Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan entity: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list entities: %w", err)
	}
	return items, total, nil
}

func orderClause(s Sort) string {
	dir := "ASC"
	if s.Desc {
		dir = "DESC"
	}
	if s.Field == "" || s.Field == "created_at" || !identPattern.MatchString(s.Field) {
		return fmt.Sprintf("created_at %s, id %s", dir, dir)
	}
	return fmt.Sprintf("fields->>'%s' %s, id %s", s.Field, dir, dir)
}

func (s *Postgres) Insert(ctx context.Context, entityType string, e *Entity) (*Entity, error) {
	row := e.Clone()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	uid, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid entity id: %w", err)
	}
	if row.Fields == nil {
		row.Fields = make(map[string]any)
	}
	rawFields, err := json.Marshal(row.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}

	query, args, err := sq.Insert("entities").
		Columns("id", "tenant_id", "entity_type", "fields").
		Values(uid, uuid.UUID(row.TenantID), entityType, rawFields).
		Suffix("RETURNING created_at, updated_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&row.CreatedAt, &row.UpdatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, sentinel.ErrConflict
		}
		return nil, fmt.Errorf("insert entity: %w", err)
	}
	row.Type = entityType
	return row, nil
}

func (s *Postgres) Update(ctx context.Context, entityType string, scope Scope, id string, patch map[string]any) (*Entity, *Entity, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, nil, sentinel.ErrNotFound
	}
	rawPatch, err := json.Marshal(patch)
	if err != nil {
		return nil, nil, fmt.Errorf("encode patch: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	// Pre-image under a row lock so the diff reflects exactly what this
	// write replaced.
	b := sq.Select("id", "tenant_id", "entity_type", "fields", "created_at", "updated_at").
		From("entities").
		Where(sq.Eq{"id": uid})
	selQuery, selArgs, err := scopedWhere(b, entityType, scope).
		Suffix("FOR UPDATE").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, nil, fmt.Errorf("build select: %w", err)
	}

	before, err := scanEntity(tx.QueryRowContext(ctx, selQuery, selArgs...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, sentinel.ErrNotFound
		}
		return nil, nil, fmt.Errorf("load pre-image: %w", err)
	}

	after := before.Clone()
	var updatedAt time.Time
	err = tx.QueryRowContext(ctx,
		`UPDATE entities SET fields = fields || $1::jsonb, updated_at = now()
		 WHERE id = $2 RETURNING fields, updated_at`,
		rawPatch, uid,
	).Scan(&rawPatch, &updatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, nil, sentinel.ErrConflict
		}
		return nil, nil, fmt.Errorf("update entity: %w", err)
	}
	if err := json.Unmarshal(rawPatch, &after.Fields); err != nil {
		return nil, nil, fmt.Errorf("decode updated fields: %w", err)
	}
	after.UpdatedAt = updatedAt

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit update: %w", err)
	}
	return before, after, nil
}

func (s *Postgres) Delete(ctx context.Context, entityType string, scope Scope, id string) (*Entity, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, sentinel.ErrNotFound
	}

	del := sq.Delete("entities").Where(sq.Eq{"id": uid, "entity_type": entityType})
	if !scope.AllTenants {
		del = del.Where(sq.Eq{"tenant_id": uuid.UUID(scope.TenantID)})
	}
	query, args, err := del.
		Suffix("RETURNING id, tenant_id, entity_type, fields, created_at, updated_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delete: %w", err)
	}

	e, err := scanEntity(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("delete entity: %w", err)
	}
	return e, nil
}
