//go:build integration

package containers

import (
	"context"
	"database/sql"
	"testing"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/lib/pq"
)

// PostgresContainer is a running Postgres with a verified pq connection.
type PostgresContainer struct {
	URL string
	DB  *sql.DB
}

// NewPostgresContainer starts Postgres and opens a connection to it. The
// container and connection are torn down when the test finishes.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("gantry_test"),
		tcpostgres.WithUsername("gantry"),
		tcpostgres.WithPassword("gantry"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		fatal(t, nil, "start postgres container: %v", err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fatal(t, container, "postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		fatal(t, container, "open postgres connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		fatal(t, container, "ping postgres: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(context.Background())
	})
	return &PostgresContainer{URL: url, DB: db}
}

// TruncateAll clears the given tables. Use between tests to ensure isolation.
func (p *PostgresContainer) TruncateAll(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}
