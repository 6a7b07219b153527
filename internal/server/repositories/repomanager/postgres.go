// Package repomanager provides concrete RepositoryManagers: one for
// PostgreSQL, wiring together repository constructors and database
// migrations (via goose), and one keeping everything in memory.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cseek11/VeroSuite-sub002/internal/dbx"
	"github.com/cseek11/VeroSuite-sub002/internal/server/migrations"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/events"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/idempotency"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/layouts"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/permissions"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/presence"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/regions"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct {
	db *sql.DB
}

func (m *PostgresRepositoryManager) Conn() dbx.DBTX { return m.db }

// Transactor opens read-committed transactions on the manager's pool.
func (m *PostgresRepositoryManager) Transactor() dbx.Transactor {
	return dbx.SQLTransactor{DB: m.db}
}

// Regions returns a regions.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Regions(db dbx.DBTX) regions.Repository {
	return regions.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Layouts(db dbx.DBTX) layouts.Repository {
	return layouts.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Permissions(db dbx.DBTX) permissions.Repository {
	return permissions.NewPostgresRepository(db)
}

// Events returns an events.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Events(db dbx.DBTX) events.Repository {
	return events.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Presence(db dbx.DBTX) presence.Repository {
	return presence.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Idempotency(db dbx.DBTX) idempotency.Repository {
	return idempotency.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(db *sql.DB) (RepositoryManager, error) {
	return &PostgresRepositoryManager{db: db}, nil
}

// Open connects to PostgreSQL through the pgx stdlib driver and checks the
// connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}
