package repomanager

import (
	"context"
	"database/sql"

	"github.com/cseek11/VeroSuite-sub002/internal/dbx"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/events"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/idempotency"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/layouts"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/permissions"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/presence"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/regions"
)

// RepositoryManager vends repositories bound to a DBTX. Conn is the
// non-transactional handle and Transactor opens units of work; repositories
// built from the handle passed to a WithinTx callback join that transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Conn() dbx.DBTX
	Transactor() dbx.Transactor

	Regions(db dbx.DBTX) regions.Repository
	Layouts(db dbx.DBTX) layouts.Repository
	Permissions(db dbx.DBTX) permissions.Repository
	Events(db dbx.DBTX) events.Repository
	Presence(db dbx.DBTX) presence.Repository
	Idempotency(db dbx.DBTX) idempotency.Repository
}
