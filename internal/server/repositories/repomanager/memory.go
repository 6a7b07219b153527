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

// InMemoryRepositoryManager hands out one shared in-memory repository per
// kind regardless of the DBTX passed in. It backs tests and the server's
// -memory mode.
type InMemoryRepositoryManager struct {
	RegionStore      *regions.MemoryRepository
	LayoutStore      *layouts.MemoryRepository
	PermissionStore  *permissions.MemoryRepository
	EventStore       *events.MemoryRepository
	PresenceStore    *presence.MemoryRepository
	IdempotencyStore *idempotency.MemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		RegionStore:      regions.NewMemoryRepository(),
		LayoutStore:      layouts.NewMemoryRepository(),
		PermissionStore:  permissions.NewMemoryRepository(),
		EventStore:       events.NewMemoryRepository(),
		PresenceStore:    presence.NewMemoryRepository(),
		IdempotencyStore: idempotency.NewMemoryRepository(),
	}
}

// RunMigrations has nothing to do for in-memory stores.
func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *InMemoryRepositoryManager) Conn() dbx.DBTX             { return nil }
func (m *InMemoryRepositoryManager) Transactor() dbx.Transactor { return dbx.NoTx{} }

func (m *InMemoryRepositoryManager) Regions(dbx.DBTX) regions.Repository { return m.RegionStore }
func (m *InMemoryRepositoryManager) Layouts(dbx.DBTX) layouts.Repository { return m.LayoutStore }
func (m *InMemoryRepositoryManager) Permissions(dbx.DBTX) permissions.Repository {
	return m.PermissionStore
}
func (m *InMemoryRepositoryManager) Events(dbx.DBTX) events.Repository     { return m.EventStore }
func (m *InMemoryRepositoryManager) Presence(dbx.DBTX) presence.Repository { return m.PresenceStore }
func (m *InMemoryRepositoryManager) Idempotency(dbx.DBTX) idempotency.Repository {
	return m.IdempotencyStore
}
