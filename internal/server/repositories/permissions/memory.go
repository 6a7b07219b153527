package permissions

import (
	"context"
	"slices"
	"sync"

	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	entries []models.RegionPermission
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) ListForPrincipal(_ context.Context, tenantID, regionID, userID string, roles []string) ([]*models.RegionPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.RegionPermission
	for _, e := range m.entries {
		if e.TenantID != tenantID || e.RegionID != regionID {
			continue
		}
		if (e.PrincipalType == models.PrincipalUser && e.PrincipalID == userID) ||
			(e.PrincipalType == models.PrincipalRole && slices.Contains(roles, e.PrincipalID)) {
			c := e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryRepository) Upsert(_ context.Context, p *models.RegionPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.RegionID == p.RegionID && e.PrincipalType == p.PrincipalType && e.PrincipalID == p.PrincipalID {
			m.entries[i] = *p
			return nil
		}
	}
	m.entries = append(m.entries, *p)
	return nil
}
