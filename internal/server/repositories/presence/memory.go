package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

type key struct {
	regionID, userID, sessionID string
}

type MemoryRepository struct {
	mu   sync.Mutex
	rows map[key]models.Presence
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[key]models.Presence)}
}

func (m *MemoryRepository) Upsert(_ context.Context, p *models.Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[key{p.RegionID, p.UserID, p.SessionID}] = *p
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, tenantID, regionID, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{regionID, userID, sessionID}
	if p, ok := m.rows[k]; ok && p.TenantID == tenantID {
		delete(m.rows, k)
	}
	return nil
}

func (m *MemoryRepository) DeleteSession(_ context.Context, tenantID, userID, sessionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var regionIDs []string
	for k, p := range m.rows {
		if p.TenantID == tenantID && k.userID == userID && k.sessionID == sessionID {
			delete(m.rows, k)
			regionIDs = append(regionIDs, k.regionID)
		}
	}
	sort.Strings(regionIDs)
	return regionIDs, nil
}

func (m *MemoryRepository) ListActive(_ context.Context, tenantID, regionID string, since time.Time) ([]*models.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Presence
	for _, p := range m.rows {
		if p.TenantID == tenantID && p.RegionID == regionID && !p.LastSeen.Before(since) {
			c := p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

func (m *MemoryRepository) FindEditor(_ context.Context, tenantID, regionID, excludeUserID string, since time.Time) (*models.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.Presence
	for _, p := range m.rows {
		if p.TenantID != tenantID || p.RegionID != regionID || p.UserID == excludeUserID {
			continue
		}
		if !p.IsEditing || p.LastSeen.Before(since) {
			continue
		}
		if found == nil || p.LastSeen.After(found.LastSeen) {
			c := p
			found = &c
		}
	}
	if found == nil {
		return nil, common.ErrorNotFound
	}
	return found, nil
}

func (m *MemoryRepository) Touch(_ context.Context, tenantID, userID, sessionID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, p := range m.rows {
		if p.TenantID == tenantID && k.userID == userID && k.sessionID == sessionID {
			p.LastSeen = at
			m.rows[k] = p
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) DeleteStale(_ context.Context, regionID string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, p := range m.rows {
		if (regionID == "" || k.regionID == regionID) && p.LastSeen.Before(before) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored rows, stale ones included.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}
