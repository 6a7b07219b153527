package layouts

import (
	"context"
	"sync"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	layouts map[string]models.Layout
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{layouts: make(map[string]models.Layout)}
}

func (m *MemoryRepository) FindByID(_ context.Context, id, tenantID string) (*models.Layout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.layouts[id]
	if !ok || l.TenantID != tenantID {
		return nil, common.ErrorNotFound
	}
	return &l, nil
}

func (m *MemoryRepository) Create(_ context.Context, l *models.Layout) (*models.Layout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *l
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.CreatedAt = time.Now().UTC()
	m.layouts[out.ID] = out
	return &out, nil
}
