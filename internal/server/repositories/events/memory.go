package events

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu     sync.RWMutex
	events []*models.Event
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: func() time.Time { return time.Now().UTC() }}
}

func cloneEvent(e *models.Event) *models.Event {
	c := *e
	c.Payload = slices.Clone(e.Payload)
	return &c
}

func (m *MemoryRepository) Append(_ context.Context, e *models.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Version == 0 {
		e.Version = models.EventSchemaVersion
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now()
	}
	m.events = append(m.events, cloneEvent(e))
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id, tenantID string) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		if e.ID == id && e.TenantID == tenantID {
			return cloneEvent(e), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f Filter) matches(e *models.Event) bool {
	switch {
	case e.TenantID != f.TenantID:
		return false
	case f.EntityType != "" && e.EntityType != f.EntityType:
		return false
	case f.EntityID != "" && e.EntityID != f.EntityID:
		return false
	case f.LayoutID != "" && e.LayoutID != f.LayoutID:
		return false
	case len(f.Types) > 0 && !slices.Contains(f.Types, e.EventType):
		return false
	case !f.From.IsZero() && e.Timestamp.Before(f.From):
		return false
	case !f.To.IsZero() && e.Timestamp.After(f.To):
		return false
	case f.UpToVersion > 0 && e.EntityVersion > f.UpToVersion:
		return false
	}
	return true
}

func (m *MemoryRepository) List(_ context.Context, f Filter) ([]*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Event
	for _, e := range m.events {
		if f.matches(e) {
			out = append(out, cloneEvent(e))
		}
	}
	// Appends carry non-decreasing timestamps, so insertion order is time order.
	slices.SortStableFunc(out, func(a, b *models.Event) int { return a.Timestamp.Compare(b.Timestamp) })
	if !f.Ascending {
		slices.Reverse(out)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
