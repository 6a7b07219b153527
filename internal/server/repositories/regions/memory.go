package regions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository keeps regions in a map. Check-and-write happens under a
// single mutex, so overlap and version checks are atomic with the write.
type MemoryRepository struct {
	mu      sync.Mutex
	regions map[string]*models.Region
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		regions: make(map[string]*models.Region),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRepository) live(id, tenantID string) (*models.Region, bool) {
	r, ok := m.regions[id]
	if !ok || r.TenantID != tenantID || r.DeletedAt != nil {
		return nil, false
	}
	return r, true
}

func (m *MemoryRepository) overlapping(layoutID, tenantID string, rect models.Rect, excludeID string) []*models.Region {
	var out []*models.Region
	for _, r := range m.regions {
		if r.LayoutID != layoutID || r.TenantID != tenantID || r.DeletedAt != nil || r.ID == excludeID {
			continue
		}
		if r.Rect().Overlaps(rect) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GridRow != out[j].GridRow {
			return out[i].GridRow < out[j].GridRow
		}
		return out[i].GridCol < out[j].GridCol
	})
	return out
}

func (m *MemoryRepository) FindByID(_ context.Context, id, tenantID string) (*models.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.live(id, tenantID)
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryRepository) FindByLayoutID(_ context.Context, layoutID, tenantID string) ([]*models.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Region
	for _, r := range m.regions {
		if r.LayoutID == layoutID && r.TenantID == tenantID && r.DeletedAt == nil {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (m *MemoryRepository) FindOverlapping(_ context.Context, layoutID, tenantID string, rect models.Rect, excludeID string) ([]*models.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlapping(layoutID, tenantID, rect, excludeID), nil
}

func (m *MemoryRepository) Create(_ context.Context, region *models.Region) (*models.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := region.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := m.regions[r.ID]; exists {
		return nil, common.Conflict(common.CodeInvalidRequest, "region id already exists")
	}
	if len(m.overlapping(r.LayoutID, r.TenantID, r.Rect(), "")) > 0 {
		return nil, common.ErrOverlap
	}
	if r.Config == nil {
		r.Config = map[string]any{}
	}
	now := m.now()
	r.Version = 1
	r.CreatedAt, r.UpdatedAt, r.DeletedAt = now, now, nil
	m.regions[r.ID] = r
	return r.Clone(), nil
}

func (m *MemoryRepository) Update(_ context.Context, id, tenantID string, patch models.RegionPatch, expectedVersion int64) (*models.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.live(id, tenantID)
	if !ok || current.Version != expectedVersion {
		return nil, common.ErrVersionConflict
	}
	next := patch.Apply(current)
	if len(m.overlapping(next.LayoutID, next.TenantID, next.Rect(), id)) > 0 {
		return nil, common.ErrOverlap
	}
	next.Version = current.Version + 1
	next.UpdatedAt = m.now()
	m.regions[id] = next
	return next.Clone(), nil
}

func (m *MemoryRepository) SetDisplayOrder(_ context.Context, id, tenantID string, order int) (*models.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.live(id, tenantID)
	if !ok {
		return nil, common.ErrorNotFound
	}
	r.DisplayOrder = order
	r.Version++
	r.UpdatedAt = m.now()
	return r.Clone(), nil
}

func (m *MemoryRepository) Delete(_ context.Context, id, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.live(id, tenantID)
	if !ok {
		return common.ErrorNotFound
	}
	now := m.now()
	r.DeletedAt = &now
	r.UpdatedAt = now
	return nil
}

func (m *MemoryRepository) Restore(_ context.Context, region *models.Region) (*models.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.regions[region.ID]
	if !ok || stored.TenantID != region.TenantID || stored.DeletedAt == nil {
		return nil, common.ErrorNotFound
	}
	next := models.PatchFrom(region).Apply(stored)
	if len(m.overlapping(next.LayoutID, next.TenantID, next.Rect(), next.ID)) > 0 {
		return nil, common.ErrOverlap
	}
	next.DeletedAt = nil
	next.UpdatedAt = m.now()
	m.regions[next.ID] = next
	return next.Clone(), nil
}

func (m *MemoryRepository) Count(_ context.Context, layoutID, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.regions {
		if r.LayoutID == layoutID && r.TenantID == tenantID && r.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

// LockLayout is a no-op; every write already holds the repository mutex.
func (m *MemoryRepository) LockLayout(context.Context, string, string) error {
	return nil
}
