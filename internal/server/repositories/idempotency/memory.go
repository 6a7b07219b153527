package idempotency

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

type recordKey struct {
	key, userID, tenantID string
}

type MemoryRepository struct {
	mu      sync.Mutex
	records map[recordKey]models.IdempotencyRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[recordKey]models.IdempotencyRecord)}
}

func (m *MemoryRepository) Get(_ context.Context, key, userID, tenantID string, now time.Time) (*models.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey{key, userID, tenantID}]
	if !ok || !rec.ExpiresAt.After(now) {
		return nil, common.ErrorNotFound
	}
	rec.ResponseBody = slices.Clone(rec.ResponseBody)
	return &rec, nil
}

// Reserve mirrors the Postgres upsert: expired rows and stale reservations
// are taken over.
func (m *MemoryRepository) Reserve(_ context.Context, rec *models.IdempotencyRecord, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey{rec.Key, rec.UserID, rec.TenantID}
	if existing, ok := m.records[k]; ok && existing.ExpiresAt.After(rec.CreatedAt) {
		if !existing.Pending() || existing.CreatedAt.After(staleBefore) {
			return false, nil
		}
	}
	c := *rec
	c.ResponseBody = nil
	c.StatusCode = 0
	c.CompletedAt = nil
	m.records[k] = c
	return true, nil
}

// Insert lets an expired record be replaced, matching the sweeper having
// already removed it.
func (m *MemoryRepository) Insert(_ context.Context, rec *models.IdempotencyRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey{rec.Key, rec.UserID, rec.TenantID}
	if existing, ok := m.records[k]; ok && !existing.Pending() && existing.ExpiresAt.After(rec.CreatedAt) {
		return false, nil
	}
	c := *rec
	c.ResponseBody = slices.Clone(rec.ResponseBody)
	if c.CompletedAt == nil {
		completed := rec.CreatedAt
		c.CompletedAt = &completed
	}
	m.records[k] = c
	return true, nil
}

func (m *MemoryRepository) Release(_ context.Context, key, userID, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey{key, userID, tenantID}
	if rec, ok := m.records[k]; ok && rec.Pending() {
		delete(m.records, k)
	}
	return nil
}

func (m *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, rec := range m.records {
		if !rec.ExpiresAt.After(now) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

// Len reports how many records are stored.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
