// Package events stores the append-only domain event log.
package events

import (
	"context"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

// Filter selects events of one tenant. Zero-valued fields are ignored.
type Filter struct {
	TenantID   string
	EntityType string
	EntityID   string
	LayoutID   string
	Types      []models.EventType
	From       time.Time
	To         time.Time
	// UpToVersion keeps events whose EntityVersion is at most this value.
	UpToVersion int64
	Limit       int
	// Ascending returns oldest first; the default is newest first.
	Ascending bool
}

// Repository appends and lists events. Ties on timestamp are broken by
// insertion order.
type Repository interface {
	Append(ctx context.Context, e *models.Event) error
	GetByID(ctx context.Context, id, tenantID string) (*models.Event, error)
	List(ctx context.Context, f Filter) ([]*models.Event, error)
}
