package regions

import (
	"context"

	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

// Repository is the Region Store. Every method is tenant scoped; regions of
// another tenant are reported as common.ErrorNotFound.
type Repository interface {
	FindByID(ctx context.Context, id, tenantID string) (*models.Region, error)
	FindByLayoutID(ctx context.Context, layoutID, tenantID string) ([]*models.Region, error)
	// FindOverlapping lists live regions of the layout intersecting rect.
	// excludeID may be empty.
	FindOverlapping(ctx context.Context, layoutID, tenantID string, rect models.Rect, excludeID string) ([]*models.Region, error)
	// Create inserts region at version 1. It returns common.ErrOverlap when a
	// live region of the layout intersects it.
	Create(ctx context.Context, region *models.Region) (*models.Region, error)
	// Update applies patch only if the stored version equals expectedVersion,
	// bumping it by one. Zero matching rows yields common.ErrVersionConflict.
	Update(ctx context.Context, id, tenantID string, patch models.RegionPatch, expectedVersion int64) (*models.Region, error)
	// SetDisplayOrder rewrites display_order unconditionally and bumps version.
	SetDisplayOrder(ctx context.Context, id, tenantID string, order int) (*models.Region, error)
	// Delete soft-deletes a live region.
	Delete(ctx context.Context, id, tenantID string) error
	// Restore brings a soft-deleted region back with region's field values,
	// keeping its version.
	Restore(ctx context.Context, region *models.Region) (*models.Region, error)
	Count(ctx context.Context, layoutID, tenantID string) (int, error)
	// LockLayout serializes writers of one layout until the surrounding
	// transaction ends.
	LockLayout(ctx context.Context, layoutID, tenantID string) error
}
