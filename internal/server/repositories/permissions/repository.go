// Package permissions stores region access-control entries.
package permissions

import (
	"context"

	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

type Repository interface {
	// ListForPrincipal returns the entries of a region that apply to the user
	// directly or through one of roles.
	ListForPrincipal(ctx context.Context, tenantID, regionID, userID string, roles []string) ([]*models.RegionPermission, error)
	Upsert(ctx context.Context, p *models.RegionPermission) error
}
