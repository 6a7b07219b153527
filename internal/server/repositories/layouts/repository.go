// Package layouts stores the dashboards regions are placed on.
package layouts

import (
	"context"

	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

type Repository interface {
	FindByID(ctx context.Context, id, tenantID string) (*models.Layout, error)
	Create(ctx context.Context, l *models.Layout) (*models.Layout, error)
}
