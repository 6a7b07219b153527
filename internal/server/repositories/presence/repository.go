// Package presence persists per-session region presence rows.
package presence

import (
	"context"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

// Repository stores presence rows keyed by (regionId, userId, sessionId).
// Reads take a since bound; rows last seen before it are treated as absent.
type Repository interface {
	Upsert(ctx context.Context, p *models.Presence) error
	Delete(ctx context.Context, tenantID, regionID, userID, sessionID string) error
	// DeleteSession drops every row of a session and returns the affected region ids.
	DeleteSession(ctx context.Context, tenantID, userID, sessionID string) ([]string, error)
	ListActive(ctx context.Context, tenantID, regionID string, since time.Time) ([]*models.Presence, error)
	// FindEditor returns a live editing row of a user other than excludeUserID,
	// or common.ErrorNotFound.
	FindEditor(ctx context.Context, tenantID, regionID, excludeUserID string, since time.Time) (*models.Presence, error)
	// Touch refreshes lastSeen on every row of a session.
	Touch(ctx context.Context, tenantID, userID, sessionID string, at time.Time) (int64, error)
	// DeleteStale removes rows last seen before the bound. An empty regionID
	// sweeps every region.
	DeleteStale(ctx context.Context, regionID string, before time.Time) (int64, error)
}
