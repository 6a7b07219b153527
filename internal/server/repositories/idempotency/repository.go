// Package idempotency persists recorded responses of mutating requests.
package idempotency

import (
	"context"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

type Repository interface {
	// Get returns the unexpired record for (key, userID, tenantID), pending
	// or completed, or common.ErrorNotFound.
	Get(ctx context.Context, key, userID, tenantID string, now time.Time) (*models.IdempotencyRecord, error)
	// Reserve stores rec as a pending reservation. It succeeds when no row
	// exists for the key, the existing row has expired or it is a pending
	// reservation created at or before staleBefore.
	Reserve(ctx context.Context, rec *models.IdempotencyRecord, staleBefore time.Time) (reserved bool, err error)
	// Insert stores rec as completed, filling a pending reservation if there
	// is one. The first completed record wins; inserted reports whether rec
	// was stored.
	Insert(ctx context.Context, rec *models.IdempotencyRecord) (inserted bool, err error)
	// Release drops a pending reservation. Completed records are kept.
	Release(ctx context.Context, key, userID, tenantID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
