package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/dbx"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, key, userID, tenantID string, now time.Time) (*models.IdempotencyRecord, error) {
	query := `SELECT idempotency_key, user_id, tenant_id, method, fingerprint, response_body, status_code, created_at, expires_at, completed_at
		FROM idempotency_keys
		WHERE idempotency_key = $1 AND user_id = $2 AND tenant_id = $3 AND expires_at > $4`

	var (
		rec       models.IdempotencyRecord
		completed sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, key, userID, tenantID, now).Scan(
		&rec.Key, &rec.UserID, &rec.TenantID, &rec.Method, &rec.Fingerprint,
		&rec.ResponseBody, &rec.StatusCode, &rec.CreatedAt, &rec.ExpiresAt, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	return &rec, nil
}

// Reserve claims the key with a pending row. A conflicting row is only taken
// over when it has expired or its reservation went stale.
func (r *PostgresRepository) Reserve(ctx context.Context, rec *models.IdempotencyRecord, staleBefore time.Time) (bool, error) {
	query := `INSERT INTO idempotency_keys
			(idempotency_key, user_id, tenant_id, method, fingerprint, response_body, status_code, created_at, expires_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, ''::bytea, 0, $6, $7, NULL)
		ON CONFLICT (idempotency_key, user_id, tenant_id) DO UPDATE
		SET method = EXCLUDED.method, fingerprint = EXCLUDED.fingerprint, response_body = EXCLUDED.response_body,
			status_code = EXCLUDED.status_code, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at,
			completed_at = NULL
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
			OR (idempotency_keys.completed_at IS NULL AND idempotency_keys.created_at <= $8)`

	res, err := r.db.ExecContext(ctx, query, rec.Key, rec.UserID, rec.TenantID, rec.Method, rec.Fingerprint,
		rec.CreatedAt, rec.ExpiresAt, staleBefore)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return oneRow(res)
}

// Insert completes rec. An existing completed, unexpired row is left alone.
func (r *PostgresRepository) Insert(ctx context.Context, rec *models.IdempotencyRecord) (bool, error) {
	query := `INSERT INTO idempotency_keys
			(idempotency_key, user_id, tenant_id, method, fingerprint, response_body, status_code, created_at, expires_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key, user_id, tenant_id) DO UPDATE
		SET method = EXCLUDED.method, fingerprint = EXCLUDED.fingerprint, response_body = EXCLUDED.response_body,
			status_code = EXCLUDED.status_code, expires_at = EXCLUDED.expires_at, completed_at = EXCLUDED.completed_at
		WHERE idempotency_keys.completed_at IS NULL OR idempotency_keys.expires_at <= EXCLUDED.created_at`

	completed := rec.CreatedAt
	if rec.CompletedAt != nil {
		completed = *rec.CompletedAt
	}
	res, err := r.db.ExecContext(ctx, query, rec.Key, rec.UserID, rec.TenantID, rec.Method, rec.Fingerprint,
		rec.ResponseBody, rec.StatusCode, rec.CreatedAt, rec.ExpiresAt, completed)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return oneRow(res)
}

func (r *PostgresRepository) Release(ctx context.Context, key, userID, tenantID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys
		WHERE idempotency_key = $1 AND user_id = $2 AND tenant_id = $3 AND completed_at IS NULL`, key, userID, tenantID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func oneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
