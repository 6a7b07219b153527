package presence

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

func (r *PostgresRepository) Upsert(ctx context.Context, p *models.Presence) error {
	query := `INSERT INTO region_presence (region_id, user_id, session_id, tenant_id, is_editing, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (region_id, user_id, session_id)
		DO UPDATE SET is_editing = EXCLUDED.is_editing, last_seen = EXCLUDED.last_seen`

	_, err := r.db.ExecContext(ctx, query, p.RegionID, p.UserID, p.SessionID, p.TenantID, p.IsEditing, p.LastSeen)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tenantID, regionID, userID, sessionID string) error {
	query := `DELETE FROM region_presence
		WHERE tenant_id = $1 AND region_id = $2 AND user_id = $3 AND session_id = $4`
	if _, err := r.db.ExecContext(ctx, query, tenantID, regionID, userID, sessionID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteSession(ctx context.Context, tenantID, userID, sessionID string) ([]string, error) {
	query := `DELETE FROM region_presence
		WHERE tenant_id = $1 AND user_id = $2 AND session_id = $3
		RETURNING region_id`

	rows, err := r.db.QueryContext(ctx, query, tenantID, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var regionIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		regionIDs = append(regionIDs, id)
	}
	return regionIDs, rows.Err()
}

const presenceColumns = `region_id, user_id, session_id, tenant_id, is_editing, last_seen`

func scanPresence(row interface{ Scan(...any) error }) (*models.Presence, error) {
	var p models.Presence
	if err := row.Scan(&p.RegionID, &p.UserID, &p.SessionID, &p.TenantID, &p.IsEditing, &p.LastSeen); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, tenantID, regionID string, since time.Time) ([]*models.Presence, error) {
	query := `SELECT ` + presenceColumns + ` FROM region_presence
		WHERE tenant_id = $1 AND region_id = $2 AND last_seen >= $3
		ORDER BY last_seen DESC`

	rows, err := r.db.QueryContext(ctx, query, tenantID, regionID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to select presence: %w", err)
	}
	defer rows.Close()

	var result []*models.Presence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *PostgresRepository) FindEditor(ctx context.Context, tenantID, regionID, excludeUserID string, since time.Time) (*models.Presence, error) {
	query := `SELECT ` + presenceColumns + ` FROM region_presence
		WHERE tenant_id = $1 AND region_id = $2 AND user_id <> $3
		  AND is_editing AND last_seen >= $4
		ORDER BY last_seen DESC
		LIMIT 1`

	p, err := scanPresence(r.db.QueryRowContext(ctx, query, tenantID, regionID, excludeUserID, since))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Touch(ctx context.Context, tenantID, userID, sessionID string, at time.Time) (int64, error) {
	query := `UPDATE region_presence SET last_seen = $4
		WHERE tenant_id = $1 AND user_id = $2 AND session_id = $3`

	res, err := r.db.ExecContext(ctx, query, tenantID, userID, sessionID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) DeleteStale(ctx context.Context, regionID string, before time.Time) (int64, error) {
	query := `DELETE FROM region_presence WHERE last_seen < $1 AND ($2 = '' OR region_id = $2)`

	res, err := r.db.ExecContext(ctx, query, before, regionID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
