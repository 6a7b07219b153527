package permissions

import (
	"context"
	"fmt"
	"strings"

	"github.com/cseek11/VeroSuite-sub002/internal/dbx"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListForPrincipal(ctx context.Context, tenantID, regionID, userID string, roles []string) ([]*models.RegionPermission, error) {
	args := []any{tenantID, regionID, userID}
	cond := `(principal_type = 'user' AND principal_id = $3)`
	if len(roles) > 0 {
		ph := make([]string, len(roles))
		for i, role := range roles {
			args = append(args, role)
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		cond += ` OR (principal_type = 'role' AND principal_id IN (` + strings.Join(ph, ", ") + `))`
	}
	query := `SELECT region_id, tenant_id, principal_type, principal_id, can_read, can_edit, can_share
		FROM region_permissions
		WHERE tenant_id = $1 AND region_id = $2 AND (` + cond + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select permissions: %w", err)
	}
	defer rows.Close()

	var result []*models.RegionPermission
	for rows.Next() {
		var (
			p  models.RegionPermission
			pt string
		)
		if err := rows.Scan(&p.RegionID, &p.TenantID, &pt, &p.PrincipalID,
			&p.Permissions.Read, &p.Permissions.Edit, &p.Permissions.Share); err != nil {
			return nil, err
		}
		p.PrincipalType = models.PrincipalType(pt)
		result = append(result, &p)
	}
	return result, rows.Err()
}

func (r *PostgresRepository) Upsert(ctx context.Context, p *models.RegionPermission) error {
	query := `INSERT INTO region_permissions
			(region_id, tenant_id, principal_type, principal_id, can_read, can_edit, can_share)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (region_id, principal_type, principal_id)
		DO UPDATE SET can_read = EXCLUDED.can_read, can_edit = EXCLUDED.can_edit, can_share = EXCLUDED.can_share`

	_, err := r.db.ExecContext(ctx, query, p.RegionID, p.TenantID, string(p.PrincipalType), p.PrincipalID,
		p.Permissions.Read, p.Permissions.Edit, p.Permissions.Share)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
