package layouts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/dbx"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/google/uuid"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindByID(ctx context.Context, id, tenantID string) (*models.Layout, error) {
	query := `SELECT id, tenant_id, user_id, name, is_shared, created_at FROM layouts WHERE id = $1 AND tenant_id = $2`

	var l models.Layout
	err := r.db.QueryRowContext(ctx, query, id, tenantID).Scan(&l.ID, &l.TenantID, &l.UserID, &l.Name, &l.IsShared, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &l, nil
}

func (r *PostgresRepository) Create(ctx context.Context, l *models.Layout) (*models.Layout, error) {
	query := `INSERT INTO layouts (id, tenant_id, user_id, name, is_shared) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`

	out := *l
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	err := r.db.QueryRowContext(ctx, query, out.ID, out.TenantID, out.UserID, out.Name, out.IsShared).Scan(&out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &out, nil
}
