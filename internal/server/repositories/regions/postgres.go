// Package regions provides the Region Store: PostgreSQL and in-memory
// repositories for dashboard regions with version-checked updates.
package regions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/dbx"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/google/uuid"
)

const regionColumns = `id, layout_id, tenant_id, user_id, region_type, grid_row, grid_col, row_span, col_span,
	is_collapsed, is_locked, is_hidden_mobile, config, widget_type, display_order, version,
	created_at, updated_at, deleted_at`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegion(row rowScanner) (*models.Region, error) {
	var (
		r         models.Region
		regionTyp string
		config    []byte
		widget    sql.NullString
		deletedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.LayoutID, &r.TenantID, &r.UserID, &regionTyp, &r.GridRow, &r.GridCol,
		&r.RowSpan, &r.ColSpan, &r.IsCollapsed, &r.IsLocked, &r.IsHiddenMobile, &config, &widget,
		&r.DisplayOrder, &r.Version, &r.CreatedAt, &r.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	r.RegionType = models.RegionType(regionTyp)
	if len(config) > 0 {
		if err := json.Unmarshal(config, &r.Config); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if widget.Valid {
		r.WidgetType = &widget.String
	}
	if deletedAt.Valid {
		r.DeletedAt = &deletedAt.Time
	}
	return &r, nil
}

func (r *PostgresRepository) queryRegions(ctx context.Context, query string, args ...any) ([]*models.Region, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select regions: %w", err)
	}
	defer rows.Close()

	var result []*models.Region
	for rows.Next() {
		region, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, region)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id, tenantID string) (*models.Region, error) {
	query := `SELECT ` + regionColumns + ` FROM regions
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`

	region, err := scanRegion(r.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return region, nil
}

func (r *PostgresRepository) FindByLayoutID(ctx context.Context, layoutID, tenantID string) ([]*models.Region, error) {
	query := `SELECT ` + regionColumns + ` FROM regions
		WHERE layout_id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		ORDER BY display_order, created_at, id`
	return r.queryRegions(ctx, query, layoutID, tenantID)
}

// FindOverlapping casts the rectangle parameters: an untyped "$a + $b" has no
// unique operator.
func (r *PostgresRepository) FindOverlapping(ctx context.Context, layoutID, tenantID string, rect models.Rect, excludeID string) ([]*models.Region, error) {
	query := `SELECT ` + regionColumns + ` FROM regions
		WHERE layout_id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		  AND ($7 = '' OR id <> $7)
		  AND grid_row < $3::int + $5::int AND $3 < grid_row + row_span
		  AND grid_col < $4::int + $6::int AND $4 < grid_col + col_span
		ORDER BY grid_row, grid_col`
	return r.queryRegions(ctx, query, layoutID, tenantID, rect.Row, rect.Col, rect.RowSpan, rect.ColSpan, excludeID)
}

func encodeConfig(cfg map[string]any) ([]byte, error) {
	if cfg == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(cfg)
}

func (r *PostgresRepository) Create(ctx context.Context, region *models.Region) (*models.Region, error) {
	query := `INSERT INTO regions (id, layout_id, tenant_id, user_id, region_type, grid_row, grid_col, row_span, col_span,
			is_collapsed, is_locked, is_hidden_mobile, config, widget_type, display_order, version, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14, $15, 1, $16, $16
		WHERE NOT EXISTS (
			SELECT 1 FROM regions o
			WHERE o.layout_id = $2 AND o.tenant_id = $3 AND o.deleted_at IS NULL
			  AND o.grid_row < $6::int + $8::int AND $6 < o.grid_row + o.row_span
			  AND o.grid_col < $7::int + $9::int AND $7 < o.grid_col + o.col_span)
		RETURNING ` + regionColumns

	id := region.ID
	if id == "" {
		id = uuid.NewString()
	}
	config, err := encodeConfig(region.Config)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	created, err := scanRegion(r.db.QueryRowContext(ctx, query,
		id, region.LayoutID, region.TenantID, region.UserID, string(region.RegionType),
		region.GridRow, region.GridCol, region.RowSpan, region.ColSpan,
		region.IsCollapsed, region.IsLocked, region.IsHiddenMobile, config, region.WidgetType,
		region.DisplayOrder, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrOverlap
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) Update(ctx context.Context, id, tenantID string, patch models.RegionPatch, expectedVersion int64) (*models.Region, error) {
	query := `UPDATE regions SET
			region_type = COALESCE($4, region_type),
			grid_row = COALESCE($5, grid_row),
			grid_col = COALESCE($6, grid_col),
			row_span = COALESCE($7, row_span),
			col_span = COALESCE($8, col_span),
			is_collapsed = COALESCE($9, is_collapsed),
			is_locked = COALESCE($10, is_locked),
			is_hidden_mobile = COALESCE($11, is_hidden_mobile),
			config = COALESCE($12::jsonb, config),
			widget_type = CASE WHEN $13 THEN NULL ELSE COALESCE($14, widget_type) END,
			display_order = COALESCE($15, display_order),
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND version = $3 AND deleted_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM regions o
			WHERE o.layout_id = regions.layout_id AND o.tenant_id = regions.tenant_id
			  AND o.deleted_at IS NULL AND o.id <> regions.id
			  AND o.grid_row < COALESCE($5, regions.grid_row) + COALESCE($7, regions.row_span)
			  AND COALESCE($5, regions.grid_row) < o.grid_row + o.row_span
			  AND o.grid_col < COALESCE($6, regions.grid_col) + COALESCE($8, regions.col_span)
			  AND COALESCE($6, regions.grid_col) < o.grid_col + o.col_span)
		RETURNING ` + regionColumns

	var regionType, config any
	if patch.RegionType != nil {
		regionType = string(*patch.RegionType)
	}
	if patch.Config != nil {
		b, err := json.Marshal(patch.Config)
		if err != nil {
			return nil, fmt.Errorf("encode config: %w", err)
		}
		config = b
	}

	updated, err := scanRegion(r.db.QueryRowContext(ctx, query,
		id, tenantID, expectedVersion, regionType,
		patch.GridRow, patch.GridCol, patch.RowSpan, patch.ColSpan,
		patch.IsCollapsed, patch.IsLocked, patch.IsHiddenMobile, config,
		patch.ClearWidgetType, patch.WidgetType, patch.DisplayOrder))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}

	// Nothing matched: the guard rejected a correctly versioned row only when
	// the new rectangle overlaps; anything else is a version conflict.
	var current int64
	err = r.db.QueryRowContext(ctx,
		`SELECT version FROM regions WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID).Scan(&current)
	if err == nil && current == expectedVersion {
		return nil, common.ErrOverlap
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return nil, common.ErrVersionConflict
}

func (r *PostgresRepository) SetDisplayOrder(ctx context.Context, id, tenantID string, order int) (*models.Region, error) {
	query := `UPDATE regions SET display_order = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		RETURNING ` + regionColumns

	region, err := scanRegion(r.db.QueryRowContext(ctx, query, id, tenantID, order))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return region, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id, tenantID string) error {
	query := `UPDATE regions SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Restore(ctx context.Context, region *models.Region) (*models.Region, error) {
	query := `UPDATE regions SET
			region_type = $3, grid_row = $4, grid_col = $5, row_span = $6, col_span = $7,
			is_collapsed = $8, is_locked = $9, is_hidden_mobile = $10, config = $11::jsonb,
			widget_type = $12, display_order = $13, deleted_at = NULL, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM regions o
			WHERE o.layout_id = regions.layout_id AND o.tenant_id = regions.tenant_id
			  AND o.deleted_at IS NULL AND o.id <> regions.id
			  AND o.grid_row < $4::int + $6::int AND $4 < o.grid_row + o.row_span
			  AND o.grid_col < $5::int + $7::int AND $5 < o.grid_col + o.col_span)
		RETURNING ` + regionColumns

	config, err := encodeConfig(region.Config)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	restored, err := scanRegion(r.db.QueryRowContext(ctx, query,
		region.ID, region.TenantID, string(region.RegionType),
		region.GridRow, region.GridCol, region.RowSpan, region.ColSpan,
		region.IsCollapsed, region.IsLocked, region.IsHiddenMobile, config, region.WidgetType,
		region.DisplayOrder))
	if err == nil {
		return restored, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}

	var deleted bool
	err = r.db.QueryRowContext(ctx,
		`SELECT deleted_at IS NOT NULL FROM regions WHERE id = $1 AND tenant_id = $2`,
		region.ID, region.TenantID).Scan(&deleted)
	if err == nil && deleted {
		return nil, common.ErrOverlap
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return nil, common.ErrorNotFound
}

func (r *PostgresRepository) Count(ctx context.Context, layoutID, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM regions WHERE layout_id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		layoutID, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// LockLayout takes a transaction-scoped advisory lock. Outside a transaction
// the lock is released as soon as the statement finishes.
func (r *PostgresRepository) LockLayout(ctx context.Context, layoutID, tenantID string) error {
	_, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1 || ':' || $2, 0))`, tenantID, layoutID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
