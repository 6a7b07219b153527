package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/dbx"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/google/uuid"
)

const eventColumns = `id, event_type, entity_type, entity_id, COALESCE(layout_id, ''), tenant_id, user_id,
	entity_version, payload, metadata, timestamp, version`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts e, filling in ID, Timestamp and Version when unset.
func (r *PostgresRepository) Append(ctx context.Context, e *models.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Version == 0 {
		e.Version = models.EventSchemaVersion
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if e.Metadata == nil {
		meta = []byte(`{}`)
	}
	payload := []byte(e.Payload)
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	var layoutID any
	if e.LayoutID != "" {
		layoutID = e.LayoutID
	}

	query := `INSERT INTO events (id, event_type, entity_type, entity_id, layout_id, tenant_id, user_id,
			entity_version, payload, metadata, timestamp, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, COALESCE($11, now()), $12)
		RETURNING timestamp`

	var ts any
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp
	}
	err = r.db.QueryRowContext(ctx, query, e.ID, string(e.EventType), e.EntityType, e.EntityID, layoutID,
		e.TenantID, e.UserID, e.EntityVersion, payload, meta, ts, e.Version).Scan(&e.Timestamp)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func scanEvent(row interface{ Scan(...any) error }) (*models.Event, error) {
	var (
		e         models.Event
		eventType string
		payload   []byte
		meta      []byte
	)
	if err := row.Scan(&e.ID, &eventType, &e.EntityType, &e.EntityID, &e.LayoutID, &e.TenantID, &e.UserID,
		&e.EntityVersion, &payload, &meta, &e.Timestamp, &e.Version); err != nil {
		return nil, err
	}
	e.EventType = models.EventType(eventType)
	e.Payload = json.RawMessage(payload)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &e, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id, tenantID string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1 AND tenant_id = $2`
	e, err := scanEvent(r.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

// buildListQuery renders f as a parameterized SELECT.
func buildListQuery(f Filter) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString(`SELECT ` + eventColumns + ` FROM events WHERE tenant_id = ` + arg(f.TenantID))
	if f.EntityType != "" {
		sb.WriteString(` AND entity_type = ` + arg(f.EntityType))
	}
	if f.EntityID != "" {
		sb.WriteString(` AND entity_id = ` + arg(f.EntityID))
	}
	if f.LayoutID != "" {
		sb.WriteString(` AND layout_id = ` + arg(f.LayoutID))
	}
	if len(f.Types) > 0 {
		ph := make([]string, len(f.Types))
		for i, t := range f.Types {
			ph[i] = arg(string(t))
		}
		sb.WriteString(` AND event_type IN (` + strings.Join(ph, ", ") + `)`)
	}
	if !f.From.IsZero() {
		sb.WriteString(` AND timestamp >= ` + arg(f.From))
	}
	if !f.To.IsZero() {
		sb.WriteString(` AND timestamp <= ` + arg(f.To))
	}
	if f.UpToVersion > 0 {
		sb.WriteString(` AND entity_version <= ` + arg(f.UpToVersion))
	}
	if f.Ascending {
		sb.WriteString(` ORDER BY timestamp ASC, seq ASC`)
	} else {
		sb.WriteString(` ORDER BY timestamp DESC, seq DESC`)
	}
	if f.Limit > 0 {
		sb.WriteString(` LIMIT ` + arg(f.Limit))
	}
	return sb.String(), args
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*models.Event, error) {
	query, args := buildListQuery(f)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select events: %w", err)
	}
	defer rows.Close()

	var result []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
