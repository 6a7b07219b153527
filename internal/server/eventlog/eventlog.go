// Package eventlog is the append-only audit trail of region and layout
// mutations. Appends are best-effort; reads back undo, redo and export.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/logging"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/events"
)

// DefaultLimit caps history queries without an explicit limit.
const DefaultLimit = 50

type Log struct {
	repo events.Repository
	log  logging.Logger
}

func New(repo events.Repository, log logging.Logger) *Log {
	if log == nil {
		log = logging.Nop{}
	}
	return &Log{repo: repo, log: log.With("module", "eventlog")}
}

// Append writes e and swallows failures. It reports whether the row was
// written.
func (l *Log) Append(ctx context.Context, e *models.Event) bool {
	if err := l.repo.Append(ctx, e); err != nil {
		l.log.Error(ctx, "event append failed",
			"event_type", e.EventType, "entity_id", e.EntityID, "tenant_id", e.TenantID, "error", err)
		return false
	}
	return true
}

// Record writes e and returns the failure, for callers whose correctness
// depends on the row existing.
func (l *Log) Record(ctx context.Context, e *models.Event) error {
	return l.repo.Append(ctx, e)
}

// NewEvent builds an event with payload encoded as JSON.
func NewEvent(t models.EventType, entityType, entityID string, p models.Principal, layoutID string, entityVersion int64, payload any, meta map[string]string) (*models.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &models.Event{
		EventType:     t,
		EntityType:    entityType,
		EntityID:      entityID,
		LayoutID:      layoutID,
		TenantID:      p.TenantID,
		UserID:        p.UserID,
		EntityVersion: entityVersion,
		Payload:       raw,
		Metadata:      meta,
		Version:       models.EventSchemaVersion,
	}, nil
}

func limitOr(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

// EntityEvents returns an entity's events newest first.
func (l *Log) EntityEvents(ctx context.Context, entityType, entityID, tenantID string, limit int) ([]*models.Event, error) {
	return l.repo.List(ctx, events.Filter{
		TenantID: tenantID, EntityType: entityType, EntityID: entityID, Limit: limitOr(limit),
	})
}

// Replay returns an entity's events oldest first. upToVersion of zero means
// all of them.
func (l *Log) Replay(ctx context.Context, entityType, entityID, tenantID string, upToVersion int64) ([]*models.Event, error) {
	return l.repo.List(ctx, events.Filter{
		TenantID: tenantID, EntityType: entityType, EntityID: entityID, UpToVersion: upToVersion, Ascending: true,
	})
}

// LayoutEvents returns a layout's events newest first, optionally restricted
// to types.
func (l *Log) LayoutEvents(ctx context.Context, layoutID, tenantID string, types []models.EventType, limit int) ([]*models.Event, error) {
	return l.repo.List(ctx, events.Filter{
		TenantID: tenantID, LayoutID: layoutID, Types: types, Limit: limit,
	})
}

// TenantEvents returns a tenant's events in [start, end], oldest first.
func (l *Log) TenantEvents(ctx context.Context, tenantID string, start, end time.Time, types []models.EventType, limit int) ([]*models.Event, error) {
	return l.repo.List(ctx, events.Filter{
		TenantID: tenantID, From: start, To: end, Types: types, Limit: limit, Ascending: true,
	})
}

func (l *Log) GetByID(ctx context.Context, id, tenantID string) (*models.Event, error) {
	return l.repo.GetByID(ctx, id, tenantID)
}

// RegionState folds a region's replayed events into the state it had at
// upToVersion. It returns nil when the region did not exist (or was deleted)
// at that point.
func (l *Log) RegionState(ctx context.Context, regionID, tenantID string, upToVersion int64) (*models.Region, error) {
	evs, err := l.Replay(ctx, models.EntityRegion, regionID, tenantID, upToVersion)
	if err != nil {
		return nil, err
	}
	var state *models.Region
	for _, e := range evs {
		var p models.RegionEventPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", e.ID, err)
		}
		switch {
		case e.EventType == models.EventRegionDeleted:
			state = nil
		case p.Region != nil:
			state = p.Region
		}
	}
	return state, nil
}
