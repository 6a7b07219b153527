// Package services contains server-side business logic. This file implements
// RegionService, which composes validation, the region store, cache
// invalidation, the event log and metrics for every region mutation.
package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/dbx"
	"github.com/cseek11/VeroSuite-sub002/internal/logging"
	"github.com/cseek11/VeroSuite-sub002/internal/server/cache"
	"github.com/cseek11/VeroSuite-sub002/internal/server/eventlog"
	"github.com/cseek11/VeroSuite-sub002/internal/server/metrics"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/regions"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/repomanager"
	"github.com/cseek11/VeroSuite-sub002/internal/server/validator"
)

// Operation names used for metrics.
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpReorder = "reorder"
	OpUndo    = "undo"
	OpRedo    = "redo"
)

// Cache key prefixes.
const (
	regionKeyPrefix  = "region"
	regionsKeyPrefix = "regions"
)

// CreateRegionInput describes a new region. Omitted grid fields default to
// 0/0/1/1; an omitted display order appends the region to the layout.
type CreateRegionInput struct {
	LayoutID       string            `json:"layoutId"`
	RegionType     models.RegionType `json:"regionType"`
	GridRow        *int              `json:"gridRow,omitempty"`
	GridCol        *int              `json:"gridCol,omitempty"`
	RowSpan        *int              `json:"rowSpan,omitempty"`
	ColSpan        *int              `json:"colSpan,omitempty"`
	IsCollapsed    bool              `json:"isCollapsed,omitempty"`
	IsLocked       bool              `json:"isLocked,omitempty"`
	IsHiddenMobile bool              `json:"isHiddenMobile,omitempty"`
	Config         map[string]any    `json:"config,omitempty"`
	WidgetType     *string           `json:"widgetType,omitempty"`
	DisplayOrder   *int              `json:"displayOrder,omitempty"`
}

// UpdateRegionInput is a patch plus the version the caller last read.
type UpdateRegionInput struct {
	models.RegionPatch
	Version *int64 `json:"version,omitempty"`
}

// RegionService is the mutation orchestrator for dashboard regions.
type RegionService struct {
	repomanager repomanager.RepositoryManager
	events      *eventlog.Log
	cache       *cache.Cache
	metrics     *metrics.Recorder
	log         logging.Logger
	cacheTTL    time.Duration
}

// RegionServiceOptions carries the optional collaborators of a RegionService.
type RegionServiceOptions struct {
	Cache    *cache.Cache
	Metrics  *metrics.Recorder
	Logger   logging.Logger
	CacheTTL time.Duration
}

// NewRegionService wires a RegionService. A nil cache gets a private
// in-process one.
func NewRegionService(m repomanager.RepositoryManager, opts RegionServiceOptions) *RegionService {
	log := opts.Logger
	if log == nil {
		log = logging.Nop{}
	}
	c := opts.Cache
	if c == nil {
		c = cache.New(nil, nil, cache.Options{TTL: opts.CacheTTL}, log)
	}
	return &RegionService{
		repomanager: m,
		events:      eventlog.New(m.Events(m.Conn()), log),
		cache:       c,
		metrics:     opts.Metrics,
		log:         log.With("module", "region_service"),
		cacheTTL:    opts.CacheTTL,
	}
}

// Events exposes the service's event log.
func (s *RegionService) Events() *eventlog.Log { return s.events }

func regionKey(tenantID, regionID string) string {
	return cache.Key(regionKeyPrefix, tenantID+":"+regionID)
}

func regionsKey(tenantID, layoutID string) string {
	return cache.Key(regionsKeyPrefix, tenantID+":"+layoutID)
}

// invalidate drops the layout's list entry and the given regions' entries.
func (s *RegionService) invalidate(ctx context.Context, tenantID, layoutID string, regionIDs ...string) {
	s.cache.InvalidatePattern(ctx, regionsKey(tenantID, layoutID)+"*")
	if len(regionIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(regionIDs))
	for _, id := range regionIDs {
		keys = append(keys, regionKey(tenantID, id))
	}
	s.cache.Delete(ctx, keys...)
}

func (s *RegionService) appendEvent(ctx context.Context, t models.EventType, entityType, entityID string, p models.Principal, layoutID string, version int64, payload any) {
	e, err := eventlog.NewEvent(t, entityType, entityID, p, layoutID, version, payload, EventMetadata(ctx))
	if err != nil {
		s.log.Error(ctx, "build event", "event_type", t, "error", err)
		return
	}
	s.events.Append(ctx, e)
}

func (s *RegionService) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.RecordMutation(ctx, op, time.Since(start), err)
	if err != nil {
		s.log.Debug(ctx, "region mutation failed", "operation", op, "code", common.CodeOf(err), "error", err)
	}
}

// authorizeLayout loads the layout and checks the caller may use it: owner,
// shared layout or tenant admin.
func (s *RegionService) authorizeLayout(ctx context.Context, p models.Principal, layoutID string) (*models.Layout, error) {
	if layoutID == "" {
		return nil, common.BadRequest(common.CodeInvalidRequest, "layoutId is required")
	}
	l, err := s.repomanager.Layouts(s.repomanager.Conn()).FindByID(ctx, layoutID, p.TenantID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NotFound("layout")
		}
		return nil, err
	}
	if l.UserID != p.UserID && !l.IsShared && !p.HasRole(models.RoleAdmin) {
		return nil, common.Forbidden("no access to layout")
	}
	return l, nil
}

func (s *RegionService) findRegion(ctx context.Context, repo regions.Repository, id, tenantID string) (*models.Region, error) {
	r, err := repo.FindByID(ctx, id, tenantID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NotFound("region")
		}
		return nil, err
	}
	return r, nil
}

// overlapConflict turns a store-level overlap into the caller-facing error,
// naming the regions in the way when they can be found.
func overlapConflict(ctx context.Context, repo regions.Repository, layoutID, tenantID string, rect models.Rect, excludeID string) error {
	hits, err := repo.FindOverlapping(ctx, layoutID, tenantID, rect, excludeID)
	if err != nil {
		hits = nil
	}
	return validator.OverlapError(hits)
}

// CreateRegion validates and stores a new region at version 1.
func (s *RegionService) CreateRegion(ctx context.Context, p models.Principal, in CreateRegionInput) (out *models.Region, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, OpCreate, start, err) }()

	if in.RegionType == "" {
		in.RegionType = models.RegionTypeCustom
	}
	if !in.RegionType.Valid() {
		return nil, common.BadRequest(common.CodeInvalidRequest, fmt.Sprintf("unknown region type %q", in.RegionType))
	}
	if _, err := s.authorizeLayout(ctx, p, in.LayoutID); err != nil {
		return nil, err
	}

	placement := validator.Placement{GridRow: in.GridRow, GridCol: in.GridCol, RowSpan: in.RowSpan, ColSpan: in.ColSpan}
	err = s.repomanager.Transactor().WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Regions(tx)
		if err := repo.LockLayout(ctx, in.LayoutID, p.TenantID); err != nil {
			return err
		}
		rect, err := validator.New(repo).ValidateCreate(ctx, in.LayoutID, placement, p.TenantID)
		if err != nil {
			return err
		}

		order := 0
		if in.DisplayOrder != nil {
			order = *in.DisplayOrder
		} else if order, err = repo.Count(ctx, in.LayoutID, p.TenantID); err != nil {
			return err
		}

		out, err = repo.Create(ctx, &models.Region{
			LayoutID: in.LayoutID, TenantID: p.TenantID, UserID: p.UserID, RegionType: in.RegionType,
			GridRow: rect.Row, GridCol: rect.Col, RowSpan: rect.RowSpan, ColSpan: rect.ColSpan,
			IsCollapsed: in.IsCollapsed, IsLocked: in.IsLocked, IsHiddenMobile: in.IsHiddenMobile,
			Config: in.Config, WidgetType: in.WidgetType, DisplayOrder: order,
		})
		if errors.Is(err, common.ErrOverlap) {
			return overlapConflict(ctx, repo, in.LayoutID, p.TenantID, rect, "")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, p.TenantID, out.LayoutID, out.ID)
	s.appendEvent(ctx, models.EventRegionCreated, models.EntityRegion, out.ID, p, out.LayoutID, out.Version,
		models.RegionEventPayload{Region: out, NewVersion: out.Version})
	return out, nil
}

// UpdateRegion applies in if in.Version matches the stored version.
func (s *RegionService) UpdateRegion(ctx context.Context, p models.Principal, regionID string, in UpdateRegionInput) (out *models.Region, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, OpUpdate, start, err) }()

	current, err := s.findRegion(ctx, s.repomanager.Regions(s.repomanager.Conn()), regionID, p.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePermission(ctx, p, current, models.ActionEdit); err != nil {
		return nil, err
	}
	if in.Version == nil {
		return nil, common.BadRequest(common.CodeVersionRequired, "version required")
	}
	if *in.Version != current.Version {
		return nil, common.VersionMismatch(current.Version, *in.Version)
	}
	if in.RegionType != nil && !in.RegionType.Valid() {
		return nil, common.BadRequest(common.CodeInvalidRequest, fmt.Sprintf("unknown region type %q", *in.RegionType))
	}

	next := in.RegionPatch.Apply(current)
	err = s.repomanager.Transactor().WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Regions(tx)
		if err := repo.LockLayout(ctx, current.LayoutID, p.TenantID); err != nil {
			return err
		}
		if err := validator.New(repo).ValidateUpdate(ctx, current.LayoutID, regionID, next.Rect(), p.TenantID); err != nil {
			return err
		}
		updated, err := repo.Update(ctx, regionID, p.TenantID, in.RegionPatch, *in.Version)
		out = updated
		switch {
		case errors.Is(err, common.ErrVersionConflict):
			return s.raceConflict(ctx, repo, regionID, p.TenantID, *in.Version)
		case errors.Is(err, common.ErrOverlap):
			return overlapConflict(ctx, repo, current.LayoutID, p.TenantID, next.Rect(), regionID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, p.TenantID, out.LayoutID, out.ID)
	s.appendEvent(ctx, ClassifyUpdate(current, out), models.EntityRegion, out.ID, p, out.LayoutID, out.Version,
		models.RegionEventPayload{Region: out, Previous: current, PreviousVersion: current.Version, NewVersion: out.Version})
	return out, nil
}

// raceConflict reports a version conflict detected by the store after the
// service-level compare passed.
func (s *RegionService) raceConflict(ctx context.Context, repo regions.Repository, regionID, tenantID string, provided int64) error {
	latest, err := repo.FindByID(ctx, regionID, tenantID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.NotFound("region")
		}
		return common.Conflict(common.CodeVersionConflict, "version mismatch", "provided", fmt.Sprint(provided))
	}
	return common.VersionMismatch(latest.Version, provided)
}

// ClassifyUpdate names the event for a change from prev to next: a pure move
// or resize, a pure lock or collapse toggle, or a general update.
func ClassifyUpdate(prev, next *models.Region) models.EventType {
	moved := prev.GridRow != next.GridRow || prev.GridCol != next.GridCol
	resized := prev.RowSpan != next.RowSpan || prev.ColSpan != next.ColSpan
	locked := prev.IsLocked != next.IsLocked
	collapsed := prev.IsCollapsed != next.IsCollapsed
	other := prev.RegionType != next.RegionType ||
		prev.IsHiddenMobile != next.IsHiddenMobile ||
		prev.DisplayOrder != next.DisplayOrder ||
		!reflect.DeepEqual(prev.WidgetType, next.WidgetType) ||
		!reflect.DeepEqual(prev.Config, next.Config)

	changed := 0
	for _, c := range []bool{moved, resized, locked, collapsed, other} {
		if c {
			changed++
		}
	}
	if changed != 1 {
		return models.EventRegionUpdated
	}
	switch {
	case moved:
		return models.EventRegionMoved
	case resized:
		return models.EventRegionResized
	case locked && next.IsLocked:
		return models.EventRegionLocked
	case locked:
		return models.EventRegionUnlocked
	case collapsed && next.IsCollapsed:
		return models.EventRegionCollapsed
	case collapsed:
		return models.EventRegionExpanded
	}
	return models.EventRegionUpdated
}

// DeleteRegion soft-deletes a region, freeing its rectangle.
func (s *RegionService) DeleteRegion(ctx context.Context, p models.Principal, regionID string) (err error) {
	start := time.Now()
	defer func() { s.observe(ctx, OpDelete, start, err) }()

	current, err := s.findRegion(ctx, s.repomanager.Regions(s.repomanager.Conn()), regionID, p.TenantID)
	if err != nil {
		return err
	}
	if err := s.requirePermission(ctx, p, current, models.ActionEdit); err != nil {
		return err
	}

	err = s.repomanager.Transactor().WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		err := s.repomanager.Regions(tx).Delete(ctx, regionID, p.TenantID)
		if errors.Is(err, common.ErrorNotFound) {
			return common.NotFound("region")
		}
		return err
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, p.TenantID, current.LayoutID, current.ID)
	s.appendEvent(ctx, models.EventRegionDeleted, models.EntityRegion, current.ID, p, current.LayoutID, current.Version,
		models.RegionEventPayload{Previous: current, PreviousVersion: current.Version})
	return nil
}

// ReorderRegions assigns displayOrder 0..n-1 following order. order must name
// each region of the layout at most once; regions not named keep their order.
// The caller needs edit permission on every region it moves.
func (s *RegionService) ReorderRegions(ctx context.Context, p models.Principal, layoutID string, order []string) (out []*models.Region, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, OpReorder, start, err) }()

	if _, err := s.authorizeLayout(ctx, p, layoutID); err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, common.BadRequest(common.CodeInvalidRequest, "order is empty")
	}

	previous := make(map[string]int, len(order))
	err = s.repomanager.Transactor().WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Regions(tx)
		if err := repo.LockLayout(ctx, layoutID, p.TenantID); err != nil {
			return err
		}
		live, err := repo.FindByLayoutID(ctx, layoutID, p.TenantID)
		if err != nil {
			return err
		}
		byID := make(map[string]*models.Region, len(live))
		for _, r := range live {
			byID[r.ID] = r
		}
		for _, id := range order {
			r, ok := byID[id]
			if !ok {
				return common.BadRequest(common.CodeInvalidRequest, fmt.Sprintf("region %s is not in layout", id))
			}
			if _, dup := previous[id]; dup {
				return common.BadRequest(common.CodeInvalidRequest, fmt.Sprintf("region %s listed twice", id))
			}
			if err := s.requirePermission(ctx, p, r, models.ActionEdit); err != nil {
				return err
			}
			previous[id] = r.DisplayOrder
		}
		for i, id := range order {
			if _, err := repo.SetDisplayOrder(ctx, id, p.TenantID, i); err != nil {
				return err
			}
		}
		out, err = repo.FindByLayoutID(ctx, layoutID, p.TenantID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, p.TenantID, layoutID, order...)
	s.appendEvent(ctx, models.EventLayoutUpdated, models.EntityLayout, layoutID, p, layoutID, 0,
		models.ReorderPayload{Order: order, Previous: previous})
	return out, nil
}

// GetRegion reads a region through the cache. The caller needs read access.
func (s *RegionService) GetRegion(ctx context.Context, p models.Principal, regionID string) (*models.Region, error) {
	repo := s.repomanager.Regions(s.repomanager.Conn())
	r, found, err := cache.Fetch[*models.Region](ctx, s.cache, regionKey(p.TenantID, regionID), s.cacheTTL,
		func(ctx context.Context) (any, error) {
			r, err := repo.FindByID(ctx, regionID, p.TenantID)
			if errors.Is(err, common.ErrorNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return r, nil
		})
	if err != nil {
		return nil, err
	}
	if !found || r == nil {
		return nil, common.NotFound("region")
	}
	if err := s.requirePermission(ctx, p, r, models.ActionRead); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRegions returns the layout's live regions, served stale-while-revalidate.
func (s *RegionService) ListRegions(ctx context.Context, p models.Principal, layoutID string) ([]*models.Region, error) {
	if _, err := s.authorizeLayout(ctx, p, layoutID); err != nil {
		return nil, err
	}
	repo := s.repomanager.Regions(s.repomanager.Conn())
	list, _, err := cache.FetchSWR[[]*models.Region](ctx, s.cache, regionsKey(p.TenantID, layoutID), s.cacheTTL,
		func(ctx context.Context) (any, error) {
			rs, err := repo.FindByLayoutID(ctx, layoutID, p.TenantID)
			if err != nil {
				return nil, err
			}
			if rs == nil {
				rs = []*models.Region{}
			}
			return rs, nil
		})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// GetLayoutHistory lists the layout's events newest first.
func (s *RegionService) GetLayoutHistory(ctx context.Context, p models.Principal, layoutID string, limit int) ([]*models.Event, error) {
	if _, err := s.authorizeLayout(ctx, p, layoutID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = eventlog.DefaultLimit
	}
	return s.events.LayoutEvents(ctx, layoutID, p.TenantID, nil, limit)
}
