package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/dbx"
	"github.com/cseek11/VeroSuite-sub002/internal/server/eventlog"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/regions"
	"github.com/cseek11/VeroSuite-sub002/internal/server/validator"
)

// undoHistory is the layout's undo/redo position derived from its events.
type undoHistory struct {
	// mutations are undoable events, newest first.
	mutations []*models.Event
	// undone holds ids of mutations reversed by a snapshot not yet redone.
	undone map[string]bool
	// pending are undo snapshots not yet redone, newest first.
	pending  []*models.Event
	payloads map[string]models.SnapshotPayload
}

func (s *RegionService) loadUndoHistory(ctx context.Context, layoutID, tenantID string) (*undoHistory, error) {
	types := append([]models.EventType{models.EventVersionCreated}, models.UndoableTypes...)
	evs, err := s.events.LayoutEvents(ctx, layoutID, tenantID, types, 0)
	if err != nil {
		return nil, err
	}

	h := &undoHistory{undone: map[string]bool{}, payloads: map[string]models.SnapshotPayload{}}
	redone := map[string]bool{}
	var snapshots []*models.Event
	for _, e := range evs {
		if e.EventType != models.EventVersionCreated {
			h.mutations = append(h.mutations, e)
			continue
		}
		var sp models.SnapshotPayload
		if err := json.Unmarshal(e.Payload, &sp); err != nil {
			s.log.Warn(ctx, "skipping undecodable snapshot", "event_id", e.ID, "error", err)
			continue
		}
		h.payloads[e.ID] = sp
		switch sp.Kind {
		case models.SnapshotRedo:
			redone[sp.SnapshotEventID] = true
		case models.SnapshotUndo:
			snapshots = append(snapshots, e)
		}
	}
	for _, e := range snapshots {
		if redone[e.ID] {
			continue
		}
		h.pending = append(h.pending, e)
		h.undone[h.payloads[e.ID].EventID] = true
	}
	return h, nil
}

// nextUndo is the newest mutation not currently undone.
func (h *undoHistory) nextUndo() *models.Event {
	for _, e := range h.mutations {
		if !h.undone[e.ID] {
			return e
		}
	}
	return nil
}

func decodeRegionPayload(e *models.Event) (models.RegionEventPayload, error) {
	var p models.RegionEventPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("decode event %s: %w", e.ID, err)
	}
	return p, nil
}

func snapshotFailed(err error) error {
	return common.NewError(fmt.Errorf("%w: %v", common.ErrorInternal, err), common.CodeInternal, "could not record undo snapshot")
}

// restoreTo returns the step that writes state back onto a live region,
// after checking it fits.
func (s *RegionService) restoreTo(ctx context.Context, repo regions.Repository, p models.Principal, state *models.Region) (func() error, error) {
	if state == nil {
		return nil, common.NewError(common.ErrorInternal, common.CodeInternal, "event carries no region state")
	}
	cur, err := s.findRegion(ctx, repo, state.ID, p.TenantID)
	if err != nil {
		return nil, err
	}
	if err := validator.New(repo).ValidateUpdate(ctx, cur.LayoutID, cur.ID, state.Rect(), p.TenantID); err != nil {
		return nil, err
	}
	return func() error {
		_, err := repo.Update(ctx, cur.ID, p.TenantID, models.PatchFrom(state), cur.Version)
		switch {
		case errors.Is(err, common.ErrVersionConflict):
			return s.raceConflict(ctx, repo, cur.ID, p.TenantID, cur.Version)
		case errors.Is(err, common.ErrOverlap):
			return overlapConflict(ctx, repo, cur.LayoutID, p.TenantID, state.Rect(), cur.ID)
		}
		return err
	}, nil
}

// recreate returns the step that brings a soft-deleted region back as state.
func (s *RegionService) recreate(ctx context.Context, repo regions.Repository, p models.Principal, state *models.Region) (func() error, error) {
	if state == nil {
		return nil, common.NewError(common.ErrorInternal, common.CodeInternal, "event carries no region state")
	}
	if err := validator.New(repo).ValidateUpdate(ctx, state.LayoutID, state.ID, state.Rect(), p.TenantID); err != nil {
		return nil, err
	}
	return func() error {
		restore := state.Clone()
		restore.TenantID = p.TenantID
		_, err := repo.Restore(ctx, restore)
		switch {
		case errors.Is(err, common.ErrOverlap):
			return overlapConflict(ctx, repo, state.LayoutID, p.TenantID, state.Rect(), state.ID)
		case errors.Is(err, common.ErrorNotFound):
			return common.NotFound("region")
		}
		return err
	}, nil
}

// remove returns the step that soft-deletes a live region.
func (s *RegionService) remove(ctx context.Context, repo regions.Repository, p models.Principal, regionID string) (func() error, error) {
	if _, err := s.findRegion(ctx, repo, regionID, p.TenantID); err != nil {
		return nil, err
	}
	return func() error {
		err := repo.Delete(ctx, regionID, p.TenantID)
		if errors.Is(err, common.ErrorNotFound) {
			return common.NotFound("region")
		}
		return err
	}, nil
}

// applyThenRecord runs apply and then records the undo or redo event, so an
// apply that loses a race leaves no event behind. Without a transaction a
// failed record is compensated by writing the region back by hand.
func (s *RegionService) applyThenRecord(ctx context.Context, tx dbx.DBTX, repo regions.Repository, p models.Principal, regionID string, apply func() error, ev *models.Event) error {
	before, err := repo.FindByID(ctx, regionID, p.TenantID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	if err := apply(); err != nil {
		return err
	}
	if err := eventlog.New(s.repomanager.Events(tx), s.log).Record(ctx, ev); err != nil {
		if _, ok := s.repomanager.Transactor().(dbx.NoTx); ok {
			if rerr := revertRegion(ctx, repo, p.TenantID, regionID, before); rerr != nil {
				s.log.Error(ctx, "could not revert region after failed history write", "region", regionID, "error", rerr)
			}
		}
		return snapshotFailed(err)
	}
	return nil
}

// revertRegion puts regionID back to before, where nil means it was not live.
func revertRegion(ctx context.Context, repo regions.Repository, tenantID, regionID string, before *models.Region) error {
	after, err := repo.FindByID(ctx, regionID, tenantID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	switch {
	case before == nil && after == nil:
		return nil
	case before == nil:
		return repo.Delete(ctx, regionID, tenantID)
	case after == nil:
		_, err = repo.Restore(ctx, before)
		return err
	default:
		_, err = repo.Update(ctx, regionID, tenantID, models.PatchFrom(before), after.Version)
		return err
	}
}

// UndoLayout reverses the layout's newest mutation that is not already
// undone. Alongside the reversal it records a VERSION_CREATED undo snapshot
// holding the region set as it was, which RedoLayout consumes. Undo records no
// mutation event of its own.
func (s *RegionService) UndoLayout(ctx context.Context, p models.Principal, layoutID string) (out []*models.Region, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, OpUndo, start, err) }()

	if _, err := s.authorizeLayout(ctx, p, layoutID); err != nil {
		return nil, err
	}
	h, err := s.loadUndoHistory(ctx, layoutID, p.TenantID)
	if err != nil {
		return nil, err
	}
	target := h.nextUndo()
	if target == nil {
		return nil, common.BadRequest(common.CodeNothingToUndo, "nothing to undo")
	}
	payload, err := decodeRegionPayload(target)
	if err != nil {
		return nil, err
	}

	err = s.repomanager.Transactor().WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Regions(tx)
		if err := repo.LockLayout(ctx, layoutID, p.TenantID); err != nil {
			return err
		}
		current, err := repo.FindByLayoutID(ctx, layoutID, p.TenantID)
		if err != nil {
			return err
		}

		var apply func() error
		switch {
		case target.EventType == models.EventRegionCreated:
			apply, err = s.remove(ctx, repo, p, target.EntityID)
		case target.EventType == models.EventRegionDeleted:
			apply, err = s.recreate(ctx, repo, p, payload.Previous)
		default:
			apply, err = s.restoreTo(ctx, repo, p, payload.Previous)
		}
		if err != nil {
			return err
		}

		snap, err := eventlog.NewEvent(models.EventVersionCreated, models.EntityLayout, layoutID, p, layoutID, 0,
			models.SnapshotPayload{Kind: models.SnapshotUndo, EventID: target.ID, EventType: target.EventType, Regions: current},
			EventMetadata(ctx))
		if err != nil {
			return snapshotFailed(err)
		}
		if err := s.applyThenRecord(ctx, tx, repo, p, target.EntityID, apply, snap); err != nil {
			return err
		}
		out, err = repo.FindByLayoutID(ctx, layoutID, p.TenantID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, p.TenantID, layoutID, target.EntityID)
	return out, nil
}

// RedoLayout re-applies the event named by the newest undo snapshot not yet
// redone, using the region state frozen in that snapshot rather than the
// live log. Mutations made between the undo and the redo to the same region
// are overwritten.
func (s *RegionService) RedoLayout(ctx context.Context, p models.Principal, layoutID string) (out []*models.Region, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, OpRedo, start, err) }()

	if _, err := s.authorizeLayout(ctx, p, layoutID); err != nil {
		return nil, err
	}
	h, err := s.loadUndoHistory(ctx, layoutID, p.TenantID)
	if err != nil {
		return nil, err
	}
	if len(h.pending) == 0 {
		return nil, common.BadRequest(common.CodeNothingToRedo, "nothing to redo")
	}
	snapEvent := h.pending[0]
	snap := h.payloads[snapEvent.ID]

	original, err := s.events.GetByID(ctx, snap.EventID, p.TenantID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NotFound("event")
		}
		return nil, err
	}
	var frozen *models.Region
	for _, r := range snap.Regions {
		if r.ID == original.EntityID {
			frozen = r
			break
		}
	}

	err = s.repomanager.Transactor().WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Regions(tx)
		if err := repo.LockLayout(ctx, layoutID, p.TenantID); err != nil {
			return err
		}

		var (
			apply func() error
			err   error
		)
		switch {
		case original.EventType == models.EventRegionCreated:
			apply, err = s.recreate(ctx, repo, p, frozen)
		case original.EventType == models.EventRegionDeleted:
			apply, err = s.remove(ctx, repo, p, original.EntityID)
		default:
			apply, err = s.restoreTo(ctx, repo, p, frozen)
		}
		if err != nil {
			return err
		}

		marker, err := eventlog.NewEvent(models.EventVersionCreated, models.EntityLayout, layoutID, p, layoutID, 0,
			models.SnapshotPayload{Kind: models.SnapshotRedo, EventID: original.ID, EventType: original.EventType, SnapshotEventID: snapEvent.ID},
			EventMetadata(ctx))
		if err != nil {
			return snapshotFailed(err)
		}
		if err := s.applyThenRecord(ctx, tx, repo, p, original.EntityID, apply, marker); err != nil {
			return err
		}
		out, err = repo.FindByLayoutID(ctx, layoutID, p.TenantID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, p.TenantID, layoutID, original.EntityID)
	return out, nil
}
