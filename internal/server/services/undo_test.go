package services

import (
	"context"
	"errors"
	"testing"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/dbx"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/events"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/regions"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/repomanager"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sameState compares regions ignoring the fields every write advances.
var sameState = cmp.Options{
	cmpopts.IgnoreFields(models.Region{}, "UpdatedAt", "Version"),
	cmpopts.EquateEmpty(),
}

func layoutRegions(t *testing.T, m *repomanager.InMemoryRepositoryManager) []*models.Region {
	t.Helper()
	rs, err := m.RegionStore.FindByLayoutID(context.Background(), "l-1", "t-1")
	require.NoError(t, err)
	return rs
}

func mutationCount(t *testing.T, m *repomanager.InMemoryRepositoryManager) int {
	t.Helper()
	evs, err := m.EventStore.List(context.Background(), events.Filter{TenantID: "t-1", Types: models.UndoableTypes})
	require.NoError(t, err)
	return len(evs)
}

func TestUndoRedo_Update(t *testing.T) {
	s, m := newService(t)
	ctx := context.Background()
	r := create(t, s, 0, 0, 1, 1)
	before := layoutRegions(t, m)

	_, err := s.UpdateRegion(ctx, owner, r.ID, UpdateRegionInput{
		RegionPatch: models.RegionPatch{GridRow: intp(3), Config: map[string]any{"k": "v"}}, Version: i64p(1),
	})
	require.NoError(t, err)
	after := layoutRegions(t, m)
	mutations := mutationCount(t, m)

	undone, err := s.UndoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	require.Len(t, undone, 1)
	assert.Empty(t, cmp.Diff(before, undone, sameState))
	assert.Equal(t, int64(3), undone[0].Version, "undo is a new write")

	redone, err := s.RedoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(after, redone, sameState))
	assert.Equal(t, int64(4), redone[0].Version)

	assert.Equal(t, mutations, mutationCount(t, m), "undo and redo append no mutation events")
}

func TestUndoRedo_CreateAndDelete(t *testing.T) {
	s, m := newService(t)
	ctx := context.Background()

	r := create(t, s, 1, 1, 2, 2)
	created := layoutRegions(t, m)

	out, err := s.UndoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	assert.Empty(t, out)
	_, err = m.RegionStore.FindByID(ctx, r.ID, "t-1")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	out, err = s.RedoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(created, out, cmpopts.IgnoreFields(models.Region{}, "UpdatedAt"), cmpopts.EquateEmpty()))

	require.NoError(t, s.DeleteRegion(ctx, owner, r.ID))
	out, err = s.UndoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, r.ID, out[0].ID)
	assert.Equal(t, r.Version, out[0].Version)

	out, err = s.RedoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestUndo_MultiStepThenRedoInOrder(t *testing.T) {
	s, m := newService(t)
	ctx := context.Background()

	a := create(t, s, 0, 0, 1, 1)
	s0 := layoutRegions(t, m)
	_, err := s.UpdateRegion(ctx, owner, a.ID, UpdateRegionInput{RegionPatch: models.RegionPatch{GridCol: intp(4)}, Version: i64p(1)})
	require.NoError(t, err)
	s1 := layoutRegions(t, m)
	b := create(t, s, 2, 2, 1, 1)
	s2 := layoutRegions(t, m)

	out, err := s.UndoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(s1, out, sameState))
	out, err = s.UndoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(s0, out, sameState))
	out, err = s.UndoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = s.UndoLayout(ctx, owner, "l-1")
	require.ErrorIs(t, err, common.ErrorBadRequest)
	assert.Equal(t, common.CodeNothingToUndo, common.CodeOf(err))

	out, err = s.RedoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(s0, out, sameState))
	out, err = s.RedoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(s1, out, sameState))
	out, err = s.RedoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(s2, out, sameState))
	assert.Equal(t, b.ID, out[1].ID)

	_, err = s.RedoLayout(ctx, owner, "l-1")
	assert.Equal(t, common.CodeNothingToRedo, common.CodeOf(err))
}

func TestUndo_EmptyLayout(t *testing.T) {
	s, _ := newService(t)
	_, err := s.UndoLayout(context.Background(), owner, "l-1")
	assert.Equal(t, common.CodeNothingToUndo, common.CodeOf(err))
	_, err = s.RedoLayout(context.Background(), owner, "l-1")
	assert.Equal(t, common.CodeNothingToRedo, common.CodeOf(err))
	_, err = s.UndoLayout(context.Background(), stranger, "l-1")
	assert.ErrorIs(t, err, common.ErrorForbidden)
}

func TestRedo_OverwritesInterveningUpdate(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	r := create(t, s, 0, 0, 1, 1)
	_, err := s.UpdateRegion(ctx, owner, r.ID, UpdateRegionInput{RegionPatch: models.RegionPatch{GridRow: intp(5)}, Version: i64p(1)})
	require.NoError(t, err)

	undone, err := s.UndoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	_, err = s.UpdateRegion(ctx, owner, r.ID, UpdateRegionInput{
		RegionPatch: models.RegionPatch{GridCol: intp(7)}, Version: i64p(undone[0].Version),
	})
	require.NoError(t, err)

	out, err := s.RedoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	assert.Equal(t, 5, out[0].GridRow)
	assert.Equal(t, 0, out[0].GridCol)
}

func TestRedo_RejectsOverlapWithNewerRegion(t *testing.T) {
	s, m := newService(t)
	ctx := context.Background()
	a := create(t, s, 0, 0, 1, 1)
	_, err := s.UpdateRegion(ctx, owner, a.ID, UpdateRegionInput{
		RegionPatch: models.RegionPatch{GridRow: intp(5), GridCol: intp(5)}, Version: i64p(1),
	})
	require.NoError(t, err)
	_, err = s.UndoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	create(t, s, 5, 5, 1, 1)

	_, err = s.RedoLayout(ctx, owner, "l-1")
	require.ErrorIs(t, err, common.ErrorConflict)
	assert.Equal(t, common.CodeRegionOverlap, common.CodeOf(err))

	got, err := m.RegionStore.FindByID(ctx, a.ID, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.Rect{Row: 0, Col: 0, RowSpan: 1, ColSpan: 1}, got.Rect())
}

// snapshotFailingEvents accepts mutation events but refuses undo snapshots.
type snapshotFailingEvents struct {
	events.Repository
}

func (f snapshotFailingEvents) Append(ctx context.Context, e *models.Event) error {
	if e.EventType == models.EventVersionCreated {
		return errors.New("disk full")
	}
	return f.Repository.Append(ctx, e)
}

func TestUndo_FailsWhenSnapshotCannotBeRecorded(t *testing.T) {
	m := repomanager.NewInMemoryRepositoryManager()
	_, err := m.LayoutStore.Create(context.Background(), &models.Layout{ID: "l-1", TenantID: "t-1", UserID: "u-1"})
	require.NoError(t, err)
	s := NewRegionService(&eventsOverride{m, snapshotFailingEvents{m.EventStore}}, RegionServiceOptions{})
	ctx := context.Background()

	r := create(t, s, 0, 0, 1, 1)
	_, err = s.UndoLayout(ctx, owner, "l-1")
	require.ErrorIs(t, err, common.ErrorInternal)

	got, err := m.RegionStore.FindByID(ctx, r.ID, "t-1")
	require.NoError(t, err, "the region survives a failed undo")
	assert.Equal(t, int64(1), got.Version)
}

func TestUndo_FailedSnapshotRevertsUpdate(t *testing.T) {
	m := repomanager.NewInMemoryRepositoryManager()
	_, err := m.LayoutStore.Create(context.Background(), &models.Layout{ID: "l-1", TenantID: "t-1", UserID: "u-1"})
	require.NoError(t, err)
	s := NewRegionService(&eventsOverride{m, snapshotFailingEvents{m.EventStore}}, RegionServiceOptions{})
	ctx := context.Background()

	r := create(t, s, 0, 0, 1, 1)
	_, err = s.UpdateRegion(ctx, owner, r.ID, UpdateRegionInput{
		RegionPatch: models.RegionPatch{GridRow: intp(2)}, Version: i64p(1),
	})
	require.NoError(t, err)

	_, err = s.UndoLayout(ctx, owner, "l-1")
	require.ErrorIs(t, err, common.ErrorInternal)

	got, err := m.RegionStore.FindByID(ctx, r.ID, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.GridRow)
}

// racingRegions loses every optimistic update, as if another writer got
// there first.
type racingRegions struct {
	regions.Repository
}

func (racingRegions) Update(context.Context, string, string, models.RegionPatch, int64) (*models.Region, error) {
	return nil, common.ErrVersionConflict
}

type regionsOverride struct {
	*repomanager.InMemoryRepositoryManager
	regions regions.Repository
}

func (m *regionsOverride) Regions(dbx.DBTX) regions.Repository { return m.regions }

func TestUndo_LostRaceRecordsNoSnapshot(t *testing.T) {
	s, m := newService(t)
	ctx := context.Background()

	r := create(t, s, 0, 0, 1, 1)
	_, err := s.UpdateRegion(ctx, owner, r.ID, UpdateRegionInput{
		RegionPatch: models.RegionPatch{GridRow: intp(2)}, Version: i64p(1),
	})
	require.NoError(t, err)

	racing := NewRegionService(&regionsOverride{m, racingRegions{m.RegionStore}}, RegionServiceOptions{})
	_, err = racing.UndoLayout(ctx, owner, "l-1")
	require.ErrorIs(t, err, common.ErrorConflict)

	snaps, err := m.EventStore.List(ctx, events.Filter{TenantID: "t-1", Types: []models.EventType{models.EventVersionCreated}})
	require.NoError(t, err)
	assert.Empty(t, snaps)

	// The update was never reversed, so it is still next in line.
	_, err = s.UndoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	got, err := m.RegionStore.FindByID(ctx, r.ID, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.GridRow)

	_, err = s.RedoLayout(ctx, owner, "l-1")
	require.NoError(t, err)
	got, err = m.RegionStore.FindByID(ctx, r.ID, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.GridRow)
}

func TestGetLayoutHistory(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	r := create(t, s, 0, 0, 1, 1)
	_, err := s.UpdateRegion(ctx, owner, r.ID, UpdateRegionInput{RegionPatch: models.RegionPatch{GridRow: intp(1)}, Version: i64p(1)})
	require.NoError(t, err)
	_, err = s.UndoLayout(ctx, owner, "l-1")
	require.NoError(t, err)

	evs, err := s.GetLayoutHistory(ctx, owner, "l-1", 0)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, models.EventVersionCreated, evs[0].EventType)
	assert.Equal(t, models.EventRegionMoved, evs[1].EventType)
	assert.Equal(t, models.EventRegionCreated, evs[2].EventType)

	evs, err = s.GetLayoutHistory(ctx, owner, "l-1", 1)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}
