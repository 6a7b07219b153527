package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/regions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func seed(t *testing.T, store *regions.MemoryRepository, row, col, rs, cs int) *models.Region {
	t.Helper()
	r, err := store.Create(context.Background(), &models.Region{
		LayoutID: "l-1", TenantID: "t-1", UserID: "u-1", RegionType: models.RegionTypeCustom,
		GridRow: row, GridCol: col, RowSpan: rs, ColSpan: cs,
	})
	require.NoError(t, err)
	return r
}

func TestPlacement_Defaults(t *testing.T) {
	assert.Equal(t, models.Rect{Row: 0, Col: 0, RowSpan: 1, ColSpan: 1}, Placement{}.Rect())
	assert.Equal(t, models.Rect{Row: 3, Col: 0, RowSpan: 1, ColSpan: 4}, Placement{GridRow: intp(3), ColSpan: intp(4)}.Rect())
}

func TestCheckBounds(t *testing.T) {
	tests := []struct {
		name string
		rect models.Rect
		ok   bool
	}{
		{"origin", models.Rect{RowSpan: 1, ColSpan: 1}, true},
		{"negative row", models.Rect{Row: -1, RowSpan: 1, ColSpan: 1}, false},
		{"negative col", models.Rect{Col: -2, RowSpan: 1, ColSpan: 1}, false},
		{"zero span", models.Rect{RowSpan: 0, ColSpan: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBounds(tt.rect)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, common.ErrorBadRequest)
			assert.Equal(t, common.CodeInvalidGridBounds, common.CodeOf(err))
		})
	}
}

func TestValidateCreate_Overlap(t *testing.T) {
	store := regions.NewMemoryRepository()
	existing := seed(t, store, 0, 0, 2, 2)
	v := New(store)

	_, err := v.ValidateCreate(context.Background(), "l-1", Placement{GridRow: intp(1), GridCol: intp(1), RowSpan: intp(2), ColSpan: intp(2)}, "t-1")
	require.ErrorIs(t, err, common.ErrorConflict)
	e, ok := common.AsError(err)
	require.True(t, ok)
	assert.Equal(t, common.CodeRegionOverlap, e.Code)
	assert.Equal(t, existing.ID, e.Details["overlapping"])

	// Another layout or tenant is unaffected.
	_, err = v.ValidateCreate(context.Background(), "l-2", Placement{}, "t-1")
	assert.NoError(t, err)
	_, err = v.ValidateCreate(context.Background(), "l-1", Placement{}, "t-2")
	assert.NoError(t, err)
}

func TestValidateUpdate_ExcludesOwnFootprint(t *testing.T) {
	store := regions.NewMemoryRepository()
	r := seed(t, store, 0, 0, 2, 2)
	v := New(store)

	err := v.ValidateUpdate(context.Background(), "l-1", r.ID, models.Rect{Row: 1, Col: 1, RowSpan: 2, ColSpan: 2}, "t-1")
	assert.NoError(t, err)

	other := seed(t, store, 0, 4, 1, 1)
	err = v.ValidateUpdate(context.Background(), "l-1", other.ID, models.Rect{Row: 0, Col: 1, RowSpan: 1, ColSpan: 1}, "t-1")
	assert.True(t, errors.Is(err, common.ErrorConflict))
}
