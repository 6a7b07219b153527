package events

import (
	"context"
	"testing"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_ListOrdering(t *testing.T) {
	repo := NewMemoryRepository()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }
	ctx := context.Background()

	for v := int64(1); v <= 3; v++ {
		require.NoError(t, repo.Append(ctx, &models.Event{
			EventType: models.EventRegionUpdated, EntityType: models.EntityRegion, EntityID: "r-1",
			LayoutID: "l-1", TenantID: "t-1", EntityVersion: v,
		}))
	}
	require.NoError(t, repo.Append(ctx, &models.Event{EventType: models.EventRegionCreated, EntityType: models.EntityRegion, EntityID: "r-2", TenantID: "t-2"}))

	newest, err := repo.List(ctx, Filter{TenantID: "t-1", EntityType: models.EntityRegion, EntityID: "r-1"})
	require.NoError(t, err)
	require.Len(t, newest, 3)
	assert.Equal(t, int64(3), newest[0].EntityVersion)

	replay, err := repo.List(ctx, Filter{TenantID: "t-1", EntityID: "r-1", UpToVersion: 2, Ascending: true})
	require.NoError(t, err)
	require.Len(t, replay, 2)
	assert.Equal(t, int64(1), replay[0].EntityVersion)
	assert.Equal(t, int64(2), replay[1].EntityVersion)

	limited, err := repo.List(ctx, Filter{TenantID: "t-1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemory_GetByIDTenantScoped(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	e := &models.Event{EventType: models.EventRegionCreated, TenantID: "t-1"}
	require.NoError(t, repo.Append(ctx, e))

	got, err := repo.GetByID(ctx, e.ID, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventSchemaVersion, got.Version)

	_, err = repo.GetByID(ctx, e.ID, "t-2")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
