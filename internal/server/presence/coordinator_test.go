package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	presencerepo "github.com/cseek11/VeroSuite-sub002/internal/server/repositories/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	userX  = Session{TenantID: "t-1", UserID: "x", SessionID: "sx"}
	userY  = Session{TenantID: "t-1", UserID: "y", SessionID: "sy"}
	userX2 = Session{TenantID: "t-1", UserID: "x", SessionID: "sx2"}
)

func newCoordinator() (*Coordinator, *presencerepo.MemoryRepository, *fakeClock) {
	repo := presencerepo.NewMemoryRepository()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewCoordinator(repo, Options{Clock: clock.Now}, nil), repo, clock
}

func TestAcquireLock_ReclaimedAfterTTL(t *testing.T) {
	c, _, clock := newCoordinator()
	ctx := context.Background()

	res, err := c.AcquireLock(ctx, userX, "r-1")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = c.AcquireLock(ctx, userY, "r-1")
	require.NoError(t, err)
	assert.Equal(t, LockResult{RegionID: "r-1", Success: false, LockedBy: "x"}, res)

	clock.Advance(DefaultTTL - time.Second)
	res, err = c.AcquireLock(ctx, userY, "r-1")
	require.NoError(t, err)
	assert.False(t, res.Success, "still inside the TTL")

	clock.Advance(2 * time.Second)
	res, err = c.AcquireLock(ctx, userY, "r-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.LockedBy)
}

func TestAcquireLock_SameUserOtherSession(t *testing.T) {
	c, _, _ := newCoordinator()
	ctx := context.Background()

	_, err := c.AcquireLock(ctx, userX, "r-1")
	require.NoError(t, err)
	res, err := c.AcquireLock(ctx, userX2, "r-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestReleaseLock_LetsOthersIn(t *testing.T) {
	c, _, _ := newCoordinator()
	ctx := context.Background()

	_, err := c.AcquireLock(ctx, userX, "r-1")
	require.NoError(t, err)
	require.NoError(t, c.ReleaseLock(ctx, userX, "r-1"))

	res, err := c.AcquireLock(ctx, userY, "r-1")
	require.NoError(t, err)
	assert.True(t, res.Success)

	active, err := c.ActivePresence(ctx, "t-1", "r-1")
	require.NoError(t, err)
	assert.Len(t, active, 2, "releasing keeps the session viewing")
}

func TestPresenceLifecycle(t *testing.T) {
	c, repo, clock := newCoordinator()
	ctx := context.Background()

	active, err := c.Join(ctx, userX, "r-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.False(t, active[0].IsEditing)

	clock.Advance(time.Second)
	_, err = c.Join(ctx, userY, "r-1")
	require.NoError(t, err)
	p, err := c.UpdatePresence(ctx, userY, "r-1", true)
	require.NoError(t, err)
	assert.True(t, p.IsEditing)

	active, err = c.ActivePresence(ctx, "t-1", "r-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "y", active[0].UserID)

	require.NoError(t, c.Leave(ctx, userX, "r-1"))
	active, err = c.ActivePresence(ctx, "t-1", "r-1")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = c.Join(ctx, userY, "r-2")
	require.NoError(t, err)
	regions, err := c.Disconnect(ctx, userY)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1", "r-2"}, regions)
	assert.Equal(t, 0, repo.Len())

	_, err = c.Join(ctx, userX, "")
	assert.Error(t, err)
}

func TestHeartbeat_KeepsRowsAlive(t *testing.T) {
	c, repo, clock := newCoordinator()
	ctx := context.Background()

	_, err := c.Join(ctx, userX, "r-1")
	require.NoError(t, err)
	_, err = c.Join(ctx, userX, "r-2")
	require.NoError(t, err)
	_, err = c.Join(ctx, userY, "r-1")
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	n, err := c.Heartbeat(ctx, userX)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	clock.Advance(2 * time.Minute)
	active, err := c.ActivePresence(ctx, "t-1", "r-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "x", active[0].UserID)

	swept, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept, "the read already swept r-1")
	assert.Equal(t, 2, repo.Len())

	clock.Advance(DefaultTTL)
	swept, err = c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), swept)
}

func TestActivePresence_TenantScoped(t *testing.T) {
	c, _, _ := newCoordinator()
	ctx := context.Background()
	_, err := c.Join(ctx, userX, "r-1")
	require.NoError(t, err)

	active, err := c.ActivePresence(ctx, "t-2", "r-1")
	require.NoError(t, err)
	assert.Empty(t, active)
}
