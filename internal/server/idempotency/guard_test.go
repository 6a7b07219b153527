package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	idemrepo "github.com/cseek11/VeroSuite-sub002/internal/server/repositories/idempotency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = models.Principal{UserID: "alice", TenantID: "t-1"}
	bob   = models.Principal{UserID: "bob", TenantID: "t-1"}
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newGuard() (*Guard, *idemrepo.MemoryRepository, *clock) {
	repo := idemrepo.NewMemoryRepository()
	c := &clock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	return NewGuard(repo, Options{Clock: c.Now}, nil), repo, c
}

func TestReplayIsByteIdentical(t *testing.T) {
	g, _, _ := newGuard()
	ctx := context.Background()
	body := []byte(`{"layoutId":"l-1"}`)

	resp, err := g.Acquire(ctx, "k-1", alice, "/dashboard.v1.Dashboard/CreateRegion", body)
	require.NoError(t, err)
	require.Nil(t, resp)

	original := Response{Body: []byte(`{"id":"r-1","version":1}`), StatusCode: 0}
	g.Record(ctx, "k-1", alice, "/dashboard.v1.Dashboard/CreateRegion", body, original)

	resp, err = g.Acquire(ctx, "k-1", alice, "/dashboard.v1.Dashboard/CreateRegion", body)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, original, *resp)
}

func TestAcquire_ScopedByUser(t *testing.T) {
	g, _, _ := newGuard()
	ctx := context.Background()
	g.Record(ctx, "k-1", alice, "m", nil, Response{Body: []byte("a")})

	resp, err := g.Acquire(ctx, "k-1", bob, "m", nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestAcquire_KeyReusedForDifferentRequest(t *testing.T) {
	g, _, _ := newGuard()
	ctx := context.Background()
	g.Record(ctx, "k-1", alice, "m", []byte(`{"a":1}`), Response{Body: []byte("ok")})

	_, err := g.Acquire(ctx, "k-1", alice, "m", []byte(`{"a":2}`))
	require.ErrorIs(t, err, common.ErrorBadRequest)
	assert.Equal(t, common.CodeIdempotencyKeyReused, common.CodeOf(err))

	_, err = g.Acquire(ctx, "k-1", alice, "other", []byte(`{"a":1}`))
	assert.Equal(t, common.CodeIdempotencyKeyReused, common.CodeOf(err))
}

func TestRecord_FirstWins(t *testing.T) {
	g, _, _ := newGuard()
	ctx := context.Background()
	g.Record(ctx, "k", alice, "m", nil, Response{Body: []byte("first")})
	g.Record(ctx, "k", alice, "m", nil, Response{Body: []byte("second")})

	resp, err := g.Acquire(ctx, "k", alice, "m", nil)
	require.NoError(t, err)
	assert.Equal(t, "first", string(resp.Body))
}

func TestExpiryAndPurge(t *testing.T) {
	g, repo, c := newGuard()
	ctx := context.Background()
	g.Record(ctx, "k", alice, "m", nil, Response{Body: []byte("x")})

	c.now = c.now.Add(DefaultTTL - time.Minute)
	resp, err := g.Acquire(ctx, "k", alice, "m", nil)
	require.NoError(t, err)
	assert.NotNil(t, resp)

	c.now = c.now.Add(2 * time.Minute)
	n, err := g.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, repo.Len())

	resp, err = g.Acquire(ctx, "k", alice, "m", nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestAcquire_ExpiredRecordIsReservedAgain(t *testing.T) {
	g, _, c := newGuard()
	ctx := context.Background()
	g.Record(ctx, "k", alice, "m", nil, Response{Body: []byte("x")})

	c.now = c.now.Add(DefaultTTL + time.Minute)
	resp, err := g.Acquire(ctx, "k", alice, "m", nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

type brokenRepo struct{ idemrepo.Repository }

func (brokenRepo) Get(context.Context, string, string, string, time.Time) (*models.IdempotencyRecord, error) {
	return nil, errors.New("connection refused")
}

func (brokenRepo) Release(context.Context, string, string, string) error {
	return errors.New("connection refused")
}

func (brokenRepo) Insert(context.Context, *models.IdempotencyRecord) (bool, error) {
	return false, errors.New("connection refused")
}

func TestFailsOpen(t *testing.T) {
	g := NewGuard(brokenRepo{}, Options{}, nil)
	ctx := context.Background()

	resp, err := g.Acquire(ctx, "k", alice, "m", nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
	g.Record(ctx, "k", alice, "m", nil, Response{})
	g.Release(ctx, "k", alice)
}

type noReserveRepo struct{ *idemrepo.MemoryRepository }

func (noReserveRepo) Reserve(context.Context, *models.IdempotencyRecord, time.Time) (bool, error) {
	return false, errors.New("connection refused")
}

func TestAcquire_ReservationFailureFailsOpen(t *testing.T) {
	g := NewGuard(noReserveRepo{idemrepo.NewMemoryRepository()}, Options{}, nil)
	resp, err := g.Acquire(context.Background(), "k", alice, "m", nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestEmptyKeyIsIgnored(t *testing.T) {
	g, repo, _ := newGuard()
	g.Record(context.Background(), "", alice, "m", nil, Response{Body: []byte("x")})
	assert.Equal(t, 0, repo.Len())
	resp, err := g.Acquire(context.Background(), "", alice, "m", nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestAcquire_InFlightKeyConflictsAfterWait(t *testing.T) {
	repo := idemrepo.NewMemoryRepository()
	g := NewGuard(repo, Options{Wait: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond}, nil)
	ctx := context.Background()

	resp, err := g.Acquire(ctx, "k", alice, "m", nil)
	require.NoError(t, err)
	require.Nil(t, resp)

	_, err = g.Acquire(ctx, "k", alice, "m", nil)
	require.ErrorIs(t, err, common.ErrorConflict)
	assert.Equal(t, common.CodeIdempotencyInProgress, common.CodeOf(err))

	_, err = g.Acquire(ctx, "k", alice, "other", nil)
	assert.Equal(t, common.CodeIdempotencyKeyReused, common.CodeOf(err))
}

func TestAcquire_WaiterReplaysRecordedResponse(t *testing.T) {
	g := NewGuard(idemrepo.NewMemoryRepository(), Options{Wait: 2 * time.Second, PollInterval: 5 * time.Millisecond}, nil)
	ctx := context.Background()

	resp, err := g.Acquire(ctx, "k", alice, "m", nil)
	require.NoError(t, err)
	require.Nil(t, resp)

	var wg sync.WaitGroup
	wg.Add(1)
	var waited *Response
	var waitErr error
	go func() {
		defer wg.Done()
		waited, waitErr = g.Acquire(ctx, "k", alice, "m", nil)
	}()

	time.Sleep(20 * time.Millisecond)
	g.Record(ctx, "k", alice, "m", nil, Response{Body: []byte("done")})
	wg.Wait()

	require.NoError(t, waitErr)
	require.NotNil(t, waited)
	assert.Equal(t, "done", string(waited.Body))
}

func TestAcquire_ConcurrentCallersReserveOnce(t *testing.T) {
	g := NewGuard(idemrepo.NewMemoryRepository(), Options{Wait: 2 * time.Second, PollInterval: 5 * time.Millisecond}, nil)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		runs atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := g.Acquire(ctx, "k", alice, "m", nil)
			if err != nil || resp != nil {
				return
			}
			runs.Add(1)
			time.Sleep(20 * time.Millisecond)
			g.Record(ctx, "k", alice, "m", nil, Response{Body: []byte("ok")})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), runs.Load())
}

func TestRelease_LetsRetryRunAgain(t *testing.T) {
	g, repo, _ := newGuard()
	ctx := context.Background()

	_, err := g.Acquire(ctx, "k", alice, "m", nil)
	require.NoError(t, err)
	g.Release(ctx, "k", alice)
	assert.Equal(t, 0, repo.Len())

	resp, err := g.Acquire(ctx, "k", alice, "m", nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestRelease_KeepsRecordedResponse(t *testing.T) {
	g, _, _ := newGuard()
	ctx := context.Background()
	g.Record(ctx, "k", alice, "m", nil, Response{Body: []byte("x")})
	g.Release(ctx, "k", alice)

	resp, err := g.Acquire(ctx, "k", alice, "m", nil)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "x", string(resp.Body))
}

func TestAcquire_StaleReservationIsTakenOver(t *testing.T) {
	g, _, c := newGuard()
	ctx := context.Background()

	_, err := g.Acquire(ctx, "k", alice, "m", nil)
	require.NoError(t, err)

	c.now = c.now.Add(DefaultLockTimeout)
	resp, err := g.Acquire(ctx, "k", alice, "m", nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("m", []byte("body"))
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint("m", []byte("body")))
	assert.NotEqual(t, a, Fingerprint("mb", []byte("ody")))
}
