package grpc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/auth"
	"github.com/cseek11/VeroSuite-sub002/internal/server/idempotency"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/events"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/repomanager"
	"github.com/cseek11/VeroSuite-sub002/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const secret = "secret"

var owner = models.Principal{UserID: "u-1", TenantID: "t-1"}

type harness struct {
	conn *grpc.ClientConn
	repo *repomanager.InMemoryRepositoryManager
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, func(r RegionService) RegionService { return r })
}

func newHarnessWith(t *testing.T, wrap func(RegionService) RegionService) *harness {
	t.Helper()
	m := repomanager.NewInMemoryRepositoryManager()
	_, err := m.LayoutStore.Create(context.Background(), &models.Layout{ID: "l-1", TenantID: "t-1", UserID: "u-1"})
	require.NoError(t, err)

	regions := wrap(services.NewRegionService(m, services.RegionServiceOptions{}))
	guard := idempotency.NewGuard(m.IdempotencyStore, idempotency.Options{}, nil)
	s := NewGRPCServer("bufconn", nil, regions, guard, secret)

	lis := bufconn.Listen(1 << 20)
	srv := s.Server()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &harness{conn: conn, repo: m}
}

func (h *harness) call(ctx context.Context, method string, req, resp any) error {
	return h.conn.Invoke(ctx, FullMethod(method), req, resp, grpc.CallContentSubtype(CodecName))
}

func authed(t *testing.T, p models.Principal, kv ...string) context.Context {
	t.Helper()
	tok, err := auth.GenerateToken(p, []byte(secret), time.Hour)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), append([]string{"authorization", "Bearer " + tok}, kv...)...)
}

func intp(v int) *int { return &v }

func TestCreateAndUpdate_OverGRPC(t *testing.T) {
	h := newHarness(t)
	ctx := authed(t, owner, "x-session-id", "s-42")

	var created RegionResponse
	require.NoError(t, h.call(ctx, "CreateRegion", &CreateRegionRequest{
		LayoutID: "l-1", GridRow: intp(0), GridCol: intp(0), RowSpan: intp(2), ColSpan: intp(2),
	}, &created))
	require.NotNil(t, created.Region)
	assert.Equal(t, int64(1), created.Region.Version)

	v := int64(1)
	var updated RegionResponse
	require.NoError(t, h.call(ctx, "UpdateRegion", &UpdateRegionRequest{
		RegionID: created.Region.ID,
		UpdateRegionInput: services.UpdateRegionInput{
			RegionPatch: models.RegionPatch{GridCol: intp(3)}, Version: &v,
		},
	}, &updated))
	assert.Equal(t, int64(2), updated.Region.Version)
	assert.Equal(t, 3, updated.Region.GridCol)

	var list RegionsResponse
	require.NoError(t, h.call(ctx, "ListRegions", &LayoutIDRequest{LayoutID: "l-1"}, &list))
	assert.Len(t, list.Regions, 1)

	var hist HistoryResponse
	require.NoError(t, h.call(ctx, "GetLayoutHistory", &GetLayoutHistoryRequest{LayoutID: "l-1"}, &hist))
	require.Len(t, hist.Events, 2)
	assert.Equal(t, "s-42", hist.Events[0].Metadata["sessionId"])

	var perm PermissionResponse
	require.NoError(t, h.call(ctx, "CheckRegionPermission", &CheckRegionPermissionRequest{
		RegionID: created.Region.ID, Action: models.ActionEdit,
	}, &perm))
	assert.True(t, perm.Allowed)
}

func TestVersionConflict_CarriesErrorInfo(t *testing.T) {
	h := newHarness(t)
	ctx := authed(t, owner)

	var created RegionResponse
	require.NoError(t, h.call(ctx, "CreateRegion", &CreateRegionRequest{LayoutID: "l-1"}, &created))

	stale := int64(7)
	err := h.call(ctx, "UpdateRegion", &UpdateRegionRequest{
		RegionID:          created.Region.ID,
		UpdateRegionInput: services.UpdateRegionInput{Version: &stale},
	}, &RegionResponse{})
	require.Error(t, err)
	assert.Equal(t, codes.Aborted, status.Code(err))

	info, ok := ErrorInfo(err)
	require.True(t, ok)
	assert.Equal(t, common.CodeVersionConflict, info.Reason)
	assert.Equal(t, ErrorDomain, info.Domain)
	assert.Equal(t, map[string]string{"expected": "1", "provided": "7"}, info.Metadata)

	err = h.call(ctx, "UpdateRegion", &UpdateRegionRequest{RegionID: created.Region.ID}, &RegionResponse{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	info, _ = ErrorInfo(err)
	assert.Equal(t, common.CodeVersionRequired, info.Reason)
}

func TestIdempotentReplay_OverGRPC(t *testing.T) {
	h := newHarness(t)
	ctx := authed(t, owner, common.IdempotencyKeyHeaderName, "retry-1")
	req := &CreateRegionRequest{LayoutID: "l-1", GridRow: intp(1), GridCol: intp(1)}

	var first, second RawJSON
	require.NoError(t, h.call(ctx, "CreateRegion", req, &first))
	require.NoError(t, h.call(ctx, "CreateRegion", req, &second))
	assert.Equal(t, []byte(first), []byte(second))

	regions, err := h.repo.RegionStore.FindByLayoutID(context.Background(), "l-1", "t-1")
	require.NoError(t, err)
	assert.Len(t, regions, 1)
	evs, err := h.repo.EventStore.List(context.Background(), events.Filter{TenantID: "t-1"})
	require.NoError(t, err)
	assert.Len(t, evs, 1)

	other := &CreateRegionRequest{LayoutID: "l-1", GridRow: intp(5)}
	err = h.call(ctx, "CreateRegion", other, &RegionResponse{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	info, _ := ErrorInfo(err)
	assert.Equal(t, common.CodeIdempotencyKeyReused, info.Reason)

	// a different user with the same key is a new request
	ctx2 := authed(t, models.Principal{UserID: "u-9", TenantID: "t-1", Roles: []string{models.RoleAdmin}},
		common.IdempotencyKeyHeaderName, "retry-1")
	var third RegionResponse
	require.NoError(t, h.call(ctx2, "CreateRegion", &CreateRegionRequest{LayoutID: "l-1", GridRow: intp(3)}, &third))
	assert.Equal(t, "u-9", third.Region.UserID)
}

// slowCreates counts CreateRegion executions and holds each one open.
type slowCreates struct {
	RegionService
	delay time.Duration
	runs  atomic.Int32
}

func (s *slowCreates) CreateRegion(ctx context.Context, p models.Principal, in services.CreateRegionInput) (*models.Region, error) {
	s.runs.Add(1)
	time.Sleep(s.delay)
	return s.RegionService.CreateRegion(ctx, p, in)
}

func TestConcurrentRetries_ExecuteOnce(t *testing.T) {
	slow := &slowCreates{delay: 50 * time.Millisecond}
	h := newHarnessWith(t, func(r RegionService) RegionService {
		slow.RegionService = r
		return slow
	})
	ctx := authed(t, owner, common.IdempotencyKeyHeaderName, "double-click")
	req := &CreateRegionRequest{LayoutID: "l-1", GridRow: intp(1), GridCol: intp(1)}

	var (
		wg    sync.WaitGroup
		resps [2]RawJSON
		errs  [2]error
	)
	for i := range resps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.call(ctx, "CreateRegion", req, &resps[i])
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), slow.runs.Load())
	assert.Equal(t, []byte(resps[0]), []byte(resps[1]))

	regions, err := h.repo.RegionStore.FindByLayoutID(context.Background(), "l-1", "t-1")
	require.NoError(t, err)
	assert.Len(t, regions, 1)
}

func TestFailedCallsAreNotRecorded(t *testing.T) {
	h := newHarness(t)
	ctx := authed(t, owner, common.IdempotencyKeyHeaderName, "k")

	err := h.call(ctx, "CreateRegion", &CreateRegionRequest{LayoutID: "missing"}, &RegionResponse{})
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Equal(t, 0, h.repo.IdempotencyStore.Len())
}

func TestAuth(t *testing.T) {
	h := newHarness(t)

	err := h.call(context.Background(), "ListRegions", &LayoutIDRequest{LayoutID: "l-1"}, &RegionsResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer nope")
	err = h.call(bad, "ListRegions", &LayoutIDRequest{LayoutID: "l-1"}, &RegionsResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	tok, err := auth.GenerateToken(owner, []byte(secret), time.Hour)
	require.NoError(t, err)
	raw := metadata.AppendToOutgoingContext(context.Background(), common.AccessTokenHeaderName, tok)
	assert.NoError(t, h.call(raw, "ListRegions", &LayoutIDRequest{LayoutID: "l-1"}, &RegionsResponse{}))

	stranger := authed(t, models.Principal{UserID: "u-2", TenantID: "t-1"})
	err = h.call(stranger, "ListRegions", &LayoutIDRequest{LayoutID: "l-1"}, &RegionsResponse{})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	other := authed(t, models.Principal{UserID: "u-1", TenantID: "t-2"})
	err = h.call(other, "ListRegions", &LayoutIDRequest{LayoutID: "l-1"}, &RegionsResponse{})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, err := healthpb.NewHealthClient(h.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:0", nil, nil, nil, "secret")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", nil, nil, nil, "secret")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Run(ctx); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}
