// Package grpc exposes the region service as dashboard.v1.Dashboard, a gRPC
// service spoken with the JSON codec.
package grpc

import (
	"context"
	"errors"
	"net"

	"github.com/cseek11/VeroSuite-sub002/internal/logging"
	"github.com/cseek11/VeroSuite-sub002/internal/server/idempotency"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/cseek11/VeroSuite-sub002/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RegionService is the business API served over gRPC.
type RegionService interface {
	CreateRegion(ctx context.Context, p models.Principal, in services.CreateRegionInput) (*models.Region, error)
	UpdateRegion(ctx context.Context, p models.Principal, regionID string, in services.UpdateRegionInput) (*models.Region, error)
	DeleteRegion(ctx context.Context, p models.Principal, regionID string) error
	ReorderRegions(ctx context.Context, p models.Principal, layoutID string, order []string) ([]*models.Region, error)
	GetRegion(ctx context.Context, p models.Principal, regionID string) (*models.Region, error)
	ListRegions(ctx context.Context, p models.Principal, layoutID string) ([]*models.Region, error)
	UndoLayout(ctx context.Context, p models.Principal, layoutID string) ([]*models.Region, error)
	RedoLayout(ctx context.Context, p models.Principal, layoutID string) ([]*models.Region, error)
	GetLayoutHistory(ctx context.Context, p models.Principal, layoutID string, limit int) ([]*models.Event, error)
	CheckRegionPermission(ctx context.Context, p models.Principal, regionID string, action models.Action) (bool, error)
	GrantRegionPermission(ctx context.Context, p models.Principal, perm models.RegionPermission) error
}

type GRPCServer struct {
	address   string
	regions   RegionService
	guard     *idempotency.Guard
	health    *health.Server
	logger    logging.Logger
	jwtSecret []byte
}

// NewGRPCServer builds the server. guard may be nil to disable replay.
func NewGRPCServer(a string, l logging.Logger, regions RegionService, guard *idempotency.Guard, secretKey string) *GRPCServer {
	if l == nil {
		l = logging.Nop{}
	}
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		regions:   regions,
		guard:     guard,
		health:    health.NewServer(),
		jwtSecret: []byte(secretKey),
	}
}

// Server builds a grpc.Server with the interceptor chain and every service
// registered.
func (s *GRPCServer) Server(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		s.errorInterceptor,
		s.accessTokenInterceptor,
		s.idempotencyInterceptor,
	))
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&dashboardServiceDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.Server()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}

	return nil
}
