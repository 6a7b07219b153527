package grpc

import (
	"context"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/auth"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dashboard.v1.Dashboard"

// FullMethod returns the gRPC path of a Dashboard method.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// mutatingMethods accept an idempotency key.
var mutatingMethods = map[string]bool{
	FullMethod("CreateRegion"):          true,
	FullMethod("UpdateRegion"):          true,
	FullMethod("DeleteRegion"):          true,
	FullMethod("ReorderRegions"):        true,
	FullMethod("UndoLayout"):            true,
	FullMethod("RedoLayout"):            true,
	FullMethod("GrantRegionPermission"): true,
}

type dashboardServer interface {
	CreateRegion(context.Context, *CreateRegionRequest) (*RegionResponse, error)
}

var _ dashboardServer = (*GRPCServer)(nil)

func unary[Req, Resp any](name string, fn func(*GRPCServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(*GRPCServer)
			if interceptor == nil {
				return fn(s, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return fn(s, ctx, r.(*Req))
			})
		},
	}
}

var dashboardServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*dashboardServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateRegion", (*GRPCServer).CreateRegion),
		unary("UpdateRegion", (*GRPCServer).UpdateRegion),
		unary("DeleteRegion", (*GRPCServer).DeleteRegion),
		unary("ReorderRegions", (*GRPCServer).ReorderRegions),
		unary("GetRegion", (*GRPCServer).GetRegion),
		unary("ListRegions", (*GRPCServer).ListRegions),
		unary("UndoLayout", (*GRPCServer).UndoLayout),
		unary("RedoLayout", (*GRPCServer).RedoLayout),
		unary("GetLayoutHistory", (*GRPCServer).GetLayoutHistory),
		unary("CheckRegionPermission", (*GRPCServer).CheckRegionPermission),
		unary("GrantRegionPermission", (*GRPCServer).GrantRegionPermission),
	},
	Metadata: "dashboard/v1/dashboard.json",
}

func principal(ctx context.Context) (models.Principal, error) {
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return models.Principal{}, common.ErrorUnauthorized
	}
	return p, nil
}

func (s *GRPCServer) CreateRegion(ctx context.Context, req *CreateRegionRequest) (*RegionResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.regions.CreateRegion(ctx, p, *req)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "region created", "region_id", r.ID, "layout_id", r.LayoutID)
	return &RegionResponse{Region: r}, nil
}

func (s *GRPCServer) UpdateRegion(ctx context.Context, req *UpdateRegionRequest) (*RegionResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.regions.UpdateRegion(ctx, p, req.RegionID, req.UpdateRegionInput)
	if err != nil {
		return nil, err
	}
	return &RegionResponse{Region: r}, nil
}

func (s *GRPCServer) DeleteRegion(ctx context.Context, req *RegionIDRequest) (*Empty, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.regions.DeleteRegion(ctx, p, req.RegionID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *GRPCServer) ReorderRegions(ctx context.Context, req *ReorderRegionsRequest) (*RegionsResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := s.regions.ReorderRegions(ctx, p, req.LayoutID, req.Order)
	if err != nil {
		return nil, err
	}
	return &RegionsResponse{Regions: rs}, nil
}

func (s *GRPCServer) GetRegion(ctx context.Context, req *RegionIDRequest) (*RegionResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.regions.GetRegion(ctx, p, req.RegionID)
	if err != nil {
		return nil, err
	}
	return &RegionResponse{Region: r}, nil
}

func (s *GRPCServer) ListRegions(ctx context.Context, req *LayoutIDRequest) (*RegionsResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := s.regions.ListRegions(ctx, p, req.LayoutID)
	if err != nil {
		return nil, err
	}
	return &RegionsResponse{Regions: rs}, nil
}

func (s *GRPCServer) UndoLayout(ctx context.Context, req *LayoutIDRequest) (*RegionsResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := s.regions.UndoLayout(ctx, p, req.LayoutID)
	if err != nil {
		return nil, err
	}
	return &RegionsResponse{Regions: rs}, nil
}

func (s *GRPCServer) RedoLayout(ctx context.Context, req *LayoutIDRequest) (*RegionsResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := s.regions.RedoLayout(ctx, p, req.LayoutID)
	if err != nil {
		return nil, err
	}
	return &RegionsResponse{Regions: rs}, nil
}

func (s *GRPCServer) GetLayoutHistory(ctx context.Context, req *GetLayoutHistoryRequest) (*HistoryResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	evs, err := s.regions.GetLayoutHistory(ctx, p, req.LayoutID, req.Limit)
	if err != nil {
		return nil, err
	}
	return &HistoryResponse{Events: evs}, nil
}

func (s *GRPCServer) CheckRegionPermission(ctx context.Context, req *CheckRegionPermissionRequest) (*PermissionResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := s.regions.CheckRegionPermission(ctx, p, req.RegionID, req.Action)
	if err != nil {
		return nil, err
	}
	return &PermissionResponse{Allowed: ok}, nil
}

func (s *GRPCServer) GrantRegionPermission(ctx context.Context, req *GrantRegionPermissionRequest) (*Empty, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	err = s.regions.GrantRegionPermission(ctx, p, models.RegionPermission{
		RegionID: req.RegionID, PrincipalType: req.PrincipalType, PrincipalID: req.PrincipalID, Permissions: req.Permissions,
	})
	if err != nil {
		return nil, err
	}
	return &Empty{}, nil
}
