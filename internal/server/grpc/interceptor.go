package grpc

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/auth"
	"github.com/cseek11/VeroSuite-sub002/internal/server/idempotency"
	"github.com/cseek11/VeroSuite-sub002/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Metadata keys copied into event metadata.
const (
	requestIDHeader = "x-request-id"
	sessionIDHeader = "x-session-id"
)

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// errorInterceptor converts service errors to statuses and logs the call.
func (s *GRPCServer) errorInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err == nil {
		s.logger.Debug(ctx, "rpc ok", "method", info.FullMethod, "duration", time.Since(start))
		return resp, nil
	}

	st := toStatus(err)
	if st.Code() == codes.Internal {
		s.logger.Error(ctx, "rpc failed", "method", info.FullMethod, "error", err)
	} else {
		s.logger.Debug(ctx, "rpc rejected", "method", info.FullMethod, "code", st.Code().String(), "error", err)
	}
	return nil, st.Err()
}

// accessTokenInterceptor authenticates every Dashboard call and attaches the
// caller's principal and event metadata to ctx.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
		return handler(ctx, req)
	}

	var accessToken string
	md, _ := metadata.FromIncomingContext(ctx)
	if v := firstValue(md, common.AuthorizationHeaderName); v != "" {
		accessToken = auth.BearerToken(v)
	} else {
		accessToken = firstValue(md, common.AccessTokenHeaderName)
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	p, err := auth.ParsePrincipal(accessToken, s.jwtSecret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	ctx = auth.WithPrincipal(ctx, p)
	meta := map[string]string{}
	if v := firstValue(md, requestIDHeader); v != "" {
		meta["requestId"] = v
	}
	if v := firstValue(md, sessionIDHeader); v != "" {
		meta["sessionId"] = v
	}
	ctx = services.WithEventMetadata(ctx, meta)

	return handler(ctx, req)
}

// idempotencyInterceptor replays the recorded response of a mutating call
// retried with the same idempotency key. The key is reserved before the
// handler runs so concurrent retries wait for one execution. Only successful
// responses are recorded, as the exact bytes sent to the client.
func (s *GRPCServer) idempotencyInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if s.guard == nil || !mutatingMethods[info.FullMethod] {
		return handler(ctx, req)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	key := firstValue(md, common.IdempotencyKeyHeaderName)
	p, ok := auth.PrincipalFrom(ctx)
	if key == "" || !ok {
		return handler(ctx, req)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return handler(ctx, req)
	}
	recorded, err := s.guard.Acquire(ctx, key, p, info.FullMethod, body)
	if err != nil {
		return nil, err
	}
	if recorded != nil {
		s.logger.Info(ctx, "replaying recorded response", "method", info.FullMethod)
		return RawJSON(recorded.Body), nil
	}

	resp, err := handler(ctx, req)
	if err != nil {
		s.guard.Release(context.WithoutCancel(ctx), key, p)
		return nil, err
	}
	out, err := json.Marshal(resp)
	if err != nil {
		s.guard.Release(context.WithoutCancel(ctx), key, p)
		return resp, nil
	}
	s.guard.Record(context.WithoutCancel(ctx), key, p, info.FullMethod, body, idempotency.Response{Body: out, StatusCode: int(codes.OK)})
	return RawJSON(out), nil
}
