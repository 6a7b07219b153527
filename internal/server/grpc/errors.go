package grpc

import (
	"context"
	"errors"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain names the source of ErrorInfo details.
const ErrorDomain = "dashboard.v1"

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return codes.NotFound
	case errors.Is(err, common.ErrorBadRequest):
		return codes.InvalidArgument
	case errors.Is(err, common.ErrorConflict), errors.Is(err, common.ErrVersionConflict), errors.Is(err, common.ErrOverlap):
		return codes.Aborted
	case errors.Is(err, common.ErrorForbidden):
		return codes.PermissionDenied
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		return codes.Unauthenticated
	case errors.Is(err, common.ErrorConnectionLimitExceeded):
		return codes.ResourceExhausted
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	return codes.Internal
}

// toStatus maps a service error onto a gRPC status carrying an ErrorInfo
// with the error code and details. Internal errors keep their text out of
// the response.
func toStatus(err error) *status.Status {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok {
		return st
	}

	code := codeFor(err)
	msg := err.Error()
	if code == codes.Internal {
		msg = "internal error"
	}
	st := status.New(code, msg)

	info := &errdetails.ErrorInfo{Reason: common.CodeOf(err), Domain: ErrorDomain}
	if e, ok := common.AsError(err); ok && len(e.Details) > 0 {
		info.Metadata = e.Details
	}
	if withInfo, derr := st.WithDetails(info); derr == nil {
		st = withInfo
	}
	return st
}

// ErrorInfo extracts the ErrorInfo detail of a status error, if any.
func ErrorInfo(err error) (*errdetails.ErrorInfo, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, false
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info, true
		}
	}
	return nil, false
}
