package grpcserver

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/bloodlink/internal/errs"
)

// toStatus maps a service error onto a gRPC status. The message starts with
// the taxonomy code and, for denials, the reason: "CODE[:REASON]: detail".
// Internal errors are not described to the caller.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := errs.Code(err)
	prefix := code
	var denied *errs.DeniedError
	if errors.As(err, &denied) {
		prefix += ":" + denied.Reason
	}

	var gc codes.Code
	switch {
	case code == errs.CodeValidation:
		gc = codes.InvalidArgument
	case code == errs.CodeNotFound:
		gc = codes.NotFound
	case code == errs.CodeNotActive:
		gc = codes.FailedPrecondition
	case errors.Is(err, errs.ErrUnauthorized):
		gc = codes.Unauthenticated
	case code == errs.CodeAuthorization:
		gc = codes.PermissionDenied
	case code == errs.CodeRateLimit:
		gc = codes.ResourceExhausted
	case errors.Is(err, errs.ErrAlreadyExists):
		gc = codes.AlreadyExists
	case code == errs.CodeConflict:
		gc = codes.Aborted
	default:
		return status.Error(codes.Internal, errs.CodeInternal+": internal")
	}
	return status.Error(gc, prefix+": "+err.Error())
}
