package rpc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"drivegate/pkg/errs"
)

// ErrorTrailer carries the gateway error code of a failed call.
const ErrorTrailer = "x-drivegate-error"

// statusCode maps an error to the closest gRPC status code.
func statusCode(err error) codes.Code {
	switch errs.Code(err) {
	case errs.CodeInvalidURL, errs.CodeInvalidPath:
		return codes.InvalidArgument
	case errs.CodeProtectedFile, errs.CodePermissions, errs.CodeUserDenied:
		return codes.PermissionDenied
	case errs.CodeArchiveNotWritable:
		return codes.FailedPrecondition
	case errs.CodeQuotaExceeded:
		return codes.ResourceExhausted
	case errs.CodeTimeout:
		return codes.DeadlineExceeded
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return codes.NotFound
	case errors.Is(err, fs.ErrExist):
		return codes.AlreadyExists
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	return codes.Unknown
}

// errorTrailer returns the trailer naming err's gateway code, or nil for
// errors without one.
func errorTrailer(err error) metadata.MD {
	if _, ok := errs.Lookup(string(errs.Code(err))); !ok {
		return nil
	}
	return metadata.Pairs(ErrorTrailer, string(errs.Code(err)))
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(statusCode(err), err.Error())
}

// fromStatus rebuilds a gateway error from a call's status and trailer.
func fromStatus(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if code, ok := errs.Lookup(first(trailer.Get(ErrorTrailer))); ok {
		return errs.New(code, st.Message())
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), fs.ErrNotExist)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", st.Message(), fs.ErrExist)
	}
	return err
}
