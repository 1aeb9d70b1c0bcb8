package grpccas

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/cadstore/model"
	"xdao.co/cadstore/storage"
)

// mapErr converts a storage error into a gRPC status for the wire.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	switch model.KindOf(err) {
	case model.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case model.KindInvalidCID:
		return status.Error(codes.InvalidArgument, err.Error())
	case model.KindInvalidInput:
		return status.Error(codes.FailedPrecondition, err.Error())
	case model.KindCorruption:
		// DataLoss: bytes do not match the requested key.
		return status.Error(codes.DataLoss, err.Error())
	case model.KindIO:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// mapRPC converts a gRPC status back into the storage sentinels.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return model.Wrap(model.KindIO, "grpccas", err)
	}

	switch st.Code() {
	case codes.NotFound:
		return storage.ErrNotFound
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", storage.ErrInvalidKey, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", storage.ErrKeyMismatch, st.Message())
	case codes.DataLoss:
		return fmt.Errorf("%w: %s", storage.ErrCorrupted, st.Message())
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.Unavailable:
		return model.Wrap(model.KindIO, "grpccas: "+st.Message(), err)
	default:
		return model.Wrap(model.KindInternal, "grpccas: "+st.Message(), err)
	}
}
