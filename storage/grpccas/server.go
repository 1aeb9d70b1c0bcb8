package grpccas

import (
	"context"

	"github.com/multiformats/go-multihash"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/cadstore/storage"
)

// Server exposes a storage.BlockStore over the BlockStore gRPC service.
type Server struct {
	UnimplementedBlockStoreServer
	Store storage.BlockStore
}

func (s *Server) ready() error {
	if s == nil || s.Store == nil {
		return status.Error(codes.FailedPrecondition, "missing block store")
	}
	return nil
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get(KeyMetadata)
	if len(vals) != 1 {
		return nil, status.Error(codes.InvalidArgument, "missing "+KeyMetadata+" metadata")
	}
	// The store enforces the key contract (well-formed, matches data).
	if err := s.Store.Put(ctx, multihash.Multihash(vals[0]), in.GetValue()); err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bool(true), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	b, err := s.Store.Get(ctx, multihash.Multihash(in.GetValue()))
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ok, err := s.Store.Has(ctx, multihash.Multihash(in.GetValue()))
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bool(ok), nil
}

func (s *Server) Delete(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.Store.Delete(ctx, multihash.Multihash(in.GetValue())); err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bool(true), nil
}
