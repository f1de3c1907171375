// Package grpcserver exposes the harvest trigger API over gRPC.
package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/oaimirror/internal/convert"
	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/model"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "oaimirror.v1.Harvest"

// Method names.
const (
	MethodSynchronize          = "Synchronize"
	MethodSynchronizeSets      = "SynchronizeSets"
	MethodSynchronizeFormats   = "SynchronizeFormats"
	MethodCleanupExpiredTokens = "CleanupExpiredTokens"
)

// Harvest is the core the trigger API drives.
type Harvest interface {
	Synchronize(ctx context.Context, sourceID string) (*model.SyncResult, error)
	SynchronizeSets(ctx context.Context, sourceID string) (*model.ListResult, error)
	SynchronizeFormats(ctx context.Context, sourceID string) (*model.ListResult, error)
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// HarvestServer is the server side of the trigger API.
type HarvestServer interface {
	Synchronize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SynchronizeSets(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SynchronizeFormats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CleanupExpiredTokens(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// HarvestServiceDesc describes the trigger API. Requests and responses are
// google.protobuf.Struct messages.
var HarvestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HarvestServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodSynchronize, HarvestServer.Synchronize),
		unary(MethodSynchronizeSets, HarvestServer.SynchronizeSets),
		unary(MethodSynchronizeFormats, HarvestServer.SynchronizeFormats),
		unary(MethodCleanupExpiredTokens, HarvestServer.CleanupExpiredTokens),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "oaimirror/v1/harvest.proto",
}

type structMethod func(HarvestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call structMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(HarvestServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(HarvestServer), ctx, req.(*structpb.Struct))
			}
			return ic(ctx, in, info, handler)
		},
	}
}

// Register installs the trigger API on gs.
func Register(gs grpc.ServiceRegistrar, srv HarvestServer) {
	gs.RegisterService(&HarvestServiceDesc, srv)
}

// Server wires the harvest core into gRPC handlers.
type Server struct {
	harvest Harvest
}

var _ HarvestServer = (*Server)(nil)

// New constructs a gRPC server over the harvest core.
func New(h Harvest) *Server {
	return &Server{harvest: h}
}

// Synchronize runs one incremental pass for a source.
func (s *Server) Synchronize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.FromProtoSourceRequest(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	res, err := s.harvest.Synchronize(ctx, id)
	if err != nil {
		return nil, toStatus("synchronize", err)
	}
	return convert.ToProtoSyncResult(*res), nil
}

// SynchronizeSets refreshes the set hierarchy of a source.
func (s *Server) SynchronizeSets(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.FromProtoSourceRequest(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	res, err := s.harvest.SynchronizeSets(ctx, id)
	if err != nil {
		return nil, toStatus("synchronize sets", err)
	}
	return convert.ToProtoListResult(*res), nil
}

// SynchronizeFormats refreshes the metadata formats advertised by a source.
func (s *Server) SynchronizeFormats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.FromProtoSourceRequest(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	res, err := s.harvest.SynchronizeFormats(ctx, id)
	if err != nil {
		return nil, toStatus("synchronize formats", err)
	}
	return convert.ToProtoListResult(*res), nil
}

// CleanupExpiredTokens purges expired resumption tokens.
func (s *Server) CleanupExpiredTokens(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.harvest.CleanupExpiredTokens(ctx)
	if err != nil {
		return nil, toStatus("cleanup", err)
	}
	return convert.ToProtoCleanupResult(n), nil
}

// toStatus maps domain sentinels to gRPC codes.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Errorf(codes.ResourceExhausted, "%s: %v", op, err)
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "no auth")
	case errors.Is(err, errs.ErrWatermarkConflict):
		return status.Errorf(codes.Aborted, "%s: %v", op, err)
	case errors.Is(err, errs.ErrTransient):
		return status.Errorf(codes.Unavailable, "%s: %v", op, err)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
