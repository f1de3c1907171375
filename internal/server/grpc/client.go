package grpcserver

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/oaimirror/internal/convert"
	"github.com/and161185/oaimirror/internal/errs"
	"github.com/and161185/oaimirror/internal/model"
)

// Client calls the trigger API. It implements Harvest.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

var _ Harvest = (*Client)(nil)

// NewClient wraps a connection. A non-empty token is sent as a bearer credential.
func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

// Synchronize triggers an incremental pass.
func (c *Client) Synchronize(ctx context.Context, sourceID string) (*model.SyncResult, error) {
	out, err := c.invoke(ctx, MethodSynchronize, convert.ToProtoSourceRequest(sourceID))
	if err != nil {
		return nil, err
	}
	res, err := convert.FromProtoSyncResult(out)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// SynchronizeSets triggers a set listing pass.
func (c *Client) SynchronizeSets(ctx context.Context, sourceID string) (*model.ListResult, error) {
	return c.list(ctx, MethodSynchronizeSets, sourceID)
}

// SynchronizeFormats triggers a format listing pass.
func (c *Client) SynchronizeFormats(ctx context.Context, sourceID string) (*model.ListResult, error) {
	return c.list(ctx, MethodSynchronizeFormats, sourceID)
}

// CleanupExpiredTokens triggers the token sweep.
func (c *Client) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	out, err := c.invoke(ctx, MethodCleanupExpiredTokens, &structpb.Struct{})
	if err != nil {
		return 0, err
	}
	return convert.FromProtoCleanupResult(out), nil
}

func (c *Client) list(ctx context.Context, method, sourceID string) (*model.ListResult, error) {
	out, err := c.invoke(ctx, method, convert.ToProtoSourceRequest(sourceID))
	if err != nil {
		return nil, err
	}
	res, err := convert.FromProtoListResult(out)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

// fromStatus maps gRPC codes back to domain sentinels.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = errs.ErrNotFound
	case codes.ResourceExhausted:
		sentinel = errs.ErrRateLimited
	case codes.Unauthenticated:
		sentinel = errs.ErrUnauthorized
	case codes.Aborted:
		sentinel = errs.ErrWatermarkConflict
	case codes.Unavailable:
		sentinel = errs.ErrTransient
	default:
		return err
	}
	return fmt.Errorf("%s: %w", st.Message(), sentinel)
}
