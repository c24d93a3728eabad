package actuator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// The lock service speaks google.protobuf.Struct in both directions:
//
//	request:  {"lock_id": "<id>"}
//	response: {"success": bool, "error": "<text>"}
const (
	ServiceName  = "keyway.lock.v1.LockService"
	UnlockMethod = "/" + ServiceName + "/Unlock"
)

// Client is an Actuator backed by a remote lock service over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for addr. Extra options are appended after the
// default insecure transport credentials.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("actuator: connect %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Unlock(ctx context.Context, lockID string) (Result, error) {
	req, err := structpb.NewStruct(map[string]any{"lock_id": lockID})
	if err != nil {
		return Result{}, fmt.Errorf("actuator: build request: %w", err)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, UnlockMethod, req, resp); err != nil {
		return Result{}, mapGRPCError(err)
	}

	f := resp.GetFields()
	return Result{
		Success: f["success"].GetBoolValue(),
		Error:   f["error"].GetStringValue(),
	}, nil
}

func mapGRPCError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return ErrTimeout
	case codes.Canceled:
		return context.Canceled
	default:
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, st.Code(), st.Message())
	}
}

// RegisterLockServer exposes a as the lock service on s.
func RegisterLockServer(s grpc.ServiceRegistrar, a Actuator) {
	s.RegisterService(&lockServiceDesc, a)
}

var lockServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Actuator)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Unlock", Handler: unlockHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keyway/lock/v1/lock.proto",
}

func unlockHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handle := func(ctx context.Context, req any) (any, error) {
		return serveUnlock(ctx, srv.(Actuator), req.(*structpb.Struct))
	}
	if interceptor == nil {
		return handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: UnlockMethod}
	return interceptor(ctx, in, info, handle)
}

func serveUnlock(ctx context.Context, a Actuator, in *structpb.Struct) (*structpb.Struct, error) {
	lockID := strings.TrimSpace(in.GetFields()["lock_id"].GetStringValue())
	if lockID == "" {
		return nil, status.Error(codes.InvalidArgument, "lock_id is required")
	}

	res, err := a.Unlock(ctx, lockID)
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return nil, status.Error(codes.DeadlineExceeded, err.Error())
	case err != nil:
		return nil, status.Error(codes.Unavailable, err.Error())
	}

	return structpb.NewStruct(map[string]any{
		"success": res.Success,
		"error":   res.Error,
	})
}
