package actuator_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/BrandonDHaskell/keyway/internal/keyway/actuator"
)

// startLockServer serves a over an in-process listener and returns a
// client connected to it.
func startLockServer(t *testing.T, a actuator.Actuator) *actuator.Client {
	t.Helper()

	lis := bufconn.Listen(1 << 16)
	srv := grpc.NewServer()
	actuator.RegisterLockServer(srv, a)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := actuator.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_UnlockRoundTrip(t *testing.T) {
	var gotLock string
	c := startLockServer(t, actuator.Func(func(_ context.Context, lockID string) (actuator.Result, error) {
		gotLock = lockID
		return actuator.Result{Success: true}, nil
	}))

	res, err := c.Unlock(context.Background(), "lock-demo-001")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if !res.Success {
		t.Errorf("expected success, got %+v", res)
	}
	if gotLock != "lock-demo-001" {
		t.Errorf("server saw lock_id=%q", gotLock)
	}
}

func TestClient_UnlockReportsLockFailure(t *testing.T) {
	c := startLockServer(t, actuator.Func(func(context.Context, string) (actuator.Result, error) {
		return actuator.Result{Success: false, Error: "jammed"}, nil
	}))

	res, err := c.Unlock(context.Background(), "lock-1")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if res.Success || res.Error != "jammed" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestClient_UnlockDeadline(t *testing.T) {
	c := startLockServer(t, actuator.NewSimulated(time.Second, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Unlock(ctx, "lock-1")
	if !errors.Is(err, actuator.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	c := startLockServer(t, actuator.Func(func(context.Context, string) (actuator.Result, error) {
		return actuator.Result{}, errors.New("gateway offline")
	}))

	_, err := c.Unlock(context.Background(), "lock-1")
	if !errors.Is(err, actuator.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClient_EmptyLockIDRejected(t *testing.T) {
	c := startLockServer(t, actuator.Func(func(context.Context, string) (actuator.Result, error) {
		t.Error("actuator must not be called for an empty lock id")
		return actuator.Result{}, nil
	}))

	if _, err := c.Unlock(context.Background(), " "); !errors.Is(err, actuator.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for InvalidArgument, got %v", err)
	}
}
