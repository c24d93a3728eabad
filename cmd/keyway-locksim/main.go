// Command keyway-locksim serves the lock service over gRPC, backed by the
// simulated actuator. It stands in for a lock gateway during development.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/BrandonDHaskell/keyway/internal/keyway/actuator"
)

func main() {
	logger := log.New(os.Stdout, "keyway-locksim ", log.LstdFlags|log.LUTC)

	fs := pflag.NewFlagSet("keyway-locksim", pflag.ExitOnError)
	addr := fs.String("addr", ":9090", "gRPC listen address")
	latency := fs.Duration("latency", 200*time.Millisecond, "simulated unlock latency")
	rate := fs.Float64("success-rate", 0.95, "fraction of unlocks that succeed")
	_ = fs.Parse(os.Args[1:])

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatalf("listen %s: %v", *addr, err)
	}

	srv := grpc.NewServer()
	actuator.RegisterLockServer(srv, actuator.NewSimulated(*latency, *rate))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Printf("listening on %s (latency=%s, success=%.2f)", *addr, *latency, *rate)
		if err := srv.Serve(lis); err != nil {
			logger.Printf("serve error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	srv.GracefulStop()
}
