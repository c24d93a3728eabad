package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/BrandonDHaskell/keyway/internal/keyway/service"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

func TestExpirySweeper_ExpiresOverdueCredentials(t *testing.T) {
	f := newFixture(t, alwaysUnlocks())
	ctx := context.Background()

	short := f.issue(t, types.KindToken, 10)
	used := f.issue(t, types.KindToken, 10)
	long := f.issue(t, types.KindToken, 120)
	if _, err := f.engine.Redeem(ctx, used.Code, "r1"); err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	sw := service.NewExpirySweeper(f.creds, f.audit, service.SweeperConfig{Interval: time.Hour, BatchSize: 1}, silentLogger(), nil)
	sw.Now = func() time.Time { return baseTime.Add(30 * time.Minute) }

	n, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 credential expired, got %d", n)
	}

	if got := f.status(t, short.ID); got != types.StatusExpired {
		t.Errorf("short: expected expired, got %s", got)
	}
	if got := f.status(t, used.ID); got != types.StatusRedeemed {
		t.Errorf("used: expected redeemed, got %s", got)
	}
	if got := f.status(t, long.ID); got != types.StatusIssued {
		t.Errorf("long: expected issued, got %s", got)
	}

	events := f.events.Events()
	last := events[len(events)-1]
	if last.Kind != types.AuditExpired || last.CredentialID != short.ID || last.Metadata.Stage != "sweep" {
		t.Errorf("unexpected sweep event %+v", last)
	}

	// A second pass finds nothing.
	if n, _ := sw.Sweep(ctx); n != 0 {
		t.Errorf("expected idempotent sweep, got %d", n)
	}
}

func TestExpirySweeper_BatchesUntilDrained(t *testing.T) {
	f := newFixture(t, alwaysUnlocks())
	for i := 0; i < 5; i++ {
		f.issue(t, types.KindToken, 1)
	}

	sw := service.NewExpirySweeper(f.creds, f.audit, service.SweeperConfig{Interval: time.Hour, BatchSize: 2}, silentLogger(), nil)
	sw.Now = func() time.Time { return baseTime.Add(time.Hour) }

	n, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 expired across batches, got %d", n)
	}
}

func TestExpirySweeper_DisabledWhenIntervalZero(t *testing.T) {
	f := newFixture(t, alwaysUnlocks())
	sw := service.NewExpirySweeper(f.creds, f.audit, service.SweeperConfig{}, silentLogger(), nil)

	sw.Start(context.Background())
	// Stop should return immediately.
	sw.Stop()
}

func TestExpirySweeper_StopIsIdempotent(t *testing.T) {
	f := newFixture(t, alwaysUnlocks())
	sw := service.NewExpirySweeper(f.creds, f.audit, service.SweeperConfig{Interval: time.Minute}, silentLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	sw.Start(ctx)

	cancel()
	sw.Stop()
	sw.Stop()
}
