package service_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/keyway/internal/keyway/actuator"
	"github.com/BrandonDHaskell/keyway/internal/keyway/policy"
	"github.com/BrandonDHaskell/keyway/internal/keyway/service"
	"github.com/BrandonDHaskell/keyway/internal/keyway/store/memory"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

// monday noon, UTC
var baseTime = time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)

var testSecret = []byte("12345678901234567890")

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type renderFunc func(string) (string, error)

func (f renderFunc) Render(token string) (string, error) { return f(token) }

func fakeRenderer() renderFunc {
	return func(token string) (string, error) { return "img:" + token, nil }
}

func openResource(id string) types.Resource {
	return types.Resource{
		ID:                 id,
		Name:               "Studio " + id,
		Address:            "1 Main St",
		LockID:             "lock-" + id,
		Active:             true,
		MaxDurationMinutes: types.MaxDurationMinutes,
		OTPSecret:          testSecret,
	}
}

func alwaysUnlocks() actuator.Actuator {
	return actuator.Func(func(context.Context, string) (actuator.Result, error) {
		return actuator.Result{Success: true}, nil
	})
}

func neverUnlocks() actuator.Actuator {
	return actuator.Func(func(context.Context, string) (actuator.Result, error) {
		return actuator.Result{Success: false, Error: "smart lock communication timeout"}, nil
	})
}

type fixture struct {
	resources *memory.ResourceStore
	creds     *memory.CredentialStore
	events    *memory.AuditStore
	audit     *service.AuditLogger
	issuer    *service.Issuer
	engine    *service.RedemptionEngine
	clock     *testClock
}

func newFixture(t *testing.T, act actuator.Actuator, resources ...types.Resource) *fixture {
	t.Helper()
	if len(resources) == 0 {
		resources = []types.Resource{openResource("r1")}
	}

	f := &fixture{
		resources: memory.NewResourceStore(resources...),
		creds:     memory.NewCredentialStore(),
		events:    memory.NewAuditStore(),
		clock:     &testClock{t: baseTime},
	}
	f.audit = service.NewAuditLogger(f.events, service.AuditLoggerConfig{}, silentLogger(), nil)
	t.Cleanup(f.audit.Close)

	pol := policy.NewTimeWindow(time.UTC)
	f.issuer = service.NewIssuer(f.resources, f.creds, f.audit, pol, fakeRenderer(), nil)
	f.issuer.Now = f.clock.Now
	f.engine = service.NewRedemptionEngine(f.resources, f.creds, f.audit, pol, act,
		service.EngineConfig{ActuatorTimeout: 100 * time.Millisecond}, silentLogger(), nil)
	f.engine.Now = f.clock.Now
	return f
}

func (f *fixture) issue(t *testing.T, kind types.CredentialKind, minutes int) types.IssuedCredential {
	t.Helper()
	ic, _, err := f.issuer.Issue(context.Background(), service.IssueRequest{
		SubjectID:       "alice",
		ResourceID:      "r1",
		Kind:            kind,
		DurationMinutes: minutes,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return ic
}

func (f *fixture) status(t *testing.T, id string) types.CredentialStatus {
	t.Helper()
	c, err := f.creds.GetCredential(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	return c.Status
}

// trail returns audit kinds in append order, denials annotated with
// their reason.
func (f *fixture) trail() []string {
	var out []string
	for _, ev := range f.events.Events() {
		s := string(ev.Kind)
		if ev.Kind == types.AuditDenied {
			s += "(" + ev.Metadata.Reason + ")"
		}
		out = append(out, s)
	}
	return out
}

func assertTrail(t *testing.T, f *fixture, want ...string) {
	t.Helper()
	got := f.trail()
	if len(got) != len(want) {
		t.Fatalf("audit trail = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit trail = %v, want %v", got, want)
		}
	}
}

// failingAuditStore fails the first n appends, then delegates.
type failingAuditStore struct {
	*memory.AuditStore
	mu   sync.Mutex
	left int
}

var errStoreDown = errors.New("store down")

func (s *failingAuditStore) AppendEvent(ctx context.Context, ev types.AuditEvent) error {
	s.mu.Lock()
	if s.left != 0 {
		if s.left > 0 {
			s.left--
		}
		s.mu.Unlock()
		return errStoreDown
	}
	s.mu.Unlock()
	return s.AuditStore.AppendEvent(ctx, ev)
}
