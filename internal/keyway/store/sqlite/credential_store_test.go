package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BrandonDHaskell/keyway/internal/keyway/store"
	sqlitestore "github.com/BrandonDHaskell/keyway/internal/keyway/store/sqlite"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

type credFixture struct {
	resources *sqlitestore.ResourceStore
	creds     *sqlitestore.CredentialStore
}

func newCredFixture(t *testing.T) credFixture {
	t.Helper()
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	f := credFixture{
		resources: sqlitestore.NewResourceStore(conn, w),
		creds:     sqlitestore.NewCredentialStore(conn, w),
	}
	seedResource(t, f.resources, "r1")
	return f
}

func newCred(id, subject, code string, issued time.Time) types.Credential {
	return types.Credential{
		ID:              id,
		SubjectID:       subject,
		ResourceID:      "r1",
		Kind:            types.KindToken,
		Token:           code,
		CodeDigest:      types.CodeDigest(code),
		DurationMinutes: 60,
		Status:          types.StatusIssued,
		IssuedAt:        issued,
		ExpiresAt:       issued.Add(60 * time.Minute),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Create / Get / FindByCode
// ═══════════════════════════════════════════════════════════════════════════

func TestCredentialStore_CreateThenFindByCode(t *testing.T) {
	f := newCredFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

	if err := f.creds.CreateCredential(ctx, newCred("c1", "alice", "tok-1", now)); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}

	got, err := f.creds.FindByCode(ctx, "r1", types.CodeDigest("tok-1"))
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if got.ID != "c1" || got.SubjectID != "alice" || got.Token != "tok-1" {
		t.Errorf("unexpected credential %+v", got)
	}
	if got.Status != types.StatusIssued {
		t.Errorf("expected status issued, got %s", got.Status)
	}
	if !got.IssuedAt.Equal(now) || !got.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("unexpected times issued=%v expires=%v", got.IssuedAt, got.ExpiresAt)
	}
	if got.RedeemedAt != nil {
		t.Error("expected redeemed_at to be NULL")
	}
}

func TestCredentialStore_FindByCode_WrongResource(t *testing.T) {
	f := newCredFixture(t)
	ctx := context.Background()
	seedResource(t, f.resources, "r2")

	if err := f.creds.CreateCredential(ctx, newCred("c1", "alice", "tok-1", time.Now().UTC())); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}
	_, err := f.creds.FindByCode(ctx, "r2", types.CodeDigest("tok-1"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another resource, got %v", err)
	}
}

func TestCredentialStore_FindByCode_PrefersIssuedThenNewest(t *testing.T) {
	f := newCredFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

	// Three credentials sharing one code, as OTPs issued in one step do.
	for i, id := range []string{"old", "mid", "new"} {
		c := newCred(id, "alice", "123456", base.Add(time.Duration(i)*time.Second))
		if err := f.creds.CreateCredential(ctx, c); err != nil {
			t.Fatalf("CreateCredential %s: %v", id, err)
		}
	}
	if _, err := f.creds.Transition(ctx, "new", types.StatusIssued, types.StatusRedeemed, base); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	got, err := f.creds.FindByCode(ctx, "r1", types.CodeDigest("123456"))
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if got.ID != "mid" {
		t.Errorf("expected newest issued credential 'mid', got %q", got.ID)
	}
}

func TestCredentialStore_CreateCredential_UnknownResourceRejected(t *testing.T) {
	f := newCredFixture(t)
	c := newCred("c1", "alice", "tok", time.Now().UTC())
	c.ResourceID = "ghost"

	if err := f.creds.CreateCredential(context.Background(), c); err == nil {
		t.Fatal("expected FK violation for unknown resource")
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Transition (conditional update)
// ═══════════════════════════════════════════════════════════════════════════

func TestCredentialStore_Transition_SetsRedeemedAt(t *testing.T) {
	f := newCredFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	if err := f.creds.CreateCredential(ctx, newCred("c1", "alice", "tok", now)); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}

	at := now.Add(5 * time.Minute)
	got, err := f.creds.Transition(ctx, "c1", types.StatusIssued, types.StatusRedeemed, at)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.Status != types.StatusRedeemed {
		t.Errorf("expected redeemed, got %s", got.Status)
	}
	if got.RedeemedAt == nil || !got.RedeemedAt.Equal(at) {
		t.Errorf("expected redeemed_at=%v, got %v", at, got.RedeemedAt)
	}
}

func TestCredentialStore_Transition_ConflictLeavesRowUntouched(t *testing.T) {
	f := newCredFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := f.creds.CreateCredential(ctx, newCred("c1", "alice", "tok", now)); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}
	if _, err := f.creds.Transition(ctx, "c1", types.StatusIssued, types.StatusRedeemed, now); err != nil {
		t.Fatalf("first Transition: %v", err)
	}

	got, err := f.creds.Transition(ctx, "c1", types.StatusIssued, types.StatusExpired, now)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got.Status != types.StatusRedeemed {
		t.Errorf("expected current status redeemed returned, got %s", got.Status)
	}
}

func TestCredentialStore_Transition_NotFound(t *testing.T) {
	f := newCredFixture(t)
	_, err := f.creds.Transition(context.Background(), "nope", types.StatusIssued, types.StatusRedeemed, time.Now())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCredentialStore_Transition_ConcurrentSingleWinner(t *testing.T) {
	f := newCredFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := f.creds.CreateCredential(ctx, newCred("c1", "alice", "tok", now)); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}

	const attempts = 16
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.creds.Transition(ctx, "c1", types.StatusIssued, types.StatusRedeemed, now)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, store.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins.Load())
	}
	if conflicts.Load() != attempts-1 {
		t.Errorf("expected %d conflicts, got %d", attempts-1, conflicts.Load())
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Listing
// ═══════════════════════════════════════════════════════════════════════════

func TestCredentialStore_ListCredentials_FiltersNewestFirst(t *testing.T) {
	f := newCredFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a1", "a2", "a3"} {
		if err := f.creds.CreateCredential(ctx, newCred(id, "alice", "tok-"+id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("CreateCredential %s: %v", id, err)
		}
	}
	if err := f.creds.CreateCredential(ctx, newCred("b1", "bob", "tok-b1", base)); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}
	if _, err := f.creds.Transition(ctx, "a2", types.StatusIssued, types.StatusRedeemed, base); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	all, err := f.creds.ListCredentials(ctx, types.CredentialFilter{SubjectID: "alice"})
	if err != nil {
		t.Fatalf("ListCredentials: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a3" || all[2].ID != "a1" {
		t.Fatalf("expected a3,a2,a1 got %+v", ids(all))
	}

	issued, err := f.creds.ListCredentials(ctx, types.CredentialFilter{SubjectID: "alice", Status: types.StatusIssued})
	if err != nil {
		t.Fatalf("ListCredentials issued: %v", err)
	}
	if len(issued) != 2 {
		t.Errorf("expected 2 issued credentials, got %v", ids(issued))
	}
}

func TestCredentialStore_ListExpirable(t *testing.T) {
	f := newCredFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

	stale := newCred("stale", "alice", "s", now.Add(-2*time.Hour))
	fresh := newCred("fresh", "alice", "f", now)
	used := newCred("used", "alice", "u", now.Add(-3*time.Hour))
	for _, c := range []types.Credential{stale, fresh, used} {
		if err := f.creds.CreateCredential(ctx, c); err != nil {
			t.Fatalf("CreateCredential %s: %v", c.ID, err)
		}
	}
	if _, err := f.creds.Transition(ctx, "used", types.StatusIssued, types.StatusRedeemed, now); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	got, err := f.creds.ListExpirable(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpirable: %v", err)
	}
	if len(got) != 1 || got[0].ID != "stale" {
		t.Fatalf("expected only 'stale', got %v", ids(got))
	}
}

func ids(cs []types.Credential) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
