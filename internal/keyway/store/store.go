package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

// Error contract for every store implementation:
//   - ErrNotFound when the requested row does not exist
//   - ErrConflict when a conditional update's precondition does not hold
//   - any other error is an infrastructure failure
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("precondition failed")
)

// ResourceStore reads and provisions lockable spaces.
type ResourceStore interface {
	GetResource(ctx context.Context, id string) (types.Resource, error)
	PutResource(ctx context.Context, r types.Resource) error
}

// CredentialStore persists credentials. Credentials are never deleted.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c types.Credential) error
	GetCredential(ctx context.Context, id string) (types.Credential, error)

	// FindByCode returns the credential for resourceID whose code digest
	// matches. When several match, an issued one wins, newest first.
	FindByCode(ctx context.Context, resourceID string, digest []byte) (types.Credential, error)

	// ListCredentials returns the filter's credentials, newest first.
	ListCredentials(ctx context.Context, f types.CredentialFilter) ([]types.Credential, error)

	// Transition moves credential id from `from` to `to` as one atomic
	// conditional write. It returns ErrConflict if the stored status is not
	// `from`, leaving the row untouched. at is recorded as redeemed_at when
	// to is StatusRedeemed.
	Transition(ctx context.Context, id string, from, to types.CredentialStatus, at time.Time) (types.Credential, error)

	// ListExpirable returns up to limit issued credentials whose expiry is
	// before now.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]types.Credential, error)
}

// AuditStore is the append-only audit log.
type AuditStore interface {
	AppendEvent(ctx context.Context, ev types.AuditEvent) error
	// QueryEvents returns matching events ordered by timestamp descending.
	QueryEvents(ctx context.Context, f types.AuditFilter) ([]types.AuditEvent, error)
}
