package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/keyway/internal/keyway/store"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

// CredentialStore keeps credentials in a map guarded by one mutex. The
// mutex makes Transition a compare-and-set.
type CredentialStore struct {
	mu    sync.Mutex
	creds map[string]types.Credential
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]types.Credential)}
}

func (s *CredentialStore) CreateCredential(_ context.Context, c types.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.creds[c.ID]; exists {
		return fmt.Errorf("credential %s exists: %w", c.ID, store.ErrConflict)
	}
	s.creds[c.ID] = cloneCredential(c)
	return nil
}

func (s *CredentialStore) GetCredential(_ context.Context, id string) (types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return types.Credential{}, store.ErrNotFound
	}
	return cloneCredential(c), nil
}

func (s *CredentialStore) FindByCode(_ context.Context, resourceID string, digest []byte) (types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  types.Credential
		found bool
	)
	for _, c := range s.creds {
		if c.ResourceID != resourceID || !bytes.Equal(c.CodeDigest, digest) {
			continue
		}
		if !found || preferForRedemption(c, best) {
			best, found = c, true
		}
	}
	if !found {
		return types.Credential{}, store.ErrNotFound
	}
	return cloneCredential(best), nil
}

// preferForRedemption orders issued before anything else, then newest.
func preferForRedemption(a, b types.Credential) bool {
	ai, bi := a.Status == types.StatusIssued, b.Status == types.StatusIssued
	if ai != bi {
		return ai
	}
	return a.IssuedAt.After(b.IssuedAt)
}

func (s *CredentialStore) ListCredentials(_ context.Context, f types.CredentialFilter) ([]types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Credential, 0)
	for _, c := range s.creds {
		if f.SubjectID != "" && c.SubjectID != f.SubjectID {
			continue
		}
		if f.ResourceID != "" && c.ResourceID != f.ResourceID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, cloneCredential(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (s *CredentialStore) Transition(_ context.Context, id string, from, to types.CredentialStatus, at time.Time) (types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[id]
	if !ok {
		return types.Credential{}, store.ErrNotFound
	}
	if c.Status != from {
		return cloneCredential(c), store.ErrConflict
	}
	c.Status = to
	if to == types.StatusRedeemed {
		t := at.UTC()
		c.RedeemedAt = &t
	}
	s.creds[id] = c
	return cloneCredential(c), nil
}

func (s *CredentialStore) ListExpirable(_ context.Context, now time.Time, limit int) ([]types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Credential, 0)
	for _, c := range s.creds {
		if c.Status == types.StatusIssued && c.ExpiresAt.Before(now) {
			out = append(out, cloneCredential(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneCredential(c types.Credential) types.Credential {
	if c.CodeDigest != nil {
		c.CodeDigest = append([]byte(nil), c.CodeDigest...)
	}
	if c.RedeemedAt != nil {
		t := *c.RedeemedAt
		c.RedeemedAt = &t
	}
	return c
}
