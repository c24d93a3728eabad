package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

// AuditStore is an in-memory append-only log of audit events.
// It is intended for use in tests and dev environments.
type AuditStore struct {
	mu     sync.Mutex
	events []types.AuditEvent
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) AppendEvent(_ context.Context, ev types.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *AuditStore) QueryEvents(_ context.Context, f types.AuditFilter) ([]types.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.AuditEvent, 0)
	// Walk newest-appended first so equal timestamps keep reverse append order.
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if f.SubjectID != "" && ev.SubjectID != f.SubjectID {
			continue
		}
		if f.ResourceID != "" && ev.ResourceID != f.ResourceID {
			continue
		}
		if f.CredentialID != "" && ev.CredentialID != f.CredentialID {
			continue
		}
		if f.Kind != "" && ev.Kind != f.Kind {
			continue
		}
		if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Events returns a copy of all recorded events in append order.  Test-only helper.
func (s *AuditStore) Events() []types.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}
