package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/keyway/internal/keyway/store"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

// ResourceStore keeps resources in a map. Intended for tests and dev.
type ResourceStore struct {
	mu        sync.RWMutex
	resources map[string]types.Resource
}

func NewResourceStore(seed ...types.Resource) *ResourceStore {
	s := &ResourceStore{resources: make(map[string]types.Resource, len(seed))}
	for _, r := range seed {
		s.resources[r.ID] = cloneResource(r)
	}
	return s
}

func (s *ResourceStore) GetResource(_ context.Context, id string) (types.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[strings.TrimSpace(id)]
	if !ok {
		return types.Resource{}, store.ErrNotFound
	}
	return cloneResource(r), nil
}

func (s *ResourceStore) PutResource(_ context.Context, r types.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.ID] = cloneResource(r)
	return nil
}

func cloneResource(r types.Resource) types.Resource {
	if r.OTPSecret != nil {
		r.OTPSecret = append([]byte(nil), r.OTPSecret...)
	}
	for d, w := range r.OperatingHours {
		if w != nil {
			cp := *w
			r.OperatingHours[d] = &cp
		}
	}
	return r
}
