// Package rediscache puts a short-TTL Redis cache in front of a
// ResourceStore. Resources are read on every issue and redeem but change
// rarely.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BrandonDHaskell/keyway/internal/keyway/store"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

const DefaultTTL = 30 * time.Second

// cachedResource carries the OTP secret, which types.Resource hides from
// JSON.
type cachedResource struct {
	types.Resource
	Secret []byte `json:"otpSecret,omitempty"`
}

// ResourceStore is a read-through cache. Redis errors fall through to the
// underlying store; they are logged, never returned.
type ResourceStore struct {
	next   store.ResourceStore
	redis  redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *log.Logger
}

func NewResourceStore(next store.ResourceStore, rdb redis.Cmdable, ttl time.Duration, logger *log.Logger) *ResourceStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResourceStore{
		next:   next,
		redis:  rdb,
		ttl:    ttl,
		prefix: "keyway:resource:",
		logger: logger,
	}
}

func (s *ResourceStore) key(id string) string {
	return s.prefix + id
}

func (s *ResourceStore) GetResource(ctx context.Context, id string) (types.Resource, error) {
	raw, err := s.redis.Get(ctx, s.key(id)).Bytes()
	switch {
	case err == nil:
		var c cachedResource
		if jerr := json.Unmarshal(raw, &c); jerr == nil {
			c.Resource.OTPSecret = c.Secret
			return c.Resource, nil
		}
		s.logger.Printf("resource cache: corrupt entry %s, refetching", id)
	case !errors.Is(err, redis.Nil):
		s.logger.Printf("resource cache: get %s: %v", id, err)
	}

	r, err := s.next.GetResource(ctx, id)
	if err != nil {
		return types.Resource{}, err
	}

	b, err := json.Marshal(cachedResource{Resource: r, Secret: r.OTPSecret})
	if err == nil {
		err = s.redis.Set(ctx, s.key(id), b, s.ttl).Err()
	}
	if err != nil {
		s.logger.Printf("resource cache: set %s: %v", id, err)
	}
	return r, nil
}

// PutResource writes through and drops the cached copy.
func (s *ResourceStore) PutResource(ctx context.Context, r types.Resource) error {
	if err := s.next.PutResource(ctx, r); err != nil {
		return err
	}
	if err := s.redis.Del(ctx, s.key(r.ID)).Err(); err != nil {
		s.logger.Printf("resource cache: invalidate %s: %v", r.ID, err)
	}
	return nil
}
