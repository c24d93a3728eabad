// Package actuator talks to the physical locks behind resources.
package actuator

import (
	"context"
	"errors"
)

// ErrTimeout is returned when a lock does not answer in time. Callers
// treat it exactly like an explicit failure.
var ErrTimeout = errors.New("lock actuator timeout")

// ErrUnavailable wraps transport failures reaching the lock service.
var ErrUnavailable = errors.New("lock actuator unavailable")

// Result is the lock's answer to one unlock command.
type Result struct {
	Success bool
	Error   string
}

// Actuator performs a single unlock of the lock identified by lockID.
// Implementations must honour ctx's deadline; no retry is implied.
type Actuator interface {
	Unlock(ctx context.Context, lockID string) (Result, error)
}

// Func adapts a plain function to Actuator. Handy in tests.
type Func func(ctx context.Context, lockID string) (Result, error)

func (f Func) Unlock(ctx context.Context, lockID string) (Result, error) {
	return f(ctx, lockID)
}
