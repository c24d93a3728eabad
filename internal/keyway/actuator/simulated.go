package actuator

import (
	"context"
	"math/rand/v2"
	"time"
)

// Simulated stands in for a smart lock: it waits Latency, then succeeds
// with probability SuccessRate.
type Simulated struct {
	Latency     time.Duration
	SuccessRate float64

	// Roll returns a value in [0,1). Defaults to math/rand/v2.
	Roll func() float64
}

// NewSimulated returns a simulator with the given latency and success
// rate. A rate outside [0,1] is clamped.
func NewSimulated(latency time.Duration, successRate float64) *Simulated {
	if successRate < 0 {
		successRate = 0
	}
	if successRate > 1 {
		successRate = 1
	}
	return &Simulated{Latency: latency, SuccessRate: successRate}
}

func (s *Simulated) Unlock(ctx context.Context, _ string) (Result, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return Result{}, ErrTimeout
			}
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	roll := s.Roll
	if roll == nil {
		roll = rand.Float64
	}
	if roll() >= s.SuccessRate {
		return Result{Success: false, Error: "smart lock communication timeout"}, nil
	}
	return Result{Success: true}, nil
}
