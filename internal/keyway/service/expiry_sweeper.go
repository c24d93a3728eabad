package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/BrandonDHaskell/keyway/internal/keyway/metrics"
	"github.com/BrandonDHaskell/keyway/internal/keyway/store"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

// ExpirySweeper periodically moves issued credentials whose expiry has
// passed to the expired state.  It runs as a background goroutine and is
// safe to stop via its context or the Stop method.
//
// An interval of 0 disables sweeping entirely.
type ExpirySweeper struct {
	creds    store.CredentialStore
	audit    *AuditLogger
	interval time.Duration
	batch    int
	logger   *log.Logger
	metrics  *metrics.Metrics
	cancel   context.CancelFunc
	done     chan struct{}

	// Now is the sweeper's clock. Defaults to time.Now in UTC.
	Now func() time.Time
}

// SweeperConfig holds the parameters for NewExpirySweeper.
type SweeperConfig struct {
	// Interval is how often the sweeper runs. 0 disables it.
	Interval time.Duration

	// BatchSize caps the credentials handled per store round trip.
	// Defaults to 500.
	BatchSize int
}

// NewExpirySweeper creates a sweeper but does not start it.
// Call Start to begin the background loop.
func NewExpirySweeper(cs store.CredentialStore, audit *AuditLogger, cfg SweeperConfig, logger *log.Logger, m *metrics.Metrics) *ExpirySweeper {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	return &ExpirySweeper{
		creds:    cs,
		audit:    audit,
		interval: cfg.Interval,
		batch:    batch,
		logger:   logger,
		metrics:  m,
		done:     make(chan struct{}),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the background loop.  It sweeps immediately, then repeats
// on the configured interval until ctx is cancelled or Stop is called.
func (s *ExpirySweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Printf("expiry sweeper disabled (interval=0)")
		close(s.done)
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)

	go s.loop(ctx)

	s.logger.Printf("expiry sweeper started (interval=%s)", s.interval)
}

// Stop signals the sweeper to exit and waits for it to finish.
func (s *ExpirySweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *ExpirySweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *ExpirySweeper) sweepAndLog(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Printf("expiry sweep error: %v", err)
	}
	if n > 0 {
		s.logger.Printf("expiry sweep: expired %d credentials", n)
	}
}

// Sweep expires every overdue issued credential and reports how many it
// moved. Credentials consumed concurrently are skipped.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	now := s.Now()
	total := 0

	for {
		due, err := s.creds.ListExpirable(ctx, now, s.batch)
		if err != nil {
			return total, err
		}

		moved := 0
		for _, c := range due {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			if _, err := s.creds.Transition(ctx, c.ID, types.StatusIssued, types.StatusExpired, now); err != nil {
				if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
					continue
				}
				return total, err
			}
			moved++
			total++
			s.metrics.AddSwept(1)
			s.audit.Append(ctx, types.AuditEvent{
				CredentialID: c.ID,
				SubjectID:    c.SubjectID,
				ResourceID:   c.ResourceID,
				Kind:         types.AuditExpired,
				Timestamp:    now,
				Metadata:     types.AuditMetadata{Kind: c.Kind, Stage: "sweep"},
			})
		}

		if len(due) < s.batch || moved == 0 {
			return total, nil
		}
	}
}
