package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/keyway/internal/keyway/metrics"
	"github.com/BrandonDHaskell/keyway/internal/keyway/store"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 1000
)

// AuditLoggerConfig tunes the retry queue behind AuditLogger.
type AuditLoggerConfig struct {
	// QueueSize bounds how many failed writes wait for retry. Default 1024.
	QueueSize int

	// MaxAttempts is the number of retries per event before it is dropped.
	// Default 5.
	MaxAttempts int

	// RetryBackoff is the first retry delay; it doubles per attempt up to
	// 30s. Default 250ms.
	RetryBackoff time.Duration

	// WriteTimeout bounds a single store write. Default 2s.
	WriteTimeout time.Duration
}

type pendingEvent struct {
	ev       types.AuditEvent
	attempts int
}

// AuditLogger appends audit events without ever failing the caller.
// Writes are attempted synchronously; a failed write is queued and
// retried in the background until it succeeds, runs out of attempts or
// the queue overflows. Every loss is logged.
type AuditLogger struct {
	store   store.AuditStore
	cfg     AuditLoggerConfig
	logger  *log.Logger
	metrics *metrics.Metrics

	queue chan pendingEvent
	done  chan struct{}
	wg    sync.WaitGroup

	// mu orders enqueues before Close's drain: Append sends under the
	// read lock, Close flips closed under the write lock.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewAuditLogger(st store.AuditStore, cfg AuditLoggerConfig, logger *log.Logger, m *metrics.Metrics) *AuditLogger {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}

	l := &AuditLogger{
		store:   st,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		queue:   make(chan pendingEvent, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Append records ev, filling in ID and Timestamp when empty. It returns
// once the event is written or queued for retry.
func (l *AuditLogger) Append(ctx context.Context, ev types.AuditEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	err := l.write(context.WithoutCancel(ctx), ev)
	if err == nil {
		return
	}

	l.metrics.IncrementAuditWriteFailures()
	l.logger.Printf("audit: write %s/%s failed, queueing: %v", ev.Kind, ev.ID, err)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.drop(ev, "logger closed")
		return
	}
	select {
	case l.queue <- pendingEvent{ev: ev}:
		l.metrics.SetAuditQueueDepth(len(l.queue))
	default:
		l.drop(ev, "retry queue full")
	}
}

// Query returns matching events, newest first.
func (l *AuditLogger) Query(ctx context.Context, f types.AuditFilter) ([]types.AuditEvent, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultAuditLimit
	}
	if f.Limit > MaxAuditLimit {
		f.Limit = MaxAuditLimit
	}
	events, err := l.store.QueryEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: query audit: %v", ErrStoreUnavailable, err)
	}
	return events, nil
}

// Close stops the retry loop. Queued events get one final attempt.
func (l *AuditLogger) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.done)
		l.wg.Wait()
	})
}

func (l *AuditLogger) write(ctx context.Context, ev types.AuditEvent) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
	defer cancel()
	return l.store.AppendEvent(ctx, ev)
}

func (l *AuditLogger) run() {
	defer l.wg.Done()

	for {
		select {
		case p := <-l.queue:
			l.metrics.SetAuditQueueDepth(len(l.queue))
			l.retry(p)
		case <-l.done:
			for {
				select {
				case p := <-l.queue:
					l.finalAttempt(p)
				default:
					l.metrics.SetAuditQueueDepth(0)
					return
				}
			}
		}
	}
}

func (l *AuditLogger) retry(p pendingEvent) {
	for p.attempts < l.cfg.MaxAttempts {
		timer := time.NewTimer(l.backoff(p.attempts))
		select {
		case <-l.done:
			timer.Stop()
			l.finalAttempt(p)
			return
		case <-timer.C:
		}

		p.attempts++
		l.metrics.IncrementAuditRetries()
		err := l.write(context.Background(), p.ev)
		if err == nil {
			return
		}
		l.logger.Printf("audit: retry %d/%d for %s failed: %v", p.attempts, l.cfg.MaxAttempts, p.ev.ID, err)
	}
	l.drop(p.ev, "retries exhausted")
}

func (l *AuditLogger) finalAttempt(p pendingEvent) {
	if err := l.write(context.Background(), p.ev); err != nil {
		l.drop(p.ev, "shutdown: "+err.Error())
	}
}

func (l *AuditLogger) backoff(attempt int) time.Duration {
	d := l.cfg.RetryBackoff << attempt
	if d <= 0 || d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (l *AuditLogger) drop(ev types.AuditEvent, why string) {
	l.metrics.IncrementAuditDropped()
	l.logger.Printf("audit: dropped %s event %s (credential=%s resource=%s reason=%s): %s",
		ev.Kind, ev.ID, ev.CredentialID, ev.ResourceID, ev.Metadata.Reason, why)
}
