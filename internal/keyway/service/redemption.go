package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/BrandonDHaskell/keyway/internal/keyway/actuator"
	"github.com/BrandonDHaskell/keyway/internal/keyway/metrics"
	"github.com/BrandonDHaskell/keyway/internal/keyway/otp"
	"github.com/BrandonDHaskell/keyway/internal/keyway/policy"
	"github.com/BrandonDHaskell/keyway/internal/keyway/store"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

// DefaultActuatorTimeout bounds a single unlock call.
const DefaultActuatorTimeout = time.Second

type RedemptionResult struct {
	Success      bool
	CredentialID string
	Resource     types.ResourceSummary
	Subject      types.SubjectSummary
	Timestamp    time.Time
}

// RedemptionEngine turns a presented code into one unlock of the
// resource's lock.
type RedemptionEngine struct {
	resources store.ResourceStore
	creds     store.CredentialStore
	audit     *AuditLogger
	policy    *policy.TimeWindow
	actuator  actuator.Actuator
	timeout   time.Duration
	logger    *log.Logger
	metrics   *metrics.Metrics

	// Now is the engine's clock. Defaults to time.Now in UTC.
	Now func() time.Time
}

// EngineConfig holds the parameters for NewRedemptionEngine.
type EngineConfig struct {
	// ActuatorTimeout bounds the unlock call. Defaults to 1s.
	ActuatorTimeout time.Duration
}

func NewRedemptionEngine(
	rs store.ResourceStore,
	cs store.CredentialStore,
	audit *AuditLogger,
	pol *policy.TimeWindow,
	act actuator.Actuator,
	cfg EngineConfig,
	logger *log.Logger,
	m *metrics.Metrics,
) *RedemptionEngine {
	if pol == nil {
		pol = policy.NewTimeWindow(time.UTC)
	}
	timeout := cfg.ActuatorTimeout
	if timeout <= 0 {
		timeout = DefaultActuatorTimeout
	}
	return &RedemptionEngine{
		resources: rs,
		creds:     cs,
		audit:     audit,
		policy:    pol,
		actuator:  act,
		timeout:   timeout,
		logger:    logger,
		metrics:   m,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Redeem checks the presented code against resourceID and, if every
// rule holds, consumes the credential and unlocks the resource.
//
// The credential is consumed before the lock is driven: a failed or
// timed-out unlock still leaves it redeemed. Once consumption has begun
// the caller's cancellation no longer applies.
func (e *RedemptionEngine) Redeem(ctx context.Context, code, resourceID string) (RedemptionResult, error) {
	code = strings.TrimSpace(code)
	resourceID = strings.TrimSpace(resourceID)
	if code == "" || resourceID == "" {
		e.metrics.IncrementRedemption(Reason(ErrInvalidInput))
		return RedemptionResult{}, fmt.Errorf("%w: code and resourceId are required", ErrInvalidInput)
	}

	now := e.Now()

	cred, err := e.creds.FindByCode(ctx, resourceID, types.CodeDigest(code))
	if errors.Is(err, store.ErrNotFound) {
		return RedemptionResult{}, e.deny(ctx, denial{resourceID: resourceID, at: now}, e.unmatchedCode(ctx, code, resourceID, now))
	}
	if err != nil {
		return RedemptionResult{}, e.storeFailure("find credential", err)
	}
	d := denial{cred: cred, resourceID: resourceID, at: now}

	res, err := e.resources.GetResource(ctx, resourceID)
	if errors.Is(err, store.ErrNotFound) {
		return RedemptionResult{}, e.deny(ctx, d, ErrNotFound)
	}
	if err != nil {
		return RedemptionResult{}, e.storeFailure("get resource", err)
	}
	d.lockID = res.LockID

	if !res.Active {
		return RedemptionResult{}, e.deny(ctx, d, ErrResourceInactive)
	}

	if cred.ExpiredAt(now) {
		if cred.Status == types.StatusIssued {
			_, err := e.creds.Transition(ctx, cred.ID, types.StatusIssued, types.StatusExpired, now)
			if err != nil && !errors.Is(err, store.ErrConflict) {
				return RedemptionResult{}, e.storeFailure("expire credential", err)
			}
		}
		return RedemptionResult{}, e.deny(ctx, d, ErrExpired)
	}

	if cred.Status != types.StatusIssued {
		return RedemptionResult{}, e.deny(ctx, d, ErrAlreadyUsed)
	}

	if e.policy.Evaluate(res, now) != policy.Open {
		return RedemptionResult{}, e.deny(ctx, d, ErrOutsideOperatingHours)
	}

	if cred.Kind == types.KindOTP {
		ok, err := otp.Verify(res.OTPSecret, code, now)
		if err != nil || !ok {
			return RedemptionResult{}, e.deny(ctx, d, ErrInvalidOTP)
		}
	}

	// Past this point the credential may be consumed; finish regardless
	// of the caller.
	ctx = context.WithoutCancel(ctx)

	consumed, err := e.creds.Transition(ctx, cred.ID, types.StatusIssued, types.StatusRedeemed, now)
	switch {
	case errors.Is(err, store.ErrConflict):
		return RedemptionResult{}, e.deny(ctx, d, ErrAlreadyUsed)
	case errors.Is(err, store.ErrNotFound):
		return RedemptionResult{}, e.deny(ctx, d, ErrNotFound)
	case err != nil:
		return RedemptionResult{}, e.storeFailure("consume credential", err)
	}

	if detail, ok := e.unlock(ctx, res.LockID); !ok {
		e.logger.Printf("redeem: unlock %s for credential %s failed: %s", res.LockID, cred.ID, detail)
		d.detail = detail
		_ = e.deny(ctx, d, ErrActuationFailed)
		return RedemptionResult{}, fmt.Errorf("%w: %s", ErrActuationFailed, detail)
	}

	e.audit.Append(ctx, types.AuditEvent{
		CredentialID: consumed.ID,
		SubjectID:    consumed.SubjectID,
		ResourceID:   res.ID,
		Kind:         types.AuditUnlocked,
		Timestamp:    now,
		Metadata: types.AuditMetadata{
			Kind:   consumed.Kind,
			LockID: res.LockID,
			Stage:  "redeem",
		},
	})
	e.metrics.IncrementRedemption("ok")

	return RedemptionResult{
		Success:      true,
		CredentialID: consumed.ID,
		Resource:     res.Summary(),
		Subject:      types.SubjectSummary{ID: consumed.SubjectID},
		Timestamp:    now,
	}, nil
}

// unmatchedCode classifies a code with no credential behind it. A
// six-digit code presented to an OTP-provisioned resource that does not
// verify is a wrong OTP; anything else is simply unknown.
func (e *RedemptionEngine) unmatchedCode(ctx context.Context, code, resourceID string, now time.Time) error {
	if !otp.LooksLikeCode(code) {
		return ErrNotFound
	}
	res, err := e.resources.GetResource(ctx, resourceID)
	if err != nil || len(res.OTPSecret) == 0 {
		return ErrNotFound
	}
	if ok, _ := otp.Verify(res.OTPSecret, code, now); ok {
		return ErrNotFound
	}
	return ErrInvalidOTP
}

type unlockOutcome struct {
	res actuator.Result
	err error
}

// unlock drives the lock within the configured timeout. The timeout is
// enforced here even if the actuator ignores its context.
func (e *RedemptionEngine) unlock(ctx context.Context, lockID string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan unlockOutcome, 1)
	go func() {
		r, err := e.actuator.Unlock(ctx, lockID)
		ch <- unlockOutcome{res: r, err: err}
	}()

	var out unlockOutcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		out.err = actuator.ErrTimeout
	}
	elapsed := time.Since(start)

	switch {
	case errors.Is(out.err, actuator.ErrTimeout), errors.Is(out.err, context.DeadlineExceeded):
		e.metrics.ObserveActuator("timeout", elapsed)
		return "timeout after " + e.timeout.String(), false
	case out.err != nil:
		e.metrics.ObserveActuator("failed", elapsed)
		return out.err.Error(), false
	case !out.res.Success:
		e.metrics.ObserveActuator("failed", elapsed)
		if out.res.Error == "" {
			return "lock reported failure", false
		}
		return out.res.Error, false
	}
	e.metrics.ObserveActuator("ok", elapsed)
	return "", true
}

type denial struct {
	cred       types.Credential
	resourceID string
	lockID     string
	detail     string
	at         time.Time
}

// deny records a Denied audit event for cause and returns cause.
func (e *RedemptionEngine) deny(ctx context.Context, d denial, cause error) error {
	reason := Reason(cause)
	e.metrics.IncrementRedemption(reason)
	e.audit.Append(ctx, types.AuditEvent{
		CredentialID: d.cred.ID,
		SubjectID:    d.cred.SubjectID,
		ResourceID:   d.resourceID,
		Kind:         types.AuditDenied,
		Timestamp:    d.at,
		Metadata: types.AuditMetadata{
			Reason: reason,
			Kind:   d.cred.Kind,
			LockID: d.lockID,
			Detail: d.detail,
			Stage:  "redeem",
		},
	})
	return cause
}

func (e *RedemptionEngine) storeFailure(op string, err error) error {
	e.metrics.IncrementRedemption(Reason(ErrStoreUnavailable))
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
