package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/keyway/internal/keyway/metrics"
	"github.com/BrandonDHaskell/keyway/internal/keyway/otp"
	"github.com/BrandonDHaskell/keyway/internal/keyway/policy"
	"github.com/BrandonDHaskell/keyway/internal/keyway/store"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

// tokenBytes is the entropy of a token credential.
const tokenBytes = 32

// TokenRenderer turns a token into something a reader can scan.
type TokenRenderer interface {
	Render(token string) (string, error)
}

type IssueRequest struct {
	SubjectID       string
	ResourceID      string
	Kind            types.CredentialKind
	DurationMinutes int
}

// Issuer creates credentials for subjects on resources.
type Issuer struct {
	resources store.ResourceStore
	creds     store.CredentialStore
	audit     *AuditLogger
	policy    *policy.TimeWindow
	renderer  TokenRenderer
	metrics   *metrics.Metrics

	// Now is the issuer's clock. Defaults to time.Now in UTC.
	Now func() time.Time
}

func NewIssuer(
	rs store.ResourceStore,
	cs store.CredentialStore,
	audit *AuditLogger,
	pol *policy.TimeWindow,
	renderer TokenRenderer,
	m *metrics.Metrics,
) *Issuer {
	if pol == nil {
		pol = policy.NewTimeWindow(time.UTC)
	}
	return &Issuer{
		resources: rs,
		creds:     cs,
		audit:     audit,
		policy:    pol,
		renderer:  renderer,
		metrics:   m,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Issue validates req, checks the resource is usable now and persists a
// new credential in the issued state. The returned resource is the one
// the credential was issued against.
func (s *Issuer) Issue(ctx context.Context, req IssueRequest) (types.IssuedCredential, types.Resource, error) {
	subjectID := strings.TrimSpace(req.SubjectID)
	resourceID := strings.TrimSpace(req.ResourceID)

	if subjectID == "" {
		return types.IssuedCredential{}, types.Resource{}, ErrUnauthorized
	}
	if resourceID == "" {
		return types.IssuedCredential{}, types.Resource{}, fmt.Errorf("%w: resourceId is required", ErrInvalidInput)
	}
	if req.DurationMinutes < 1 || req.DurationMinutes > types.MaxDurationMinutes {
		return types.IssuedCredential{}, types.Resource{}, fmt.Errorf("%w: durationMinutes must be between 1 and %d",
			ErrInvalidInput, types.MaxDurationMinutes)
	}
	if req.Kind != types.KindToken && req.Kind != types.KindOTP {
		return types.IssuedCredential{}, types.Resource{}, fmt.Errorf("%w: kind must be qr or otp", ErrInvalidInput)
	}

	// Stores keep millisecond timestamps; issue on that grid so the
	// returned expiresAt is exactly the persisted one.
	now := s.Now().Truncate(time.Millisecond)

	res, err := s.resources.GetResource(ctx, resourceID)
	if errors.Is(err, store.ErrNotFound) {
		s.deny(ctx, subjectID, types.Resource{ID: resourceID}, req.Kind, ErrNotFound, now)
		return types.IssuedCredential{}, types.Resource{}, fmt.Errorf("%w: resource %s", ErrNotFound, resourceID)
	}
	if err != nil {
		return types.IssuedCredential{}, types.Resource{}, fmt.Errorf("%w: get resource: %v", ErrStoreUnavailable, err)
	}

	switch s.policy.Evaluate(res, now) {
	case policy.Inactive:
		s.deny(ctx, subjectID, res, req.Kind, ErrResourceInactive, now)
		return types.IssuedCredential{}, res, ErrResourceInactive
	case policy.Closed:
		s.deny(ctx, subjectID, res, req.Kind, ErrOutsideOperatingHours, now)
		return types.IssuedCredential{}, res, s.closedError(res, now)
	}

	if req.Kind == types.KindOTP && len(res.OTPSecret) == 0 {
		s.deny(ctx, subjectID, res, req.Kind, ErrOTPNotProvisioned, now)
		return types.IssuedCredential{}, res, ErrOTPNotProvisioned
	}

	duration := min(req.DurationMinutes, res.EffectiveMaxDuration())

	var code, image string
	switch req.Kind {
	case types.KindToken:
		if code, err = newToken(); err != nil {
			return types.IssuedCredential{}, res, fmt.Errorf("%w: token: %v", ErrInternal, err)
		}
		if s.renderer != nil {
			if image, err = s.renderer.Render(code); err != nil {
				return types.IssuedCredential{}, res, fmt.Errorf("%w: render: %v", ErrInternal, err)
			}
		}
	case types.KindOTP:
		if code, err = otp.Code(res.OTPSecret, now); err != nil {
			return types.IssuedCredential{}, res, fmt.Errorf("%w: otp: %v", ErrInternal, err)
		}
	}

	cred := types.Credential{
		ID:              uuid.NewString(),
		SubjectID:       subjectID,
		ResourceID:      res.ID,
		Kind:            req.Kind,
		CodeDigest:      types.CodeDigest(code),
		DurationMinutes: duration,
		Status:          types.StatusIssued,
		IssuedAt:        now,
		ExpiresAt:       now.Add(time.Duration(duration) * time.Minute),
	}
	if req.Kind == types.KindToken {
		cred.Token = code
	}

	if err := s.creds.CreateCredential(ctx, cred); err != nil {
		return types.IssuedCredential{}, res, fmt.Errorf("%w: create credential: %v", ErrStoreUnavailable, err)
	}

	s.audit.Append(ctx, types.AuditEvent{
		CredentialID: cred.ID,
		SubjectID:    subjectID,
		ResourceID:   res.ID,
		Kind:         types.AuditRequested,
		Timestamp:    now,
		Metadata: types.AuditMetadata{
			Kind:             req.Kind,
			DurationMinutes:  duration,
			RequestedMinutes: req.DurationMinutes,
			Stage:            "issue",
		},
	})
	s.metrics.IncrementIssued(string(req.Kind))

	return types.IssuedCredential{Credential: cred, Code: code, Image: image}, res, nil
}

// List returns the subject's credentials, newest first. Issued token
// credentials carry their rendered image so they can be shown again.
func (s *Issuer) List(ctx context.Context, f types.CredentialFilter) ([]types.IssuedCredential, error) {
	if strings.TrimSpace(f.SubjectID) == "" {
		return nil, ErrUnauthorized
	}
	creds, err := s.creds.ListCredentials(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: list credentials: %v", ErrStoreUnavailable, err)
	}

	out := make([]types.IssuedCredential, 0, len(creds))
	for _, c := range creds {
		ic := types.IssuedCredential{Credential: c}
		if c.Kind == types.KindToken && c.Status == types.StatusIssued && c.Token != "" {
			ic.Code = c.Token
			if s.renderer != nil {
				if img, err := s.renderer.Render(c.Token); err == nil {
					ic.Image = img
				}
			}
		}
		out = append(out, ic)
	}
	return out, nil
}

func (s *Issuer) deny(ctx context.Context, subjectID string, res types.Resource, kind types.CredentialKind, cause error, now time.Time) {
	reason := Reason(cause)
	s.metrics.IncrementIssueDenied(reason)
	s.audit.Append(ctx, types.AuditEvent{
		SubjectID:  subjectID,
		ResourceID: res.ID,
		Kind:       types.AuditDenied,
		Timestamp:  now,
		Metadata:   types.AuditMetadata{Reason: reason, Kind: kind, Stage: "issue"},
	})
}

func (s *Issuer) closedError(res types.Resource, now time.Time) error {
	if w, ok := s.policy.Window(res, now); ok {
		return fmt.Errorf("%w: open %s-%s", ErrOutsideOperatingHours, w.Start, w.End)
	}
	return ErrOutsideOperatingHours
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
