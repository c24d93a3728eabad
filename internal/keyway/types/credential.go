package types

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// CredentialKind selects how a credential is presented at the lock.
type CredentialKind string

const (
	// KindToken is an opaque random token, usually rendered as a QR code.
	KindToken CredentialKind = "qr"
	// KindOTP is a 6-digit time-based code derived from the resource secret.
	KindOTP CredentialKind = "otp"
)

// ParseCredentialKind accepts "qr" (default when empty), "token" and "otp".
func ParseCredentialKind(s string) (CredentialKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "qr", "token":
		return KindToken, nil
	case "otp":
		return KindOTP, nil
	default:
		return "", fmt.Errorf("unknown credential kind %q", s)
	}
}

type CredentialStatus string

const (
	StatusIssued   CredentialStatus = "issued"
	StatusRedeemed CredentialStatus = "redeemed"
	StatusExpired  CredentialStatus = "expired"
	StatusRevoked  CredentialStatus = "revoked"
)

// ParseCredentialStatus maps list filters onto the canonical states.
// "pending" and "active" both mean issued.
func ParseCredentialStatus(s string) (CredentialStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "issued", "pending", "active":
		return StatusIssued, nil
	case "redeemed", "used":
		return StatusRedeemed, nil
	case "expired":
		return StatusExpired, nil
	case "revoked":
		return StatusRevoked, nil
	default:
		return "", fmt.Errorf("unknown credential status %q", s)
	}
}

// Credential is a single-use, time-bounded authorization for one subject
// on one resource.
type Credential struct {
	ID              string           `json:"id"`
	SubjectID       string           `json:"subjectId"`
	ResourceID      string           `json:"resourceId"`
	Kind            CredentialKind   `json:"kind"`
	Token           string           `json:"token,omitempty"` // KindToken only
	CodeDigest      []byte           `json:"-"`
	DurationMinutes int              `json:"durationMinutes"`
	Status          CredentialStatus `json:"status"`
	IssuedAt        time.Time        `json:"issuedAt"`
	ExpiresAt       time.Time        `json:"expiresAt"`
	RedeemedAt      *time.Time       `json:"redeemedAt,omitempty"`
}

// ExpiredAt reports whether now is strictly past the expiry instant.
func (c Credential) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// CodeDigest is the lookup key stored for a presented code.
func CodeDigest(code string) []byte {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return sum[:]
}

// CredentialFilter narrows a subject's credential listing.
type CredentialFilter struct {
	SubjectID  string
	ResourceID string
	Status     CredentialStatus
}
