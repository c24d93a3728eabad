package types

import "time"

type AuditKind string

const (
	AuditRequested AuditKind = "requested"
	AuditGranted   AuditKind = "granted"
	AuditDenied    AuditKind = "denied"
	AuditUnlocked  AuditKind = "unlocked"
	AuditExpired   AuditKind = "expired"
)

func (k AuditKind) Valid() bool {
	switch k {
	case AuditRequested, AuditGranted, AuditDenied, AuditUnlocked, AuditExpired:
		return true
	}
	return false
}

// AuditMetadata carries the optional details of an audit event.
type AuditMetadata struct {
	Reason           string         `json:"reason,omitempty"`
	Kind             CredentialKind `json:"kind,omitempty"`
	DurationMinutes  int            `json:"durationMinutes,omitempty"`  // effective, after the resource cap
	RequestedMinutes int            `json:"requestedMinutes,omitempty"` // as asked for
	LockID           string         `json:"lockId,omitempty"`
	Detail           string         `json:"detail,omitempty"`
	Stage            string         `json:"stage,omitempty"` // "issue" | "redeem" | "sweep"
}

// AuditEvent is an immutable record of one state transition or denial.
// CredentialID and SubjectID are empty when no credential was resolved.
type AuditEvent struct {
	ID           string        `json:"id"`
	CredentialID string        `json:"credentialId,omitempty"`
	SubjectID    string        `json:"subjectId,omitempty"`
	ResourceID   string        `json:"resourceId"`
	Kind         AuditKind     `json:"kind"`
	Timestamp    time.Time     `json:"timestamp"`
	Metadata     AuditMetadata `json:"metadata"`
}

// AuditFilter selects events for Query. Zero fields do not filter.
type AuditFilter struct {
	SubjectID    string
	ResourceID   string
	CredentialID string
	Kind         AuditKind
	Since        time.Time
	Limit        int
}
