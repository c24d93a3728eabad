package types

// AccessRequest is the body of POST /access.
type AccessRequest struct {
	ResourceID      string `json:"resourceId"`
	Kind            string `json:"kind,omitempty"`            // "qr" | "otp", default "qr"
	DurationMinutes *int   `json:"durationMinutes,omitempty"` // default 60
}

// IssuedCredential is a credential as returned to its owner. Code holds
// the value to present at the lock; Image is a renderable data URL for
// token credentials.
type IssuedCredential struct {
	Credential
	Code  string `json:"code,omitempty"`
	Image string `json:"image,omitempty"`
}

type AccessResponse struct {
	Credential IssuedCredential `json:"credential"`
	Resource   ResourceSummary  `json:"resource"`
	ExpiresAt  string           `json:"expiresAt"`
}

type AccessListResponse struct {
	Credentials []IssuedCredential `json:"credentials"`
}

// UnlockRequest is the body of POST /unlock.
type UnlockRequest struct {
	Code       string `json:"code"`
	ResourceID string `json:"resourceId"`
}

type SubjectSummary struct {
	ID string `json:"id"`
}

type UnlockResponse struct {
	Success   bool            `json:"success"`
	Resource  ResourceSummary `json:"resource"`
	Subject   SubjectSummary  `json:"subject"`
	Timestamp string          `json:"timestamp"`
}

type AuditListResponse struct {
	Events []AuditEvent `json:"events"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
