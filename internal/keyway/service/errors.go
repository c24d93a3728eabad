package service

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNotFound              = errors.New("not found")
	ErrResourceInactive      = errors.New("resource inactive")
	ErrOutsideOperatingHours = errors.New("outside operating hours")
	ErrExpired               = errors.New("credential expired")
	ErrAlreadyUsed           = errors.New("credential already used")
	ErrInvalidOTP            = errors.New("invalid one-time code")
	ErrActuationFailed       = errors.New("lock actuation failed")
	ErrOTPNotProvisioned     = errors.New("resource has no otp secret")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrInternal              = errors.New("internal error")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrUnauthorized, "unauthorized"},
	{ErrNotFound, "not_found"},
	{ErrResourceInactive, "resource_inactive"},
	{ErrOutsideOperatingHours, "outside_operating_hours"},
	{ErrExpired, "expired"},
	{ErrAlreadyUsed, "already_used"},
	{ErrInvalidOTP, "invalid_otp"},
	{ErrActuationFailed, "actuation_failed"},
	{ErrOTPNotProvisioned, "otp_not_provisioned"},
	{ErrStoreUnavailable, "store_unavailable"},
}

// Reason returns the machine-readable reason for err. Unknown errors map
// to "internal_error".
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal_error"
}
