// Package otp implements RFC 6238 time-based one-time passwords with the
// parameters keyway uses for resource codes.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	SecretBytes = 20
	Digits      = 6
	Period      = 30 * time.Second
	Skew        = 1
)

var ErrEmptySecret = errors.New("empty totp secret")

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh random secret.
func GenerateSecret() ([]byte, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// EncodeSecret returns the unpadded base32 form used by authenticator apps.
func EncodeSecret(secret []byte) string { return b32.EncodeToString(secret) }

func DecodeSecret(s string) ([]byte, error) {
	return b32.DecodeString(strings.ToUpper(strings.TrimSpace(s)))
}

// Code returns the code for the step containing now.
func Code(secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	return hotp(secret, counterAt(now), Digits), nil
}

// Verify reports whether code matches the step containing now or one of
// its Skew neighbours.
func Verify(secret []byte, code string, now time.Time) (bool, error) {
	if len(secret) == 0 {
		return false, ErrEmptySecret
	}
	code = strings.TrimSpace(code)
	if len(code) != Digits || !isNumeric(code) {
		return false, nil
	}

	base := counterAt(now)
	for step := -Skew; step <= Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(secret, counter, Digits)), []byte(code)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// LooksLikeCode reports whether s has the shape of an OTP code.
func LooksLikeCode(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) == Digits && isNumeric(s)
}

func counterAt(now time.Time) int64 {
	return now.Unix() / int64(Period/time.Second)
}

func hotp(secret []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
