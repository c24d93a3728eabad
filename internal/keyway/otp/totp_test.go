package otp

import (
	"testing"
	"time"
)

// RFC 6238 appendix B vectors, truncated to six digits.
func TestCode_RFCVectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}
	for _, tc := range cases {
		got, err := Code(secret, time.Unix(tc.ts, 0))
		if err != nil {
			t.Fatalf("Code at %d: %v", tc.ts, err)
		}
		if got != tc.code {
			t.Errorf("Code at %d = %s, want %s", tc.ts, got, tc.code)
		}
	}
}

func TestVerify_AcceptsOneStepSkew(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1234567890, 0)

	prev, _ := Code(secret, now.Add(-Period))
	cur, _ := Code(secret, now)
	next, _ := Code(secret, now.Add(Period))
	for _, c := range []string{prev, cur, next} {
		ok, err := Verify(secret, c, now)
		if err != nil || !ok {
			t.Errorf("expected %s to verify, ok=%v err=%v", c, ok, err)
		}
	}

	far, _ := Code(secret, now.Add(3*Period))
	if far != cur && far != prev && far != next {
		if ok, _ := Verify(secret, far, now); ok {
			t.Errorf("expected code three steps ahead to be rejected")
		}
	}
}

func TestVerify_RejectsMalformed(t *testing.T) {
	secret := []byte("12345678901234567890")
	for _, c := range []string{"", "12345", "1234567", "abcdef", "12 345"} {
		ok, err := Verify(secret, c, time.Unix(59, 0))
		if err != nil {
			t.Fatalf("Verify(%q): %v", c, err)
		}
		if ok {
			t.Errorf("expected %q to be rejected", c)
		}
	}
}

func TestVerify_EmptySecret(t *testing.T) {
	if _, err := Verify(nil, "123456", time.Now()); err != ErrEmptySecret {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}

func TestGenerateSecret_RoundTripsBase32(t *testing.T) {
	s, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(s) != SecretBytes {
		t.Fatalf("expected %d bytes, got %d", SecretBytes, len(s))
	}
	back, err := DecodeSecret(EncodeSecret(s))
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}
	if string(back) != string(s) {
		t.Error("base32 round trip mismatch")
	}
}
