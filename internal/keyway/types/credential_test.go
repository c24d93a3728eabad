package types

import (
	"bytes"
	"testing"
	"time"
)

func TestParseCredentialStatus_Aliases(t *testing.T) {
	cases := map[string]CredentialStatus{
		"issued":   StatusIssued,
		"pending":  StatusIssued,
		"Active":   StatusIssued,
		"used":     StatusRedeemed,
		"redeemed": StatusRedeemed,
		"expired":  StatusExpired,
		"revoked":  StatusRevoked,
	}
	for in, want := range cases {
		got, err := ParseCredentialStatus(in)
		if err != nil || got != want {
			t.Errorf("ParseCredentialStatus(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseCredentialStatus("bogus"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestParseCredentialKind(t *testing.T) {
	for _, in := range []string{"", "qr", "token", " QR "} {
		if k, err := ParseCredentialKind(in); err != nil || k != KindToken {
			t.Errorf("ParseCredentialKind(%q) = %q, %v", in, k, err)
		}
	}
	if k, err := ParseCredentialKind("otp"); err != nil || k != KindOTP {
		t.Errorf("ParseCredentialKind(otp) = %q, %v", k, err)
	}
	if _, err := ParseCredentialKind("nfc"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestCredential_ExpiredAtIsStrict(t *testing.T) {
	exp := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	c := Credential{ExpiresAt: exp}
	if c.ExpiredAt(exp) {
		t.Error("credential must still be valid at exactly expiresAt")
	}
	if !c.ExpiredAt(exp.Add(time.Millisecond)) {
		t.Error("credential must be expired after expiresAt")
	}
}

func TestCodeDigest_TrimsWhitespace(t *testing.T) {
	if !bytes.Equal(CodeDigest(" 123456\n"), CodeDigest("123456")) {
		t.Error("expected surrounding whitespace to be ignored")
	}
	if bytes.Equal(CodeDigest("123456"), CodeDigest("123457")) {
		t.Error("distinct codes must have distinct digests")
	}
}
