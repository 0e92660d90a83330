package internal

import (
	"bytes"
	"testing"
)

func TestNewNumericCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := NewNumericCode(6)
		if err != nil {
			t.Fatalf("NewNumericCode: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("len(%q) = %d, want 6", code, len(code))
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in code %q", code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Fatal("50 draws produced a single code")
	}

	if _, err := NewNumericCode(3); err == nil {
		t.Fatal("3-digit codes accepted")
	}
	if _, err := NewNumericCode(11); err == nil {
		t.Fatal("11-digit codes accepted")
	}
}

func TestResetTokenRoundTrip(t *testing.T) {
	secret, err := NewResetSecret()
	if err != nil {
		t.Fatalf("NewResetSecret: %v", err)
	}

	token := EncodeResetToken(secret)
	decoded, err := DecodeResetToken(token)
	if err != nil {
		t.Fatalf("DecodeResetToken: %v", err)
	}
	if !bytes.Equal(decoded, secret) {
		t.Fatal("decoded secret differs")
	}

	if _, err := DecodeResetToken("zz"); err == nil {
		t.Fatal("non-hex token decoded")
	}
	if _, err := DecodeResetToken("abcd"); err == nil {
		t.Fatal("short token decoded")
	}
}

func TestHashBindingValueIsDeterministic(t *testing.T) {
	a := HashBindingValue("198.51.100.7")
	b := HashBindingValue("198.51.100.7")
	c := HashBindingValue("203.0.113.9")

	if !bytes.Equal(a, b) {
		t.Fatal("same input hashed differently")
	}
	if bytes.Equal(a, c) {
		t.Fatal("different inputs hashed identically")
	}
}
