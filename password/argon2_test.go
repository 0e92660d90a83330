package password

import (
	"errors"
	"strings"
	"testing"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(Config{
		Memory:      16 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=") {
		t.Fatalf("unexpected PHC prefix: %q", encoded)
	}

	ok, err := h.Verify("correct horse battery staple", encoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("correct password did not verify")
	}

	ok, err = h.Verify("wrong password!", encoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("wrong password verified")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := newTestHasher(t)

	a, err := h.Hash("same password here")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := h.Hash("same password here")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same password are identical")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h := newTestHasher(t)

	if _, err := h.Hash("short"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("err = %v, want ErrTooShort", err)
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := newTestHasher(t)

	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=16384,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA",
		"$argon2id$v=19$m=16384,t=1,p=1$not-base64!$AAAA",
		"$argon2id$v=18$m=16384,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA",
	} {
		if _, err := h.Verify("whatever password", encoded); err == nil {
			t.Errorf("Verify accepted malformed hash %q", encoded)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak, err := NewHasher(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	strong := newTestHasher(t)

	encoded, err := weak.Hash("a serviceable password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	needs, err := strong.NeedsUpgrade(encoded)
	if err != nil {
		t.Fatalf("NeedsUpgrade: %v", err)
	}
	if !needs {
		t.Fatal("weaker hash not flagged for upgrade")
	}

	current, err := strong.Hash("a serviceable password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	needs, err = strong.NeedsUpgrade(current)
	if err != nil {
		t.Fatalf("NeedsUpgrade: %v", err)
	}
	if needs {
		t.Fatal("current-parameter hash flagged for upgrade")
	}
}
