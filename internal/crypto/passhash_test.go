package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal: looks non-random", n)
	}
}

func TestArgon2Hasher_HashVerify(t *testing.T) {
	t.Parallel()

	var h Argon2Hasher
	d1, err := h.Hash("p@ssw0rd")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(d1, "$argon2id$v=19$m=65536,t=3,p=1$") {
		t.Fatalf("unexpected encoding: %s", d1)
	}
	d2, _ := h.Hash("p@ssw0rd")
	if d1 == d2 {
		t.Fatalf("salt must differ between hashes")
	}

	if !h.Verify("p@ssw0rd", d1) {
		t.Fatalf("Verify: expected true for correct password")
	}
	if h.Verify("wrong", d1) {
		t.Fatalf("Verify: expected false for wrong password")
	}
	if h.Verify("", d1) {
		t.Fatalf("Verify: expected false for empty password")
	}
	if h.Verify("p@ssw0rd", "$argon2id$garbage") {
		t.Fatalf("Verify: expected false for malformed digest")
	}
}

func TestBcryptHasher_CostClampAndVerify(t *testing.T) {
	t.Parallel()

	if got := NewBcryptHasher(0).Cost; got != 12 {
		t.Fatalf("default cost=%d, want 12", got)
	}
	if got := NewBcryptHasher(1).Cost; got != 4 {
		t.Fatalf("clamped min cost=%d, want 4", got)
	}
	if got := NewBcryptHasher(99).Cost; got != 31 {
		t.Fatalf("clamped max cost=%d, want 31", got)
	}

	h := NewBcryptHasher(4)
	d, err := h.Hash("secret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !h.Verify("secret", d) || h.Verify("Secret", d) {
		t.Fatalf("bcrypt verify mismatch")
	}
}

func TestNewHasher_VerifiesBothFormats(t *testing.T) {
	t.Parallel()

	if _, err := NewHasher("md5", 0); err == nil {
		t.Fatalf("want error for unknown kind")
	}

	argon, err := NewHasher(KindArgon2id, 4)
	if err != nil {
		t.Fatalf("NewHasher argon: %v", err)
	}
	bc, err := NewHasher(KindBcrypt, 4)
	if err != nil {
		t.Fatalf("NewHasher bcrypt: %v", err)
	}

	ad, _ := argon.Hash("pw")
	bd, _ := bc.Hash("pw")
	if !strings.HasPrefix(bd, "$2") {
		t.Fatalf("bcrypt digest expected, got %s", bd)
	}

	// either hasher verifies either digest
	for _, h := range []Hasher{argon, bc} {
		if !h.Verify("pw", ad) || !h.Verify("pw", bd) {
			t.Fatalf("cross-format verify failed")
		}
		if h.Verify("nope", ad) || h.Verify("nope", bd) {
			t.Fatalf("cross-format verify accepted wrong password")
		}
	}
}
