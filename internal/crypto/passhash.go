// Package crypto implements server-side password hashing and refresh secret handling.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

// Hasher kinds accepted by NewHasher.
const (
	KindArgon2id = "argon2id"
	KindBcrypt   = "bcrypt"
)

const argonPrefix = "$argon2id$"

var errBadDigest = errors.New("malformed password digest")

// Hasher hashes and verifies passwords. Digests are self-describing strings.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Argon2Hasher produces argon2id digests in the PHC string format.
type Argon2Hasher struct{}

// Hash returns an encoded argon2id digest with a fresh random salt.
func (Argon2Hasher) Hash(password string) (string, error) {
	salt, err := RandBytes(argonSaltLen)
	if err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argonPrefix, argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the argon2id key with the digest's parameters and compares in constant time.
func (Argon2Hasher) Verify(password, digest string) bool {
	p, salt, key, err := decodeArgon(digest)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(got, key) == 1
}

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

func decodeArgon(digest string) (argonParams, []byte, []byte, error) {
	var p argonParams
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, errBadDigest
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, errBadDigest
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, nil, nil, errBadDigest
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, errBadDigest
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, errBadDigest
	}
	return p, salt, key, nil
}

// BcryptHasher hashes with bcrypt at a fixed cost.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher clamps cost into the range bcrypt accepts; 0 selects 12.
func NewBcryptHasher(cost int) BcryptHasher {
	if cost <= 0 {
		cost = 12
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return BcryptHasher{Cost: cost}
}

// Hash returns a bcrypt digest.
func (h BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether password matches the bcrypt digest.
func (h BcryptHasher) Verify(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// multiHasher hashes with the primary kind and verifies any supported format.
type multiHasher struct {
	primary Hasher
	argon   Argon2Hasher
	bcrypt  BcryptHasher
}

// NewHasher returns a Hasher for kind ("argon2id" or "bcrypt"). Verification accepts
// digests of either kind so existing users keep working after the kind is switched.
func NewHasher(kind string, bcryptCost int) (Hasher, error) {
	h := &multiHasher{bcrypt: NewBcryptHasher(bcryptCost)}
	switch kind {
	case "", KindArgon2id:
		h.primary = h.argon
	case KindBcrypt:
		h.primary = h.bcrypt
	default:
		return nil, fmt.Errorf("unknown password hasher %q", kind)
	}
	return h, nil
}

func (h *multiHasher) Hash(password string) (string, error) { return h.primary.Hash(password) }

func (h *multiHasher) Verify(password, digest string) bool {
	if strings.HasPrefix(digest, argonPrefix) {
		return h.argon.Verify(password, digest)
	}
	return h.bcrypt.Verify(password, digest)
}
