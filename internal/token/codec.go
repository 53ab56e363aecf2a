// Package token issues and verifies short-lived HS256 access tokens.
package token

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/lms-auth/internal/crypto"
	"github.com/and161185/lms-auth/internal/errs"
	"github.com/and161185/lms-auth/internal/model"
)

// DefaultTTL is the access token lifetime used when none is configured.
const DefaultTTL = time.Hour

// Claims is the payload carried by an access token.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// PrincipalID parses the subject as a user id.
func (c *Claims) PrincipalID() (uuid.UUID, error) {
	return uuid.FromString(c.Subject)
}

// Codec signs and verifies access tokens with a server-held secret. It holds no other state.
type Codec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithIssuer sets the iss claim and requires it on verification.
func WithIssuer(iss string) Option { return func(c *Codec) { c.issuer = iss } }

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option { return func(c *Codec) { c.now = now } }

// NewCodec constructs a Codec. A zero ttl selects DefaultTTL.
func NewCodec(secret []byte, ttl time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: empty signing secret")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < 0 {
		return nil, errors.New("token: negative ttl")
	}
	c := &Codec{secret: secret, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// TTL returns the configured access token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue creates a signed token for the principal, valid for the codec's TTL.
func (c *Codec) Issue(principalID uuid.UUID, role model.Role) (string, time.Time, error) {
	jti, err := crypto.RandBytes(16)
	if err != nil {
		return "", time.Time{}, err
	}
	now := c.now()
	exp := now.Add(c.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        hex.EncodeToString(jti),
			Subject:   principalID.String(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature and expiry. It returns errs.ErrTokenExpired for an
// authentic token past its exp, and errs.ErrTokenInvalid for anything else.
func (c *Codec) Verify(tok string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, errs.ErrTokenExpired
		}
		return nil, errs.ErrTokenInvalid
	}
	if !parsed.Valid || !claims.Role.Valid() {
		return nil, errs.ErrTokenInvalid
	}
	if _, err := claims.PrincipalID(); err != nil {
		return nil, errs.ErrTokenInvalid
	}
	return &claims, nil
}
