// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist (or is soft-deleted).
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication: bad credentials or an unusable token/secret.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated principal lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates malformed or disallowed input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTokenInvalid indicates a token or refresh secret that is malformed, forged, unknown or already consumed.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired indicates a well-formed token or refresh secret whose lifetime has passed.
	ErrTokenExpired = errors.New("token expired")
)
