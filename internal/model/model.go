// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is the closed set of principal roles.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// SelfRegistrable reports whether an anonymous caller may register with role r.
func (r Role) SelfRegistrable() bool {
	return r == RoleStudent || r == RoleInstructor
}

// Tokens collects an issued access token and its rotating refresh secret.
type Tokens struct {
	AccessToken      string
	ExpiresAt        time.Time // access token expiry
	RefreshToken     string    // raw refresh secret; never persisted
	RefreshExpiresAt time.Time
}

// User is a principal as seen by the session subsystem.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   string    // encoded argon2id or bcrypt digest
	Role      Role
	Deleted   bool // soft-delete flag
	CreatedAt time.Time
}

// RefreshCredential is a persisted single-use refresh secret digest.
type RefreshCredential struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string // hex SHA-256 of the raw secret
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the credential is unusable at now.
func (c RefreshCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// AuditEvent is an append-only, best-effort record of a principal's action.
type AuditEvent struct {
	ID       uuid.UUID
	ActorID  uuid.UUID
	Action   string
	Details  string
	LoggedAt time.Time
}

// Audit actions recorded by the session service.
const (
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionPasswordChange = "password_change"
)
