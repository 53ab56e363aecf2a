// Package service contains the session lifecycle: credential checks, token issuance and refresh rotation.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/lms-auth/internal/crypto"
	"github.com/and161185/lms-auth/internal/errs"
	"github.com/and161185/lms-auth/internal/limiter"
	"github.com/and161185/lms-auth/internal/model"
	"github.com/and161185/lms-auth/internal/repository"
	"github.com/and161185/lms-auth/internal/token"
)

// Auditor records principal actions. Implementations must not block.
type Auditor interface {
	Record(actorID uuid.UUID, action, details string)
}

// DefaultProfileEvents is how many audit events Profile returns.
const DefaultProfileEvents = 20

// SessionDeps are the collaborators of SessionService. Limiter and Auditor are optional.
type SessionDeps struct {
	Users   repository.UserRepository
	Audits  repository.AuditRepository
	Refresh *RefreshStore
	Codec   *token.Codec
	Hasher  pkgcrypto.Hasher
	Limiter limiter.Limiter
	Auditor Auditor
	Logger  *zap.Logger

	// RevokeOnPasswordChange drops every refresh credential of the principal after a password change.
	RevokeOnPasswordChange bool
	ProfileEvents          int
}

// Profile is what GET /auth/me shows.
type Profile struct {
	User   model.User
	Recent []model.AuditEvent
}

// SessionService orchestrates register, login, refresh, logout and password change.
type SessionService struct {
	users   repository.UserRepository
	audits  repository.AuditRepository
	refresh *RefreshStore
	codec   *token.Codec
	hasher  pkgcrypto.Hasher
	lim     limiter.Limiter
	auditor Auditor
	log     *zap.Logger

	revokeOnPasswordChange bool
	profileEvents          int
}

type nopAuditor struct{}

func (nopAuditor) Record(uuid.UUID, string, string) {}

// NewSessionService validates deps and fills optional ones with no-ops.
func NewSessionService(d SessionDeps) (*SessionService, error) {
	if d.Users == nil || d.Refresh == nil || d.Codec == nil || d.Hasher == nil {
		return nil, errors.New("session service: users, refresh store, codec and hasher are required")
	}
	s := &SessionService{
		users:                  d.Users,
		audits:                 d.Audits,
		refresh:                d.Refresh,
		codec:                  d.Codec,
		hasher:                 d.Hasher,
		lim:                    d.Limiter,
		auditor:                d.Auditor,
		log:                    d.Logger,
		revokeOnPasswordChange: d.RevokeOnPasswordChange,
		profileEvents:          d.ProfileEvents,
	}
	if s.lim == nil {
		s.lim = limiter.Nop{}
	}
	if s.auditor == nil {
		s.auditor = nopAuditor{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.profileEvents <= 0 {
		s.profileEvents = DefaultProfileEvents
	}
	return s, nil
}

// RefreshHorizon is the lifetime of issued refresh secrets; the transport uses it for cookie max-age.
func (s *SessionService) RefreshHorizon() int {
	return int(s.refresh.Horizon().Seconds())
}

// Register creates a principal with a self-registrable role and opens a session for it.
func (s *SessionService) Register(ctx context.Context, username, password string, role model.Role) (model.Tokens, model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return model.Tokens{}, model.User{}, fmt.Errorf("%w: empty username/password", errs.ErrInvalidArgument)
	}
	if role == "" {
		role = model.RoleStudent
	}
	if !role.SelfRegistrable() {
		return model.Tokens{}, model.User{}, fmt.Errorf("%w: role %q", errs.ErrInvalidArgument, role)
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return model.Tokens{}, model.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := model.User{ID: uid, Username: username, PwdHash: digest, Role: role}
	if err := s.users.Create(ctx, &u); err != nil {
		return model.Tokens{}, model.User{}, err
	}

	tokens, err := s.issue(ctx, &u)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	s.auditor.Record(u.ID, model.ActionRegister, "role="+string(role))
	s.log.Info("principal registered", zap.String("user_id", u.ID.String()), zap.String("role", string(role)))
	return tokens, u, nil
}

// Login verifies credentials with lockout by (username, ip).
func (s *SessionService) Login(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	username = strings.TrimSpace(username)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, fmt.Errorf("login limiter: %w", err)
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil && u.Deleted:
		err = errs.ErrNotFound
	case err != nil && !errors.Is(err, errs.ErrNotFound):
		return model.Tokens{}, model.User{}, err
	}
	if err == nil && !s.hasher.Verify(password, u.PwdHash) {
		err = errs.ErrUnauthorized
	}
	if err != nil {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr != nil {
			s.log.Warn("login limiter failure not recorded", zap.Error(ferr))
		} else if blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		return model.Tokens{}, model.User{}, err
	}

	// best-effort reset
	if err := s.lim.Success(ctx, username, ipHash); err != nil {
		s.log.Warn("login limiter reset failed", zap.Error(err))
	}

	tokens, err := s.issue(ctx, u)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	s.auditor.Record(u.ID, model.ActionLogin, "ip="+ip)
	return tokens, *u, nil
}

// Refresh rotates the presented secret: it is consumed and a new pair is issued.
func (s *SessionService) Refresh(ctx context.Context, raw string) (model.Tokens, error) {
	if raw == "" {
		return model.Tokens{}, errs.ErrUnauthorized
	}
	uid, err := s.refresh.Consume(ctx, raw)
	if err != nil {
		if errors.Is(err, errs.ErrTokenInvalid) || errors.Is(err, errs.ErrTokenExpired) {
			return model.Tokens{}, fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
		}
		return model.Tokens{}, err
	}

	u, err := s.users.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Tokens{}, errs.ErrUnauthorized
		}
		return model.Tokens{}, err
	}
	if u.Deleted {
		return model.Tokens{}, errs.ErrUnauthorized
	}
	return s.issue(ctx, u)
}

// Logout revokes the presented secret if any. It is idempotent; actor may be nil when the caller is anonymous.
func (s *SessionService) Logout(ctx context.Context, raw string, actor *uuid.UUID) error {
	if err := s.refresh.RevokeBySecret(ctx, raw); err != nil {
		return err
	}
	if actor != nil {
		s.auditor.Record(*actor, model.ActionLogout, "")
	}
	return nil
}

// ChangePassword replaces the digest after verifying the old password and returns a fresh pair.
func (s *SessionService) ChangePassword(ctx context.Context, principalID uuid.UUID, oldPassword, newPassword string) (model.Tokens, error) {
	if newPassword == "" {
		return model.Tokens{}, fmt.Errorf("%w: empty new password", errs.ErrInvalidArgument)
	}
	u, err := s.users.GetByID(ctx, principalID)
	if err != nil {
		return model.Tokens{}, err
	}
	if u.Deleted {
		return model.Tokens{}, errs.ErrNotFound
	}
	if !s.hasher.Verify(oldPassword, u.PwdHash) {
		return model.Tokens{}, errs.ErrUnauthorized
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("hash password: %w", err)
	}
	// revoke before persisting: a failed revoke must leave the old password in effect
	if s.revokeOnPasswordChange {
		if err := s.refresh.RevokeAll(ctx, u.ID); err != nil {
			return model.Tokens{}, err
		}
	}
	if err := s.users.UpdatePassword(ctx, u.ID, digest); err != nil {
		return model.Tokens{}, err
	}

	tokens, err := s.issue(ctx, u)
	if err != nil {
		return model.Tokens{}, err
	}
	s.auditor.Record(u.ID, model.ActionPasswordChange, "")
	return tokens, nil
}

// Profile loads the principal and its most recent audit events. Audit read failures leave Recent empty.
func (s *SessionService) Profile(ctx context.Context, principalID uuid.UUID) (Profile, error) {
	u, err := s.users.GetByID(ctx, principalID)
	if err != nil {
		return Profile{}, err
	}
	if u.Deleted {
		return Profile{}, errs.ErrNotFound
	}
	p := Profile{User: *u}
	if s.audits == nil {
		return p, nil
	}
	events, err := s.audits.ListByActor(ctx, u.ID, s.profileEvents)
	if err != nil {
		s.log.Warn("audit history unavailable", zap.String("user_id", u.ID.String()), zap.Error(err))
		return p, nil
	}
	p.Recent = events
	return p, nil
}

// PurgeExpiredRefresh is the janitor hook.
func (s *SessionService) PurgeExpiredRefresh(ctx context.Context) (int64, error) {
	return s.refresh.PurgeExpired(ctx)
}

func (s *SessionService) issue(ctx context.Context, u *model.User) (model.Tokens, error) {
	access, exp, err := s.codec.Issue(u.ID, u.Role)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("issue access token: %w", err)
	}
	raw, rexp, err := s.refresh.Create(ctx, u.ID)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp, RefreshToken: raw, RefreshExpiresAt: rexp}, nil
}
