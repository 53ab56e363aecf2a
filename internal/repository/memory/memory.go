// Package memory provides in-process repository implementations for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/lms-auth/internal/errs"
	"github.com/and161185/lms-auth/internal/model"
)

// UserRepo is a mutex-guarded user store.
type UserRepo struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*model.User
	byName map[string]uuid.UUID
}

// NewUserRepo returns an empty user store.
func NewUserRepo() *UserRepo {
	return &UserRepo{byID: map[uuid.UUID]*model.User{}, byName: map[string]uuid.UUID{}}
}

func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[u.Username]; ok {
		return errs.ErrAlreadyExists
	}
	c := *u
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.byID[c.ID] = &c
	r.byName[c.Username] = c.ID
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	id, ok := r.byName[username]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepo) UpdatePassword(_ context.Context, id uuid.UUID, pwdHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok || u.Deleted {
		return errs.ErrNotFound
	}
	u.PwdHash = pwdHash
	return nil
}

// SoftDelete flags a user as deleted.
func (r *UserRepo) SoftDelete(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.Deleted = true
	}
}

// SetRole changes a user's role in place.
func (r *UserRepo) SetRole(id uuid.UUID, role model.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.Role = role
	}
}

// RefreshRepo keeps credentials keyed by digest. Consume holds the write lock
// across lookup and delete.
type RefreshRepo struct {
	mu     sync.Mutex
	byHash map[string]model.RefreshCredential

	consumeCalls int
}

// NewRefreshRepo returns an empty credential store.
func NewRefreshRepo() *RefreshRepo {
	return &RefreshRepo{byHash: map[string]model.RefreshCredential{}}
}

func (r *RefreshRepo) Create(_ context.Context, c *model.RefreshCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.byHash[c.TokenHash] = cp
	return nil
}

func (r *RefreshRepo) Consume(_ context.Context, tokenHash string) (*model.RefreshCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumeCalls++
	c, ok := r.byHash[tokenHash]
	if !ok {
		return nil, errs.ErrNotFound
	}
	delete(r.byHash, tokenHash)
	return &c, nil
}

func (r *RefreshRepo) DeleteByHash(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byHash, tokenHash)
	return nil
}

func (r *RefreshRepo) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, c := range r.byHash {
		if c.UserID == userID {
			delete(r.byHash, h)
		}
	}
	return nil
}

func (r *RefreshRepo) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for h, c := range r.byHash {
		if c.Expired(now) {
			delete(r.byHash, h)
			n++
		}
	}
	return n, nil
}

// Len reports how many credentials are stored.
func (r *RefreshRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHash)
}

// ConsumeCalls reports how many times Consume has been called.
func (r *RefreshRepo) ConsumeCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumeCalls
}

// AuditRepo is an append-only in-memory event log.
type AuditRepo struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

// NewAuditRepo returns an empty event log.
func NewAuditRepo() *AuditRepo { return &AuditRepo{} }

func (r *AuditRepo) Append(_ context.Context, e *model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *AuditRepo) ListByActor(_ context.Context, actorID uuid.UUID, limit int) ([]model.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AuditEvent
	for _, e := range r.events {
		if e.ActorID == actorID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LoggedAt.After(out[j].LoggedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
