package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/lms-auth/internal/errs"
	"github.com/and161185/lms-auth/internal/metrics"
	"github.com/and161185/lms-auth/internal/model"
	"github.com/and161185/lms-auth/internal/service"
)

// Sessions is the session service as seen by the transport.
type Sessions interface {
	Register(ctx context.Context, username, password string, role model.Role) (model.Tokens, model.User, error)
	Login(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error)
	Refresh(ctx context.Context, raw string) (model.Tokens, error)
	Logout(ctx context.Context, raw string, actor *uuid.UUID) error
	ChangePassword(ctx context.Context, principalID uuid.UUID, oldPassword, newPassword string) (model.Tokens, error)
	Profile(ctx context.Context, principalID uuid.UUID) (service.Profile, error)
	RefreshHorizon() int
}

type handler struct {
	svc     Sessions
	cookies cookieJar
	m       *metrics.Metrics
	log     *zap.Logger
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type passwordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// TokenResponse is the success body of every endpoint that opens or rotates a session.
type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// EventView is one audit entry in a profile.
type EventView struct {
	Action   string    `json:"action"`
	Details  string    `json:"details,omitempty"`
	LoggedAt time.Time `json:"loggedAt"`
}

// ProfileResponse is the body of GET /auth/me.
type ProfileResponse struct {
	ID           string      `json:"id"`
	Username     string      `json:"username"`
	Role         model.Role  `json:"role"`
	CreatedAt    time.Time   `json:"createdAt"`
	RecentEvents []EventView `json:"recentEvents"`
}

func (h *handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abortWithError(c, h.log, fmt.Errorf("%w: malformed request body", errs.ErrInvalidArgument))
		return false
	}
	return true
}

func (h *handler) session(c *gin.Context, status int, t model.Tokens) {
	h.cookies.set(c, t.RefreshToken)
	c.JSON(status, TokenResponse{AccessToken: t.AccessToken, ExpiresAt: t.ExpiresAt})
}

func (h *handler) register(c *gin.Context) {
	var req registerRequest
	if !h.bind(c, &req) {
		return
	}
	t, _, err := h.svc.Register(c.Request.Context(), req.Username, req.Password, model.Role(req.Role))
	h.m.Registrations.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	h.session(c, http.StatusCreated, t)
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}
	t, _, err := h.svc.Login(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	h.m.LoginAttempts.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	h.session(c, http.StatusOK, t)
}

func (h *handler) refresh(c *gin.Context) {
	t, err := h.svc.Refresh(c.Request.Context(), refreshSecret(c))
	h.m.TokenRefresh.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		if code, _ := statusFor(err); code == http.StatusUnauthorized {
			h.cookies.clear(c)
		}
		abortWithError(c, h.log, err)
		return
	}
	h.session(c, http.StatusOK, t)
}

func (h *handler) logout(c *gin.Context) {
	var actor *uuid.UUID
	if p, ok := principal(c); ok {
		actor = &p.ID
	}
	if err := h.svc.Logout(c.Request.Context(), refreshSecret(c), actor); err != nil {
		h.log.Warn("logout revoke failed", zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
	}
	h.cookies.clear(c)
	c.Status(http.StatusNoContent)
}

func (h *handler) me(c *gin.Context) {
	p, _ := principal(c)
	h.profile(c, p.ID)
}

func (h *handler) userProfile(c *gin.Context) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		abortWithError(c, h.log, fmt.Errorf("%w: bad user id", errs.ErrInvalidArgument))
		return
	}
	h.profile(c, id)
}

func (h *handler) profile(c *gin.Context, id uuid.UUID) {
	prof, err := h.svc.Profile(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	resp := ProfileResponse{
		ID:           prof.User.ID.String(),
		Username:     prof.User.Username,
		Role:         prof.User.Role,
		CreatedAt:    prof.User.CreatedAt,
		RecentEvents: make([]EventView, 0, len(prof.Recent)),
	}
	for _, e := range prof.Recent {
		resp.RecentEvents = append(resp.RecentEvents, EventView{Action: e.Action, Details: e.Details, LoggedAt: e.LoggedAt})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) changePassword(c *gin.Context) {
	var req passwordRequest
	if !h.bind(c, &req) {
		return
	}
	p, _ := principal(c)
	t, err := h.svc.ChangePassword(c.Request.Context(), p.ID, req.OldPassword, req.NewPassword)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	h.session(c, http.StatusOK, t)
}
