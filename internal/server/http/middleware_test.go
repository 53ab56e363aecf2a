package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/lms-auth/internal/metrics"
	"github.com/and161185/lms-auth/internal/model"
	"github.com/and161185/lms-auth/internal/service"
)

type mockSessions struct{ mock.Mock }

func (m *mockSessions) Register(ctx context.Context, username, password string, role model.Role) (model.Tokens, model.User, error) {
	args := m.Called(ctx, username, password, role)
	return args.Get(0).(model.Tokens), args.Get(1).(model.User), args.Error(2)
}
func (m *mockSessions) Login(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	args := m.Called(ctx, username, password, ip)
	return args.Get(0).(model.Tokens), args.Get(1).(model.User), args.Error(2)
}
func (m *mockSessions) Refresh(ctx context.Context, raw string) (model.Tokens, error) {
	args := m.Called(ctx, raw)
	return args.Get(0).(model.Tokens), args.Error(1)
}
func (m *mockSessions) Logout(ctx context.Context, raw string, actor *uuid.UUID) error {
	return m.Called(ctx, raw, actor).Error(0)
}
func (m *mockSessions) ChangePassword(ctx context.Context, id uuid.UUID, oldPassword, newPassword string) (model.Tokens, error) {
	args := m.Called(ctx, id, oldPassword, newPassword)
	return args.Get(0).(model.Tokens), args.Error(1)
}
func (m *mockSessions) Profile(ctx context.Context, id uuid.UUID) (service.Profile, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(service.Profile), args.Error(1)
}
func (m *mockSessions) RefreshHorizon() int { return 60 }

func mockServer(t *testing.T, ms *mockSessions) *testServer {
	t.Helper()
	m := metrics.New()
	return &testServer{
		router: NewRouter(Deps{
			Sessions: ms,
			Verifier: newTestServer(t).codec,
			Metrics:  m,
			Logger:   zaptest.NewLogger(t),
		}),
		metrics: m,
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	t.Parallel()
	ms := &mockSessions{}
	ms.On("Login", mock.Anything, "u", "p", "192.0.2.10").
		Return(model.Tokens{}, model.User{}, errors.New("pq: connection refused to 10.1.2.3"))
	s := mockServer(t, ms)

	rec := s.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"username": "u", "password": "p"}})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal error", decodeMessage(t, rec))
	ms.AssertExpectations(t)
}

func TestLogout_StorageFailureStillClearsCookie(t *testing.T) {
	t.Parallel()
	ms := &mockSessions{}
	ms.On("Logout", mock.Anything, "raw", (*uuid.UUID)(nil)).Return(errors.New("db down"))
	s := mockServer(t, ms)

	rec := s.do(t, call{method: http.MethodPost, path: "/auth/logout", cookie: "raw"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Less(t, refreshCookie(t, rec).MaxAge, 0)
	ms.AssertExpectations(t)
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	t.Parallel()
	ms := &mockSessions{}
	ms.On("Refresh", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
	s := mockServer(t, ms)

	rec := s.do(t, call{method: http.MethodGet, path: "/auth/refresh", cookie: "x"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal error", decodeMessage(t, rec))
}

func TestLogging_RequestID(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.Use(Logging(zaptest.NewLogger(t)))
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
	require.Equal(t, "abc-123", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	_, err := uuid.FromString(rec.Header().Get(requestIDHeader))
	require.NoError(t, err)
}

func TestRequireRole_WithoutPrincipal(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.GET("/x", RequireRole(model.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole_AnyOf(t *testing.T) {
	t.Parallel()
	withRole := func(role model.Role) gin.HandlerFunc {
		return func(c *gin.Context) {
			setPrincipal(c, Principal{ID: uuid.Must(uuid.NewV4()), Role: role})
			c.Next()
		}
	}
	for role, want := range map[model.Role]int{
		model.RoleStudent:    http.StatusForbidden,
		model.RoleInstructor: http.StatusOK,
		model.RoleAdmin:      http.StatusOK,
	} {
		r := gin.New()
		r.GET("/x", withRole(role), RequireRole(model.RoleInstructor, model.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		require.Equal(t, want, rec.Code, role)
	}
}

func TestBearerParsing(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"":             "",
		"Bearer":       "",
		"Basic abc":    "",
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
	}
	for header, want := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			c.Request.Header.Set("Authorization", header)
		}
		require.Equal(t, want, bearer(c), header)
	}
}

func TestPrincipalFromCtx(t *testing.T) {
	t.Parallel()
	_, ok := PrincipalFromCtx(context.Background())
	require.False(t, ok)

	p := Principal{ID: uuid.Must(uuid.NewV4()), Role: model.RoleStudent}
	got, ok := PrincipalFromCtx(WithPrincipal(context.Background(), p))
	require.True(t, ok)
	require.Equal(t, p, got)
}
