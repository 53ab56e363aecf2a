// Package httpserver exposes the session API over HTTP with gin.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/lms-auth/internal/limiter"
	"github.com/and161185/lms-auth/internal/metrics"
	"github.com/and161185/lms-auth/internal/model"
)

// Deps are the collaborators of the HTTP surface. Gate may be nil.
type Deps struct {
	Sessions      Sessions
	Verifier      Verifier
	Metrics       *metrics.Metrics
	Gate          *limiter.Gate
	Logger        *zap.Logger
	SecureCookies bool
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(d Deps) *gin.Engine {
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	log := d.Logger.Named("http")

	r := gin.New()
	r.Use(Logging(log), Recovery(log, d.Metrics), Metrics(d.Metrics))
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody{Message: "not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, errorBody{Message: "method not allowed"})
	})

	h := &handler{
		svc:     d.Sessions,
		cookies: cookieJar{secure: d.SecureCookies, maxAge: d.Sessions.RefreshHorizon()},
		m:       d.Metrics,
		log:     log,
	}

	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	auth := r.Group("/auth")
	{
		creds := auth.Group("", RateGate(d.Gate, d.Metrics))
		creds.POST("/register", h.register)
		creds.POST("/login", h.login)
		creds.GET("/refresh", h.refresh)

		auth.POST("/logout", OptionalAuth(d.Verifier), h.logout)

		authed := auth.Group("", RequireAuth(d.Verifier))
		authed.GET("/me", h.me)
		authed.PUT("/password", h.changePassword)
	}

	admin := r.Group("/admin", RequireAuth(d.Verifier), RequireRole(model.RoleAdmin))
	admin.GET("/users/:id", h.userProfile)

	return r
}

// Server runs the HTTP API with graceful shutdown.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// NewServer wraps handler in an http.Server with conservative timeouts.
func NewServer(addr string, handler http.Handler, log *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is done, then shuts down within five seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(sctx); err != nil {
			_ = s.srv.Close()
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
