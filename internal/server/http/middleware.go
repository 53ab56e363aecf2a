package httpserver

import (
	"errors"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/lms-auth/internal/errs"
	"github.com/and161185/lms-auth/internal/limiter"
	"github.com/and161185/lms-auth/internal/metrics"
	"github.com/and161185/lms-auth/internal/model"
	"github.com/and161185/lms-auth/internal/token"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// Verifier checks access tokens.
type Verifier interface {
	Verify(tok string) (*token.Claims, error)
}

// Logging assigns a request id and writes one access log line per request.
func Logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(requestIDHeader)
		if rid == "" || len(rid) > 64 {
			if id, err := uuid.NewV4(); err == nil {
				rid = id.String()
			}
		}
		c.Set(requestIDKey, rid)
		c.Header(requestIDHeader, rid)

		c.Next()

		// headers and bodies carry credentials; only metadata is logged
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", rid),
		}
		if p, ok := principal(c); ok {
			fields = append(fields, zap.String("user_id", p.ID.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("http", fields...)
		default:
			log.Info("http", fields...)
		}
	}
}

// Recovery turns handler panics into a 500 with the usual error body.
func Recovery(log *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, reason any) {
		log.Error("panic",
			zap.Any("reason", reason),
			zap.ByteString("stack", debug.Stack()),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(requestIDKey)),
		)
		if m != nil {
			m.Panics.Inc()
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Message: "internal error"})
	})
}

// Metrics records request counts and latency by route template.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// RateGate rejects callers exceeding the per-IP token bucket.
func RateGate(g *limiter.Gate, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Allow(c.ClientIP()) {
			if m != nil {
				m.RateLimited.Inc()
			}
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Message: "rate limited"})
			return
		}
		c.Next()
	}
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func verifyPrincipal(v Verifier, raw string) (Principal, error) {
	claims, err := v.Verify(raw)
	if err != nil {
		return Principal{}, err
	}
	id, err := claims.PrincipalID()
	if err != nil {
		return Principal{}, errs.ErrTokenInvalid
	}
	return Principal{ID: id, Role: claims.Role}, nil
}

// RequireAuth verifies the bearer access token and puts the principal into the request context.
func RequireAuth(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c)
		if raw == "" {
			c.Header("WWW-Authenticate", `Bearer realm="lms"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Message: "missing bearer token"})
			return
		}
		p, err := verifyPrincipal(v, raw)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, errs.ErrTokenExpired) {
				msg = "token expired"
			}
			c.Header("WWW-Authenticate", `Bearer realm="lms", error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Message: msg})
			return
		}
		setPrincipal(c, p)
		c.Next()
	}
}

// OptionalAuth attaches the principal when a valid bearer token is present and never rejects.
func OptionalAuth(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearer(c); raw != "" {
			if p, err := verifyPrincipal(v, raw); err == nil {
				setPrincipal(c, p)
			}
		}
		c.Next()
	}
}

// RequireRole allows the request only when the principal holds one of roles. Use after RequireAuth.
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Message: "unauthorized"})
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Message: "forbidden"})
	}
}
