package httpserver

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/lms-auth/internal/model"
)

// Principal is the authenticated caller as carried by a verified access token.
type Principal struct {
	ID   uuid.UUID
	Role model.Role
}

type ctxKey string

const principalKey ctxKey = "lms.principal"

// WithPrincipal stores the authenticated principal in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the principal from context.
func PrincipalFromCtx(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalKey)
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

func principal(c *gin.Context) (Principal, bool) {
	return PrincipalFromCtx(c.Request.Context())
}

func setPrincipal(c *gin.Context, p Principal) {
	c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
}
