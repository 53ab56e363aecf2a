package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/lms-auth/internal/errs"
)

type errorBody struct {
	Message string `json:"message"`
}

// statusFor maps a service error to a status code and a message safe to show callers.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errs.ErrTokenExpired):
		return http.StatusUnauthorized, "token expired"
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrTokenInvalid):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "too many attempts, try again later"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// abortWithError writes the JSON error body. Internal errors are logged with detail.
func abortWithError(c *gin.Context, log *zap.Logger, err error) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(code, errorBody{Message: msg})
}
