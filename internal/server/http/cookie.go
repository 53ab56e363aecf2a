package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RefreshCookieName is the cookie carrying the raw refresh secret.
const RefreshCookieName = "refresh_token"

// refreshCookiePath limits the cookie to the auth endpoints.
const refreshCookiePath = "/auth"

type cookieJar struct {
	secure bool
	maxAge int
}

func (j cookieJar) set(c *gin.Context, raw string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    raw,
		Path:     refreshCookiePath,
		MaxAge:   j.maxAge,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (j cookieJar) clear(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func refreshSecret(c *gin.Context) string {
	raw, err := c.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return raw
}
