// Package client talks to the session API and transparently renews expired access tokens.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// refreshCookieName matches the server's refresh cookie.
const refreshCookieName = "refresh_token"

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusUnauthorized
}

// Options configure a Client. Zero values select defaults.
type Options struct {
	HTTPClient     *http.Client
	Store          TokenStore
	RefreshTimeout time.Duration
	// OnLogout is the hard-logout signal raised when a refresh is rejected.
	OnLogout func(err error)
	Logger   *zap.Logger
}

// Client is safe for concurrent use.
type Client struct {
	base  *url.URL
	hc    *http.Client
	store TokenStore
	coord *Coordinator
	log   *zap.Logger

	mu       sync.Mutex
	expireAt time.Time
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Profile mirrors GET /auth/me.
type Profile struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	RecentEvents []struct {
		Action   string    `json:"action"`
		Details  string    `json:"details,omitempty"`
		LoggedAt time.Time `json:"loggedAt"`
	} `json:"recentEvents"`
}

// New builds a client for baseURL and restores any stored session.
func New(baseURL string, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("client: base url %q must be absolute", baseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	} else {
		cp := *hc
		hc = &cp
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc.Jar = jar
	}
	if opts.Store == nil {
		opts.Store = &MemoryTokenStore{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Client{base: base, hc: hc, store: opts.Store, log: opts.Logger}

	s, err := c.store.Load()
	if err != nil {
		return nil, fmt.Errorf("client: load session: %w", err)
	}
	if s.RefreshToken != "" {
		hc.Jar.SetCookies(c.authURL(), []*http.Cookie{{Name: refreshCookieName, Value: s.RefreshToken, Path: "/auth"}})
	}
	c.expireAt = s.ExpiresAt

	c.coord = NewCoordinator(CoordinatorConfig{
		Refresh: c.refreshToken,
		Timeout: opts.RefreshTimeout,
		OnLogout: func(err error) {
			c.log.Warn("session expired, login required", zap.Error(err))
			if cerr := c.store.Clear(); cerr != nil {
				c.log.Warn("clear session", zap.Error(cerr))
			}
			if opts.OnLogout != nil {
				opts.OnLogout(err)
			}
		},
	}, s.AccessToken)
	return c, nil
}

// Close rejects pending and future renewals.
func (c *Client) Close() { c.coord.Close() }

// Token returns the current access token.
func (c *Client) Token() string { return c.coord.Token() }

// Refreshes reports how many refresh calls this client has started.
func (c *Client) Refreshes() int { return c.coord.Refreshes() }

func (c *Client) authURL() *url.URL {
	return c.base.JoinPath("auth")
}

func (c *Client) refreshSecret() string {
	for _, ck := range c.hc.Jar.Cookies(c.authURL().JoinPath("refresh")) {
		if ck.Name == refreshCookieName {
			return ck.Value
		}
	}
	return ""
}

// persist stores the access token alongside the refresh secret currently in the jar.
func (c *Client) persist(tr tokenResponse) {
	c.mu.Lock()
	c.expireAt = tr.ExpiresAt
	c.mu.Unlock()
	s := Session{AccessToken: tr.AccessToken, ExpiresAt: tr.ExpiresAt, RefreshToken: c.refreshSecret()}
	if err := c.store.Save(s); err != nil {
		c.log.Warn("save session", zap.Error(err))
	}
}

func isAuthFlow(path string) bool {
	switch path {
	case "/auth/register", "/auth/login", "/auth/refresh":
		return true
	}
	return false
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, bearer string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.hc.Do(req)
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
		return &APIError{Status: resp.StatusCode, Message: eb.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// bearerChallenge reports a 401 raised by access token verification. Other 401s,
// such as a wrong current password, are answers about the request body and are never retried.
func bearerChallenge(resp *http.Response) bool {
	if resp.StatusCode != http.StatusUnauthorized {
		return false
	}
	scheme, _, _ := strings.Cut(strings.TrimSpace(resp.Header.Get("WWW-Authenticate")), " ")
	return strings.EqualFold(scheme, "Bearer")
}

// Do sends a JSON request with the current access token. A Bearer-challenged 401 on a non auth-flow
// path triggers one shared refresh and exactly one replay; a second 401 is returned as is.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = b
	}

	authFlow := isAuthFlow(path)
	var used string
	if !authFlow {
		used = c.coord.Token()
	}
	resp, err := c.send(ctx, method, path, body, used)
	if err != nil {
		return err
	}
	if authFlow || !bearerChallenge(resp) {
		return decode(resp, out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	fresh, err := c.coord.Renew(ctx, used)
	if err != nil {
		return err
	}
	resp, err = c.send(ctx, method, path, body, fresh)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// refreshToken is the coordinator's refresh call.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, "/auth/refresh", nil, "")
	if err != nil {
		return "", err
	}
	var tr tokenResponse
	if err := decode(resp, &tr); err != nil {
		return "", err
	}
	c.persist(tr)
	return tr.AccessToken, nil
}

func (c *Client) openSession(ctx context.Context, method, path string, in any) error {
	var tr tokenResponse
	if err := c.Do(ctx, method, path, in, &tr); err != nil {
		return err
	}
	c.persist(tr)
	c.coord.SetToken(tr.AccessToken)
	return nil
}

// Register creates an account and starts a session.
func (c *Client) Register(ctx context.Context, username, password, role string) error {
	return c.openSession(ctx, http.MethodPost, "/auth/register", map[string]string{
		"username": username, "password": password, "role": role,
	})
}

// Login starts a session.
func (c *Client) Login(ctx context.Context, username, password string) error {
	return c.openSession(ctx, http.MethodPost, "/auth/login", map[string]string{
		"username": username, "password": password,
	})
}

// Refresh forces a rotation through the coordinator.
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.coord.Renew(ctx, c.coord.Token())
	return err
}

// ChangePassword updates the password; the server answers with a fresh session.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return c.openSession(ctx, http.MethodPut, "/auth/password", map[string]string{
		"oldPassword": oldPassword, "newPassword": newPassword,
	})
}

// Me returns the caller's profile.
func (c *Client) Me(ctx context.Context) (Profile, error) {
	var p Profile
	err := c.Do(ctx, http.MethodGet, "/auth/me", nil, &p)
	return p, err
}

// Logout revokes the refresh secret server-side and always clears local state.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodPost, "/auth/logout", nil, c.coord.Token())
	if err == nil {
		err = decode(resp, nil)
	}
	c.coord.Clear()
	c.hc.Jar.SetCookies(c.authURL(), []*http.Cookie{{Name: refreshCookieName, Path: "/auth", MaxAge: -1}})
	if cerr := c.store.Clear(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// ExpiresAt is the expiry of the current access token as reported by the server.
func (c *Client) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expireAt
}
