package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrSessionExpired means the refresh secret was rejected; the user has to log in again.
	ErrSessionExpired = errors.New("session expired")
	// ErrClosed is returned to callers waiting on, or arriving after, Close.
	ErrClosed = errors.New("client closed")
)

// DefaultRefreshTimeout bounds a single refresh round trip.
const DefaultRefreshTimeout = 10 * time.Second

// RefreshFunc exchanges the stored refresh secret for a new access token.
type RefreshFunc func(ctx context.Context) (string, error)

// CoordinatorConfig configures a Coordinator. Only Refresh is required.
type CoordinatorConfig struct {
	Refresh RefreshFunc
	Timeout time.Duration
	// OnRefreshed runs after a successful refresh, before waiters are released.
	OnRefreshed func(token string)
	// OnLogout runs once per failed refresh, before waiters are released.
	OnLogout func(err error)
}

type renewResult struct {
	token string
	err   error
}

// Coordinator makes concurrent authorization failures share one refresh call.
//
// Every caller whose request was rejected calls Renew with the token it used. The
// first one starts the refresh; the rest queue until it finishes. Callers that
// arrive after a refresh already replaced their token get the new one at once.
type Coordinator struct {
	cfg    CoordinatorConfig
	base   context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	current    string
	refreshing bool
	expired    bool
	closed     bool
	waiters    []chan renewResult
	refreshes  int
}

// NewCoordinator returns an idle coordinator holding initial as the current token.
func NewCoordinator(cfg CoordinatorConfig, initial string) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRefreshTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{cfg: cfg, base: base, cancel: cancel, current: initial}
}

// Token returns the current access token, empty when logged out.
func (c *Coordinator) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetToken installs a token obtained outside a refresh (login, register, password change).
func (c *Coordinator) SetToken(tok string) {
	c.mu.Lock()
	c.current = tok
	c.expired = false
	c.mu.Unlock()
}

// Clear forgets the current token without signalling a logout.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	c.current = ""
	c.mu.Unlock()
}

// Refreshes reports how many refresh calls were started.
func (c *Coordinator) Refreshes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

// Renew returns a token newer than stale, refreshing at most once for all concurrent callers.
// A failed refresh yields ErrSessionExpired, also for callers arriving later, until SetToken.
func (c *Coordinator) Renew(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return "", ErrClosed
	case c.expired:
		c.mu.Unlock()
		return "", ErrSessionExpired
	case !c.refreshing && c.current != "" && c.current != stale:
		tok := c.current
		c.mu.Unlock()
		return tok, nil
	}

	ch := make(chan renewResult, 1)
	c.waiters = append(c.waiters, ch)
	if !c.refreshing {
		c.refreshing = true
		c.refreshes++
		go c.run()
	}
	c.mu.Unlock()

	select {
	case r := <-ch:
		return r.token, r.err
	case <-ctx.Done():
		// the refresh keeps going for everyone else; ch is buffered
		return "", ctx.Err()
	}
}

// run performs the refresh detached from any single caller's context.
func (c *Coordinator) run() {
	ctx, cancel := context.WithTimeout(c.base, c.cfg.Timeout)
	tok, err := c.cfg.Refresh(ctx)
	cancel()
	if err == nil && tok == "" {
		err = errors.New("empty access token")
	}

	c.mu.Lock()
	closed := c.closed
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	if !closed {
		if err == nil {
			c.current = tok
		} else {
			c.current = ""
			c.expired = true
		}
	}
	c.mu.Unlock()

	if closed {
		return
	}

	res := renewResult{token: tok}
	if err != nil {
		res = renewResult{err: fmt.Errorf("%w: %w", ErrSessionExpired, err)}
		if c.cfg.OnLogout != nil {
			c.cfg.OnLogout(err)
		}
	} else if c.cfg.OnRefreshed != nil {
		c.cfg.OnRefreshed(tok)
	}
	for _, w := range waiters {
		w <- res
	}
}

// Close aborts an in-flight refresh and rejects all queued and future callers with ErrClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	c.cancel()
	for _, w := range waiters {
		w <- renewResult{err: ErrClosed}
	}
}
