// Package client implements the calling application's half of the session
// lifecycle: it caches the current access token, refreshes it through the
// auth API, and coordinates concurrent requests so that any number of
// simultaneous expiry observations collapse into a single refresh call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrSessionExpired is returned when the session cannot be recovered by a
// refresh and the caller must re-authenticate. This also covers the lost
// rotation response case: if the server committed a rotation but the reply
// never arrived, the cookie jar holds a consumed token and the next refresh
// fails the same way a stolen-token replay would.
var ErrSessionExpired = errors.New("session expired, re-authentication required")

// ErrNotAuthenticated is returned by Do before any successful login.
var ErrNotAuthenticated = errors.New("not authenticated")

// Session is the cached client-side view of the authenticated session.
type Session struct {
	AccessToken  string    `json:"access_token"`
	AccessExpiry time.Time `json:"access_expiry"`
}

// TokenStorage persists the cached session across process restarts.
type TokenStorage interface {
	Load() (*Session, error)
	Save(*Session) error
	Clear() error
}

// Options configures a Coordinator.
type Options struct {
	// HTTPClient carries the refresh token cookie; when nil a client with a
	// fresh in-memory cookie jar is used.
	HTTPClient *http.Client
	// Storage persists the access token; nil keeps it in memory only.
	Storage TokenStorage
	// RefreshTimeout bounds each refresh round-trip. A timed-out refresh is
	// treated exactly like a failed one. Default 10s.
	RefreshTimeout time.Duration
	// RefreshMargin is how long before access expiry the proactive refresh
	// fires. Default 30s.
	RefreshMargin time.Duration
	// OnSignOut is invoked once whenever the session becomes unrecoverable,
	// e.g. to navigate to a login surface.
	OnSignOut func()
	Logger    *zap.Logger
}

// Coordinator serializes refresh traffic for a single application instance.
// Construct one per application lifetime and share it across goroutines.
type Coordinator struct {
	baseURL string
	http    *http.Client
	storage TokenStorage
	logger  *zap.Logger

	refreshTimeout time.Duration
	refreshMargin  time.Duration
	onSignOut      func()

	group singleflight.Group

	mu      sync.Mutex
	session *Session
	timer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCoordinator builds a coordinator talking to the auth API at baseURL
// (e.g. "https://api.example.com/api/v1").
func NewCoordinator(baseURL string, opts Options) (*Coordinator, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 10 * time.Second
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		baseURL:        baseURL,
		http:           httpClient,
		storage:        opts.Storage,
		logger:         logger,
		refreshTimeout: opts.RefreshTimeout,
		refreshMargin:  opts.RefreshMargin,
		onSignOut:      opts.OnSignOut,
		ctx:            ctx,
		cancel:         cancel,
	}

	if c.storage != nil {
		if session, err := c.storage.Load(); err == nil && session != nil && session.AccessToken != "" {
			c.session = session
			c.scheduleProactiveRefresh(session.AccessExpiry)
		}
	}

	return c, nil
}

// Close stops the proactive refresh timer and fails any refresh waiters with
// a cancellation error rather than leaving them dangling.
func (c *Coordinator) Close() {
	c.cancel()
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
}

type tokenPayload struct {
	AccessToken   string    `json:"access_token"`
	AccessExpiry  time.Time `json:"access_expiry"`
	RefreshExpiry time.Time `json:"refresh_expiry"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Login authenticates and primes the session cache. The refresh token is
// captured by the HTTP client's cookie jar; the coordinator never sees it.
func (c *Coordinator) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	payload, err := c.doTokenRequest(req)
	if err != nil {
		return err
	}

	c.storeSession(&Session{AccessToken: payload.AccessToken, AccessExpiry: payload.AccessExpiry})
	return nil
}

// Logout revokes the refresh token server-side and drops the local session.
func (c *Coordinator) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/logout", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err == nil {
		resp.Body.Close()
	}
	c.dropSession()
	return err
}

// AccessToken returns the cached access token, empty when signed out.
func (c *Coordinator) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

// Do executes the request with the cached access token attached. When the
// response is 401 it refreshes the session (deduplicated across concurrent
// callers) and retries exactly once; a second 401 after a successful refresh
// is a hard authentication failure, never a retry loop.
func (c *Coordinator) Do(req *http.Request) (*http.Response, error) {
	token := c.AccessToken()
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	resp, err := c.send(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	newToken, err := c.refresh(req.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller gave up waiting or the coordinator is shutting
			// down. The shared refresh may still succeed for everyone
			// else, so this is not a verdict on the session.
			return nil, err
		}
		c.signOut()
		return nil, err
	}

	resp, err = c.send(req, newToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.signOut()
		return nil, ErrSessionExpired
	}
	return resp, nil
}

// refresh collapses all concurrent refresh triggers into one network call
// and fans the result out to every waiter. Refresh tokens are single use, so
// without this collapsing only the first of N concurrent callers would
// succeed and the rest would be incorrectly signed out of a healthy session.
func (c *Coordinator) refresh(ctx context.Context) (string, error) {
	result := c.group.DoChan("refresh", func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(c.ctx, c.refreshTimeout)
		defer cancel()

		payload, err := c.callRefresh(refreshCtx)
		if err != nil {
			return nil, err
		}

		c.storeSession(&Session{AccessToken: payload.AccessToken, AccessExpiry: payload.AccessExpiry})
		return payload.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		// Only this waiter leaves; the in-flight refresh keeps running on
		// the coordinator's own context.
		return "", ctx.Err()
	case res := <-result:
		if res.Err != nil {
			if errors.Is(res.Err, context.Canceled) {
				// Coordinator closed mid-refresh.
				return "", fmt.Errorf("refresh aborted: %w", res.Err)
			}
			// Timeouts count as failed refreshes: the session state is
			// unknown and waiting longer will not resolve it.
			return "", ErrSessionExpired
		}
		return res.Val.(string), nil
	}
}

func (c *Coordinator) callRefresh(ctx context.Context) (*tokenPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", nil)
	if err != nil {
		return nil, err
	}
	return c.doTokenRequest(req)
}

func (c *Coordinator) doTokenRequest(req *http.Request) (*tokenPayload, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if env.Error != nil {
			return nil, fmt.Errorf("auth request failed: %s", env.Error.Code)
		}
		return nil, fmt.Errorf("auth request failed: status %d", resp.StatusCode)
	}

	var payload tokenPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode token payload: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("auth response missing access token")
	}
	return &payload, nil
}

func (c *Coordinator) send(req *http.Request, token string) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		cloned.Body = body
	}
	cloned.Header.Set("Authorization", "Bearer "+token)
	return c.http.Do(cloned)
}

func (c *Coordinator) storeSession(session *Session) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	if c.storage != nil {
		if err := c.storage.Save(session); err != nil {
			c.logger.Warn("failed to persist session", zap.Error(err))
		}
	}
	c.scheduleProactiveRefresh(session.AccessExpiry)
}

func (c *Coordinator) dropSession() bool {
	c.mu.Lock()
	had := c.session != nil
	c.session = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if c.storage != nil {
		if err := c.storage.Clear(); err != nil {
			c.logger.Warn("failed to clear persisted session", zap.Error(err))
		}
	}
	return had
}

// signOut clears the session and notifies the application exactly once;
// concurrent waiters that all observed the same failed refresh do not stack
// up repeated notifications.
func (c *Coordinator) signOut() {
	if c.dropSession() && c.onSignOut != nil {
		c.onSignOut()
	}
}

// scheduleProactiveRefresh arms a timer a fixed margin before access expiry
// so the renewal cost stays off real requests' critical path. A failed
// proactive refresh is only logged; the next request falls back to the
// reactive 401 path.
func (c *Coordinator) scheduleProactiveRefresh(expiry time.Time) {
	delay := time.Until(expiry) - c.refreshMargin
	if delay < 0 {
		delay = 0
	}

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() {
		if c.ctx.Err() != nil {
			return
		}
		if _, err := c.refresh(c.ctx); err != nil {
			c.logger.Warn("proactive refresh failed", zap.Error(err))
		}
	})
	c.mu.Unlock()
}
