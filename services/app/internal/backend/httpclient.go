package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"umkmhub/pkg/bus"
	"umkmhub/pkg/telemetry"
)

const tokenExpiredMessage = "token expired"

// Options configures an HTTPClient.
type Options struct {
	// BaseURL is the root of the data service, e.g. "http://localhost:8080".
	BaseURL string
	// StatePath is where issued tokens are persisted between runs. Empty
	// disables persistence (sessions live only as long as the process).
	StatePath string
	// Bus carries realtime insert subscriptions. Optional; Subscribe fails
	// without it.
	Bus *bus.Bus
	// HTTPClient overrides the default client (15s timeout, traced transport).
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// HTTPClient implements Client against the umkmhub data service REST surface.
// It is safe for concurrent use.
type HTTPClient struct {
	baseURL   string
	http      *http.Client
	bus       *bus.Bus
	statePath string
	logger    zerolog.Logger

	mu           sync.Mutex
	session      *Session
	refreshToken string
	listeners    map[int]func(*Session)
	nextListener int
}

// NewHTTPClient builds an HTTPClient from the given options.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   15 * time.Second,
			Transport: telemetry.Transport(nil),
		}
	}

	return &HTTPClient{
		baseURL:   opts.BaseURL,
		http:      httpClient,
		bus:       opts.Bus,
		statePath: opts.StatePath,
		logger:    opts.Logger,
		listeners: make(map[int]func(*Session)),
	}, nil
}

type tokenState struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GetSession returns the current session, restoring a persisted token if one
// exists. An expired access token is refreshed when a refresh token is
// available; otherwise a nil session is reported without error.
func (c *HTTPClient) GetSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.session != nil && time.Now().Before(c.session.ExpiresAt) {
		s := *c.session
		c.mu.Unlock()
		return &s, nil
	}

	if c.session == nil {
		c.loadStateLocked()
	}

	session := c.session
	refresh := c.refreshToken
	c.mu.Unlock()

	if session != nil && time.Now().Before(session.ExpiresAt) {
		s := *session
		return &s, nil
	}

	if refresh == "" {
		return nil, nil
	}

	if err := c.refresh(ctx); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, nil
		}
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, nil
	}
	s := *c.session
	return &s, nil
}

// OnSessionChange registers a listener for sign-in, sign-out, and token
// refresh events. The returned function unregisters it.
func (c *HTTPClient) OnSessionChange(fn func(*Session)) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SignInWithPassword exchanges credentials for a session. The service's
// rejection is returned verbatim wrapped in ErrInvalidCredentials; callers
// decide how to surface the text.
func (c *HTTPClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}

	var tokens tokenResponse
	status, err := c.roundTrip(ctx, http.MethodPost, "/v1/auth/token", nil, body, "", &tokens)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, err.Error())
		}
		return nil, err
	}

	session, err := sessionFromToken(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("malformed access token: %w", err)
	}

	c.mu.Lock()
	c.session = session
	c.refreshToken = tokens.RefreshToken
	c.saveStateLocked()
	c.mu.Unlock()

	c.broadcast(session)
	s := *session
	return &s, nil
}

// SignOut revokes the refresh token server-side and clears the persisted
// session either way, so a restart cannot resurrect stale credentials.
func (c *HTTPClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()

	var err error
	if refresh != "" {
		_, err = c.roundTrip(ctx, http.MethodPost, "/v1/auth/signout", nil,
			map[string]string{"refresh_token": refresh}, "", nil)
	}

	c.mu.Lock()
	c.session = nil
	c.refreshToken = ""
	c.clearStateLocked()
	c.mu.Unlock()

	c.broadcast(nil)
	return err
}

func (c *HTTPClient) Select(ctx context.Context, table string, filters Filters, dest any) error {
	var resp struct {
		Rows json.RawMessage `json:"rows"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/data/"+table, filterValues(filters), nil, &resp); err != nil {
		return err
	}
	if dest == nil || len(resp.Rows) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Rows, dest)
}

func (c *HTTPClient) Insert(ctx context.Context, table string, row Row) error {
	return c.do(ctx, http.MethodPost, "/v1/data/"+table, nil, row, nil)
}

func (c *HTTPClient) Update(ctx context.Context, table string, filters Filters, patch Row) error {
	return c.do(ctx, http.MethodPatch, "/v1/data/"+table, filterValues(filters), patch, nil)
}

func (c *HTTPClient) Delete(ctx context.Context, table string, filters Filters) error {
	return c.do(ctx, http.MethodDelete, "/v1/data/"+table, filterValues(filters), nil, nil)
}

// Close releases the underlying transport resources.
func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// do performs an authenticated request, transparently refreshing an expired
// access token once and replaying.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, dest any) error {
	c.mu.Lock()
	token := ""
	if c.session != nil {
		token = c.session.AccessToken
	}
	canRefresh := c.refreshToken != ""
	c.mu.Unlock()

	status, err := c.roundTrip(ctx, method, path, query, body, token, dest)
	if err == nil {
		return nil
	}

	if status == http.StatusUnauthorized && err.Error() == tokenExpiredMessage && canRefresh {
		if refreshErr := c.refresh(ctx); refreshErr != nil {
			return refreshErr
		}

		c.mu.Lock()
		token = ""
		if c.session != nil {
			token = c.session.AccessToken
		}
		c.mu.Unlock()

		status, err = c.roundTrip(ctx, method, path, query, body, token, dest)
		return mapStatusError(status, err)
	}

	return mapStatusError(status, err)
}

// roundTrip issues one HTTP request. The returned error carries the service's
// error text; the caller maps status codes to sentinels.
func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, query url.Values, body any, token string, dest any) (int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if dest == nil {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(dest)
	}

	var apiErr errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	if apiErr.Error == "" {
		apiErr.Error = resp.Status
	}
	return resp.StatusCode, errors.New(apiErr.Error)
}

// refresh rotates the token pair. A rejected refresh token clears the session
// and notifies listeners, since the identity is gone for good.
func (c *HTTPClient) refresh(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()

	if refresh == "" {
		return ErrUnauthorized
	}

	var tokens tokenResponse
	status, err := c.roundTrip(ctx, http.MethodPost, "/v1/auth/refresh", nil,
		map[string]string{"refresh_token": refresh}, "", &tokens)
	if err != nil {
		if status == http.StatusUnauthorized {
			c.mu.Lock()
			c.session = nil
			c.refreshToken = ""
			c.clearStateLocked()
			c.mu.Unlock()
			c.broadcast(nil)
			return fmt.Errorf("%w: %s", ErrUnauthorized, err.Error())
		}
		return err
	}

	session, err := sessionFromToken(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("malformed access token: %w", err)
	}

	c.mu.Lock()
	c.session = session
	c.refreshToken = tokens.RefreshToken
	c.saveStateLocked()
	c.mu.Unlock()

	// A refresh is a session change: same subject, new token.
	c.broadcast(session)
	return nil
}

func (c *HTTPClient) broadcast(session *Session) {
	c.mu.Lock()
	fns := make([]func(*Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		var copied *Session
		if session != nil {
			s := *session
			copied = &s
		}
		fn(copied)
	}
}

func (c *HTTPClient) loadStateLocked() {
	if c.statePath == "" {
		return
	}

	data, err := os.ReadFile(c.statePath)
	if err != nil {
		return
	}

	var state tokenState
	if err := json.Unmarshal(data, &state); err != nil {
		c.logger.Warn().Err(err).Str("path", c.statePath).Msg("discarding unreadable token state")
		return
	}

	if session, err := sessionFromToken(state.AccessToken); err == nil {
		c.session = session
	}
	c.refreshToken = state.RefreshToken
}

func (c *HTTPClient) saveStateLocked() {
	if c.statePath == "" {
		return
	}

	state := tokenState{RefreshToken: c.refreshToken}
	if c.session != nil {
		state.AccessToken = c.session.AccessToken
	}

	data, err := json.Marshal(state)
	if err != nil {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.statePath), 0o700); err != nil {
		c.logger.Warn().Err(err).Msg("cannot create state directory")
		return
	}
	if err := os.WriteFile(c.statePath, data, 0o600); err != nil {
		c.logger.Warn().Err(err).Msg("cannot persist token state")
	}
}

func (c *HTTPClient) clearStateLocked() {
	if c.statePath == "" {
		return
	}
	_ = os.Remove(c.statePath)
}

// sessionFromToken derives the Session from the access token claims. The
// signature is the service's concern; the client only needs subject, email,
// and expiry.
func sessionFromToken(access string) (*Session, error) {
	if access == "" {
		return nil, errors.New("empty token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return nil, err
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("token has no subject")
	}

	session := &Session{UserID: sub, AccessToken: access}
	if email, ok := claims["email"].(string); ok {
		session.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpiresAt = exp.Time
	}
	return session, nil
}

func mapStatusError(status int, err error) error {
	if err == nil {
		return nil
	}
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, err.Error())
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, err.Error())
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, err.Error())
	}
	if status >= 500 {
		return fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
	}
	return err
}

func filterValues(filters Filters) url.Values {
	if len(filters) == 0 {
		return nil
	}
	values := url.Values{}
	for k, v := range filters {
		values.Set(k, v)
	}
	return values
}
