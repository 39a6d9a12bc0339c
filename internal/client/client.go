// Package client is a Go client for the auth API. It keeps the caller's
// token pair current and recovers from an expired access token with exactly
// one refresh and one retry.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrSessionExpired means the access token was rejected and the refresh
	// did not produce a working pair. The caller must log in again.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionConflict is returned by Login when another session is active.
	// Use ConfirmLogoutLogin to take it over.
	ErrSessionConflict = errors.New("session already active")
)

// APIError is a non-2xx answer decoded from the error body.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

// User is the public account view returned by the API.
type User struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// Tokens is the pair the client presents and rotates.
type Tokens struct {
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// ConflictError carries the identity hint of a 409 login answer.
type ConflictError struct {
	User User
}

func (e *ConflictError) Error() string { return ErrSessionConflict.Error() }

func (e *ConflictError) Unwrap() error { return ErrSessionConflict }

type loginResponse struct {
	Tokens
	User User `json:"user"`
}

// Client talks to one auth server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu     sync.Mutex
	tokens Tokens
}

// New returns a client for baseURL, e.g. "http://localhost:8080". A nil
// httpClient selects one with a 10s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Tokens returns the current pair.
func (c *Client) Tokens() Tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// SetTokens installs a pair obtained elsewhere.
func (c *Client) SetTokens(t Tokens) {
	c.mu.Lock()
	c.tokens = t
	c.mu.Unlock()
}

// Login opens a session. A 409 answer is returned as *ConflictError.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	return c.login(ctx, "/v1/auth/login", email, password)
}

// ConfirmLogoutLogin ends any other session of the account and opens one
// here.
func (c *Client) ConfirmLogoutLogin(ctx context.Context, email, password string) (User, error) {
	return c.login(ctx, "/v1/auth/confirm-logout-login", email, password)
}

func (c *Client) login(ctx context.Context, path, email, password string) (User, error) {
	resp, err := c.send(ctx, http.MethodPost, path, map[string]string{"email": email, "password": password})
	if err != nil {
		return User{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		var body struct {
			Action string `json:"action"`
			User   User   `json:"user"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Action != "" {
			return User{}, &ConflictError{User: body.User}
		}
		return User{}, ErrSessionConflict
	}
	if resp.StatusCode != http.StatusOK {
		return User{}, decodeError(resp)
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return User{}, fmt.Errorf("decode login response: %w", err)
	}
	c.SetTokens(out.Tokens)
	return out.User, nil
}

// Logout ends the session on the server and forgets the local pair.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/logout", nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	c.SetTokens(Tokens{})
	return nil
}

// Do sends req with the current access token. If the server answers 401
// invalid_token and a refresh token is held, Do refreshes once and retries
// once. When that does not help, the response is discarded and
// ErrSessionExpired is returned. Requests with a body must have GetBody set
// (http.NewRequest does this for in-memory readers) to be retried.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	resp, err := c.attempt(req)
	if err != nil {
		return nil, err
	}
	if !expiredAccess(resp) {
		return resp, nil
	}
	drain(resp)

	if c.Tokens().RefreshToken == "" {
		return nil, ErrSessionExpired
	}
	if err := c.refresh(ctx); err != nil {
		if errors.Is(err, ErrSessionExpired) {
			c.SetTokens(Tokens{})
		}
		return nil, err
	}

	retry, err := rewind(req)
	if err != nil {
		return nil, err
	}
	resp, err = c.attempt(retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		return nil, ErrSessionExpired
	}
	return resp, nil
}

// Refresh rotates the pair explicitly.
func (c *Client) Refresh(ctx context.Context) error {
	return c.refresh(ctx)
}

func (c *Client) refresh(ctx context.Context) error {
	rt := c.Tokens().RefreshToken
	if rt == "" {
		return ErrSessionExpired
	}
	resp, err := c.send(ctx, http.MethodPost, "/v1/auth/refresh-token", map[string]string{"refreshToken": rt})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		return ErrSessionExpired
	case resp.StatusCode != http.StatusOK:
		return decodeError(resp)
	}
	var t Tokens
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	c.SetTokens(t)
	return nil
}

// attempt sends a copy of req carrying the current access token. The
// caller's request is left untouched.
func (c *Client) attempt(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if at := c.Tokens().AccessToken; at != "" {
		out.Header.Set("Authorization", "Bearer "+at)
	}
	return c.http.Do(out)
}

// send issues a JSON request outside the retry logic.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// expiredAccess reports a 401 caused by the token itself rather than a
// missing header.
func expiredAccess(resp *http.Response) bool {
	if resp.StatusCode != http.StatusUnauthorized {
		return false
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false
	}
	resp.Body = io.NopCloser(bytes.NewReader(b))
	var e APIError
	return json.Unmarshal(b, &e) == nil && e.Code == "invalid_token"
}

func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, ErrSessionExpired
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body
	return retry, nil
}

func decodeError(resp *http.Response) error {
	e := &APIError{Status: resp.StatusCode}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(e)
	return e
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
