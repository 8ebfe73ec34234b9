package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultTokenTTL is shorter than the 24h the exchange grants so a token is
// never presented right at its expiry.
const DefaultTokenTTL = 23 * time.Hour

var ErrLoginFailed = errors.New("kalshi login failed")

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	MemberID string `json:"member_id"`
}

// TokenSource authenticates with email/password and caches the bearer token
// until it expires. Refresh happens lazily on the first call after expiry.
type TokenSource struct {
	loginURL string
	email    string
	password string
	client   *http.Client
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// TokenOption configures a TokenSource.
type TokenOption func(*TokenSource)

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(ts *TokenSource) {
		if ttl > 0 {
			ts.ttl = ttl
		}
	}
}

// WithTokenHTTPClient sets the client used for the login call.
func WithTokenHTTPClient(hc *http.Client) TokenOption {
	return func(ts *TokenSource) {
		if hc != nil {
			ts.client = hc
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(ts *TokenSource) {
		if now != nil {
			ts.now = now
		}
	}
}

// NewTokenSource returns ErrNoCredentials when either field is empty.
func NewTokenSource(baseURL, email, password string, opts ...TokenOption) (*TokenSource, error) {
	if email == "" || password == "" {
		return nil, ErrNoCredentials
	}
	ts := &TokenSource{
		loginURL: baseURL + "/login",
		email:    email,
		password: password,
		client:   &http.Client{Timeout: 15 * time.Second},
		ttl:      DefaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts, nil
}

// Token returns the cached token or logs in again when it has expired.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expires) {
		return ts.token, nil
	}

	token, err := ts.login(ctx)
	if err != nil {
		return "", err
	}
	ts.token = token
	ts.expires = ts.now().Add(ts.ttl)
	return token, nil
}

// Invalidate drops the cached token, e.g. after the API answered 401.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expires = time.Time{}
	ts.mu.Unlock()
}

// Authorize sets a bearer Authorization header.
func (ts *TokenSource) Authorize(ctx context.Context, req *http.Request) error {
	token, err := ts.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (ts *TokenSource) login(ctx context.Context) (string, error) {
	payload, err := json.Marshal(loginRequest{Email: ts.email, Password: ts.password})
	if err != nil {
		return "", fmt.Errorf("%w: marshal: %v", ErrLoginFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.loginURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d, body: %s", ErrLoginFailed, resp.StatusCode, string(body))
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrLoginFailed, err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: empty token", ErrLoginFailed)
	}
	return out.Token, nil
}
