package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/unusual-markets/internal/auth"
)

const DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

// Observer receives one call per upstream HTTP attempt.
type Observer interface {
	ObserveUpstream(endpoint, outcome string, elapsed time.Duration)
}

// Client provides access to the Kalshi REST API.
type Client struct {
	baseURL    string
	authorizer auth.Authorizer
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	observer   Observer

	callTimeout  time.Duration
	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client. A nil authorizer sends unsigned requests,
// which the public market data endpoints accept.
func NewClient(baseURL string, authorizer auth.Authorizer, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:      baseURL,
		authorizer:   authorizer,
		httpClient:   &http.Client{},
		limiter:      rate.NewLimiter(rate.Limit(10), 10),
		logger:       slog.Default(),
		callTimeout:  15 * time.Second,
		maxRetries:   2,
		retryBackoff: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout bounds each individual upstream call. Expiry surfaces as ErrTimeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithRateLimit caps outbound requests per second. Zero disables limiting.
func WithRateLimit(perSecond int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithObserver reports per-attempt latency and outcome.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		c.observer = o
	}
}

// invalidator is implemented by authorizers holding a cached credential
// that the server may reject, such as auth.TokenSource.
type invalidator interface {
	Invalidate()
}

// doRequest performs a single attempt bounded by the per-call timeout.
func (c *Client) doRequest(ctx context.Context, endpoint, method, path string, query url.Values) (body []byte, err error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveUpstream(endpoint, outcome(err), time.Since(start))
		}
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(callCtx); err != nil {
			// Wait fails early when the next token lies past the deadline,
			// before callCtx itself expires.
			if _, ok := callCtx.Deadline(); ok && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %s waiting for rate limit: %w", ErrTimeout, path, err)
			}
			return nil, c.classify(ctx, callCtx, path, err)
		}
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(callCtx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.authorizer != nil {
		if err := c.authorizer.Authorize(callCtx, req); err != nil {
			return nil, fmt.Errorf("authorize request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, callCtx, path, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(ctx, callCtx, path, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// classify separates an expired per-call deadline from cancellation of the
// caller's own context.
func (c *Client) classify(parent, call context.Context, path string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrTimeout, path, c.callTimeout)
	}
	return fmt.Errorf("do request: %w", err)
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, endpoint, method, path string, query url.Values) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff
	reauthorized := false

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// backoff * (0.5 to 1.5)
			wait := backoff / 2
			if backoff > 0 {
				wait += time.Duration(rand.Int64N(int64(backoff)))
			}
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", wait,
				"path", path,
				"error", lastErr,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, endpoint, method, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && !reauthorized {
			if inv, ok := c.authorizer.(invalidator); ok {
				inv.Invalidate()
				reauthorized = true
				attempt--
				continue
			}
		}

		if !IsRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// get performs a GET request with retries and decodes the JSON body.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, endpoint, http.MethodGet, path, query)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, ErrTimeout) {
		return "timeout"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%dxx", apiErr.StatusCode/100)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}
