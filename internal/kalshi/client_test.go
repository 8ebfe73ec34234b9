package kalshi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unusual-markets/internal/auth"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveUpstream(endpoint, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, endpoint+":"+outcome)
}

func TestNewClient(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := NewClient("", nil)
		assert.Equal(t, DefaultBaseURL, c.baseURL)
		assert.Equal(t, 15*time.Second, c.callTimeout)
		assert.Equal(t, 2, c.maxRetries)
		assert.NotNil(t, c.limiter)
		assert.NotNil(t, c.logger)
	})

	t.Run("options", func(t *testing.T) {
		hc := &http.Client{}
		c := NewClient("http://x", nil,
			WithTimeout(3*time.Second),
			WithRetries(5, time.Millisecond),
			WithRateLimit(0),
			WithHTTPClient(hc),
		)
		assert.Equal(t, 3*time.Second, c.callTimeout)
		assert.Equal(t, 5, c.maxRetries)
		assert.Equal(t, time.Millisecond, c.retryBackoff)
		assert.Nil(t, c.limiter)
		assert.Same(t, hc, c.httpClient)
	})
}

func TestAPIError_IsRetryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{500, true}, {502, true}, {503, true}, {429, true},
		{400, false}, {401, false}, {404, false},
	}
	for _, tt := range tests {
		err := &APIError{StatusCode: tt.code}
		assert.Equal(t, tt.want, err.IsRetryable(), "status %d", tt.code)
		assert.Equal(t, tt.want, IsRetryable(err), "status %d", tt.code)
	}
	assert.True(t, IsRetryable(ErrTimeout))
}

func TestClient_SignsRequests(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer := auth.NewSignerFromKey("key-1", key)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get(auth.HeaderAccessKey))
		assert.NoError(t, auth.Verify(&key.PublicKey,
			r.Header.Get(auth.HeaderAccessTimestamp), r.Method, r.URL.Path,
			r.Header.Get(auth.HeaderAccessSignature)))
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"markets":[],"cursor":""}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/trade-api/v2", signer, WithRateLimit(0))
	_, err = c.GetMarkets(context.Background(), GetMarketsOptions{Limit: 1000})
	require.NoError(t, err)
}

func TestClient_Retry(t *testing.T) {
	t.Run("retries 5xx then succeeds", func(t *testing.T) {
		var attempts atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"events":[{"event_ticker":"E1","category":"Politics"}]}`))
		}))
		defer srv.Close()

		obs := &recordingObserver{}
		c := NewClient(srv.URL, nil, WithRetries(3, time.Millisecond), WithRateLimit(0), WithObserver(obs))
		resp, err := c.GetEvents(context.Background(), GetEventsOptions{Limit: 200})
		require.NoError(t, err)
		assert.Len(t, resp.Events, 1)
		assert.Equal(t, int32(3), attempts.Load())
		assert.Equal(t, []string{"events:5xx", "events:5xx", "events:ok"}, obs.outcomes)
	})

	t.Run("does not retry 4xx", func(t *testing.T) {
		var attempts atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, nil, WithRetries(3, time.Millisecond), WithRateLimit(0))
		_, err := c.GetTrades(context.Background(), "NOPE", 10)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, nil, WithRetries(2, time.Millisecond), WithRateLimit(0))
		_, err := c.GetMarkets(context.Background(), GetMarketsOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max retries exceeded")
		assert.Equal(t, int32(3), attempts.Load())
	})
}

func TestClient_PerCallTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, nil, WithTimeout(30*time.Millisecond), WithRetries(0, 0), WithRateLimit(0))
	_, err := c.GetMarkets(context.Background(), GetMarketsOptions{})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_RateLimitWaitPastDeadlineIsTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"markets":[]}`))
	}))
	defer srv.Close()

	// One token a second: the second call cannot get one within 30ms.
	c := NewClient(srv.URL, nil, WithTimeout(30*time.Millisecond), WithRetries(0, 0), WithRateLimit(1))
	_, err := c.GetMarkets(context.Background(), GetMarketsOptions{})
	require.NoError(t, err)

	_, err = c.GetMarkets(context.Background(), GetMarketsOptions{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_CallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	c := NewClient(srv.URL, nil, WithTimeout(5*time.Second), WithRetries(3, time.Millisecond), WithRateLimit(0))
	_, err := c.GetMarkets(ctx, GetMarketsOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestClient_UnauthorizedInvalidatesToken(t *testing.T) {
	var logins, calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			n := logins.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]string{"token": map[int32]string{1: "stale", 2: "fresh"}[n]})
			return
		}
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"markets":[{"ticker":"T1"}]}`))
	}))
	defer srv.Close()

	ts, err := auth.NewTokenSource(srv.URL, "me@example.com", "pw")
	require.NoError(t, err)

	c := NewClient(srv.URL, ts, WithRetries(0, 0), WithRateLimit(0))
	resp, err := c.GetMarkets(context.Background(), GetMarketsOptions{})
	require.NoError(t, err)
	assert.Len(t, resp.Markets, 1)
	assert.Equal(t, int32(2), logins.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_AllMarketsTruncates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"markets": []map[string]any{{"ticker": r.URL.Query().Get("cursor") + "m"}},
			"cursor":  "c" + string(rune('0'+n)),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, WithRateLimit(0))
	res, err := c.AllMarkets(context.Background(), GetMarketsOptions{Limit: 1000}, 3)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "c2m", res.Items[2].Ticker)
}

func TestClient_GetCandlesticksPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/series/KXFED/markets/KXFED-25DEC-H0/candlesticks", r.URL.Path)
		assert.Equal(t, "60", r.URL.Query().Get("period_interval"))
		assert.NotEmpty(t, r.URL.Query().Get("start_ts"))
		_, _ = w.Write([]byte(`{"ticker":"KXFED-25DEC-H0","candlesticks":[{"end_period_ts":1700000000,"price":{"close":41},"volume":12}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, WithRateLimit(0))
	candles, err := c.GetCandlesticks(context.Background(), "KXFED-25DEC-H0", CandlestickOptions{})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 41.0, candles[0].Price.Close.Float())
}

func TestSeriesTicker(t *testing.T) {
	assert.Equal(t, "KXFED", SeriesTicker("KXFED-25DEC-H0"))
	assert.Equal(t, "KXFED", SeriesTicker("KXFED"))
	assert.Equal(t, "-X", SeriesTicker("-X"))
}

func TestNumber_Lenient(t *testing.T) {
	var v struct {
		A Number  `json:"a"`
		B Number  `json:"b"`
		C Number  `json:"c"`
		D Number  `json:"d"`
		E Number  `json:"e"`
		F Dollars `json:"f"`
		G Dollars `json:"g"`
		H Dollars `json:"h"`
	}
	raw := `{"a":12.5,"b":"7","c":"abc","d":null,"e":{"x":1},"f":"0.4200","g":"bad","h":0.05}`
	require.NoError(t, json.Unmarshal([]byte(raw), &v))

	assert.Equal(t, 12.5, v.A.Float())
	assert.Equal(t, 7.0, v.B.Float())
	assert.Zero(t, v.C.Float())
	assert.Zero(t, v.D.Float())
	assert.Zero(t, v.E.Float())
	assert.True(t, v.F.Valid)
	assert.Equal(t, "0.42", v.F.Value.String())
	assert.False(t, v.G.Valid)
	assert.True(t, v.H.Valid)
}
