package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("s3cret", "/api/health")(ok)

	cases := []struct {
		name   string
		mutate func(r *http.Request)
		path   string
		want   int
	}{
		{"missing", func(*http.Request) {}, "/api/status", http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") }, "/api/status", http.StatusOK},
		{"api key header", func(r *http.Request) { r.Header.Set("X-API-Key", "s3cret") }, "/api/status", http.StatusOK},
		{"wrong key", func(r *http.Request) { r.Header.Set("X-API-Key", "nope") }, "/api/status", http.StatusUnauthorized},
		{"public path", func(*http.Request) {}, "/api/health", http.StatusOK},
		{"query token needs upgrade", func(*http.Request) {}, "/ws?token=s3cret", http.StatusUnauthorized},
		{"websocket query token", func(r *http.Request) { r.Header.Set("Upgrade", "websocket") }, "/ws?token=s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			tc.mutate(req)

			assert.Equal(t, tc.want, serve(h, req).Code)
		})
	}
}

func TestAuth_DisabledWithoutKey(t *testing.T) {
	rec := serve(Auth("")(ok), httptest.NewRequest(http.MethodPost, "/api/arbitrage/run", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://ops.example"})(ok)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "https://ops.example")
	rec := serve(h, req)
	assert.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/arbitrage/run", nil)
	req.Header.Set("Origin", "https://ops.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLogging_RequestIDAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	var seen string
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		http.Error(w, "boom", http.StatusBadGateway)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := serve(h, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), `"status":502`)
}

func TestLogging_GeneratesRequestID(t *testing.T) {
	rec := serve(Logging(discardLogger())(ok), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

func (s *stubLimiter) Wait(context.Context, string, int, time.Duration) error { return nil }

func TestRateLimit(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		lim := &stubLimiter{}
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

		rec := serve(RateLimit(lim, 10, 2*time.Second, discardLogger())(ok), req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))
		assert.Equal(t, []string{"api:203.0.113.7"}, lim.keys)
	})
	t.Run("fails open", func(t *testing.T) {
		lim := &stubLimiter{err: errors.New("redis down")}

		rec := serve(RateLimit(lim, 10, time.Second, discardLogger())(ok), httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestLocalLimiter(t *testing.T) {
	lim := NewLocalLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := lim.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i)
	}
	allowed, err := lim.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = lim.Allow(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = lim.Allow(ctx, "k", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}
