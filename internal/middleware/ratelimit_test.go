package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/cache"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
)

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(mw...)
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func doRequest(router http.Handler) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, 2) // 2 requests per second, burst of 2
	router := newRouter(RateLimit(rl, "memory", logging.NewNopLogger()))

	// First two requests should succeed
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, doRequest(router).Code)
	}

	// Third request should be rate limited
	w := doRequest(router)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["kind"])
}

func TestRateLimiterPrune(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow(context.Background(), "ip:a")
	now = now.Add(5 * time.Minute)
	rl.Allow(context.Background(), "ip:b")

	assert.Equal(t, 1, rl.Prune(time.Minute))
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "ip:b")
}

func TestSharedRateLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	defer c.Close()

	router := newRouter(RateLimit(NewSharedRateLimiter(c, 2, time.Minute), "redis", logging.NewNopLogger()))

	assert.Equal(t, http.StatusOK, doRequest(router).Code)
	assert.Equal(t, http.StatusOK, doRequest(router).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(router).Code)

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, doRequest(router).Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	router := newRouter(RateLimit(failingLimiter{}, "redis", logging.NewNopLogger()))
	assert.Equal(t, http.StatusOK, doRequest(router).Code)
}

func TestRequestIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	router := newRouter(RequestID(), Logger(logging.New(&buf, "info")))

	w := doRequest(router)
	id := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, id)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, id, entry["request_id"])
	assert.Equal(t, "/test", entry["path"])
	assert.EqualValues(t, 200, entry["status_code"])

	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	router.ServeHTTP(w, req)
	assert.Equal(t, "caller-id", w.Header().Get(RequestIDHeader))
}
