package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cashqueue/internal/config"
	"cashqueue/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCorsPreflight(t *testing.T) {
	r := gin.New()
	r.Use(Cors())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodOptions, "/x", map[string]string{
		"Origin":                        "https://app.test",
		"Access-Control-Request-Method": http.MethodGet,
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodGet, "/x", map[string]string{"Origin": "https://app.test"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, strings.ToLower(w.Header().Get("Access-Control-Expose-Headers")), strings.ToLower(RequestIDHeader))
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := serve(r, http.MethodGet, "/x", nil)
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	w = serve(r, http.MethodGet, "/x", map[string]string{RequestIDHeader: "abc"})
	assert.Equal(t, "abc", w.Body.String())
}

func TestPrivilege(t *testing.T) {
	check := func(adminKey string, headers map[string]string) bool {
		r := gin.New()
		r.Use(Privilege(adminKey))
		var got bool
		r.GET("/x", func(c *gin.Context) {
			got = IsPrivileged(c)
			c.Status(http.StatusOK)
		})
		w := serve(r, http.MethodGet, "/x", headers)
		require.Equal(t, http.StatusOK, w.Code)
		return got
	}

	assert.True(t, check("secret", map[string]string{APIKeyHeader: "secret"}))
	assert.False(t, check("secret", map[string]string{APIKeyHeader: "wrong"}))
	assert.False(t, check("secret", nil))
	assert.False(t, check("", map[string]string{APIKeyHeader: ""}))
}

func TestLoggerWritesAccessLine(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(RequestID(), Logger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	serve(r, http.MethodGet, "/ok", nil)
	serve(r, http.MethodGet, "/bad", nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "/ok", entries[0].Message)
	assert.EqualValues(t, http.StatusOK, entries[0].ContextMap()["status"])
	assert.EqualValues(t, http.StatusBadRequest, entries[1].ContextMap()["status"])
}

func TestRecoveryReturns500(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	r := gin.New()
	r.Use(Recovery(zap.New(core)))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(r, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotZero(t, logs.Len())
}

func TestMetricsMiddleware(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/x/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.NotPanics(t, func() {
		serve(r, http.MethodGet, "/x/1", nil)
		serve(r, http.MethodGet, "/missing", nil)
	})
}

func TestRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(config.RateLimit{RequestsPerSecond: 1, BurstSize: 2})
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	r := gin.New()
	r.Use(limiter.RateLimit())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/x", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/x", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/x", nil).Code)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/x", nil).Code)
}

func TestRateLimitPrune(t *testing.T) {
	limiter := NewIPRateLimiter(config.RateLimit{RequestsPerSecond: 10, BurstSize: 10})
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.Equal(t, 0, limiter.Prune())

	now = now.Add(time.Minute)
	assert.True(t, limiter.Allow("10.0.0.2"))
	assert.Equal(t, 1, limiter.Prune())
}
