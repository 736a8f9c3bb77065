package middleware

import (
	"crypto/subtle"
	"time"

	"cashqueue/internal/metrics"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RequestIDHeader = "X-Request-ID"
	APIKeyHeader    = "X-API-Key"

	requestIDKey  = "RequestID"
	privilegedKey = "Privileged"
)

// Cors allows browser clients from any origin to call the API.
func Cors() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", APIKeyHeader, RequestIDHeader},
		ExposeHeaders:   []string{RequestIDHeader},
		MaxAge:          12 * time.Hour,
	})
}

// RequestID keeps an incoming X-Request-ID or mints a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Logger writes one access log line per request.
func Logger(log *zap.Logger) gin.HandlerFunc {
	return ginzap.Ginzap(log, time.RFC3339, true)
}

// Recovery turns panics into 500s and logs them with the stack.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return ginzap.RecoveryWithZap(log, true)
}

// Metrics records request counts and latency per route.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequest(path, c.Request.Method, c.Writer.Status(), time.Since(start).Seconds())
	}
}

// Privilege marks the request as coming from a cashier when it carries the
// admin key. It never rejects; the settlement engine decides what a caller
// may do. An empty adminKey privileges nobody.
func Privilege(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		ok := adminKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) == 1
		c.Set(privilegedKey, ok)
		c.Next()
	}
}

func IsPrivileged(c *gin.Context) bool {
	return c.GetBool(privilegedKey)
}
