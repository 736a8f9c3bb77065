package middleware

import (
	"net/http"
	"sync"
	"time"

	"cashqueue/internal/config"
	"cashqueue/internal/model"

	"github.com/gin-gonic/gin"
)

type IPRateLimiter struct {
	ips    map[string]*TokenBucket
	mu     sync.Mutex
	config config.RateLimit
	now    func() time.Time
}

type TokenBucket struct {
	tokens     float64
	lastRefill time.Time
	rate       float64
	capacity   float64
	mu         sync.Mutex
}

func NewIPRateLimiter(cfg config.RateLimit) *IPRateLimiter {
	return &IPRateLimiter{
		ips:    make(map[string]*TokenBucket),
		config: cfg,
		now:    time.Now,
	}
}

func (tb *TokenBucket) tryConsume(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	// refill for the time since the last request
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = tb.tokens + elapsed*tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens < 1 {
		return false
	}

	tb.tokens--
	return true
}

func (i *IPRateLimiter) getRateLimiter(ip string) *TokenBucket {
	i.mu.Lock()
	defer i.mu.Unlock()

	limiter, exists := i.ips[ip]
	if !exists {
		limiter = &TokenBucket{
			tokens:     float64(i.config.BurstSize),
			lastRefill: i.now(),
			rate:       float64(i.config.RequestsPerSecond),
			capacity:   float64(i.config.BurstSize),
		}
		i.ips[ip] = limiter
	}

	return limiter
}

// Allow spends one token from ip's bucket.
func (i *IPRateLimiter) Allow(ip string) bool {
	return i.getRateLimiter(ip).tryConsume(i.now())
}

// Prune drops buckets that have been idle long enough to be full again.
func (i *IPRateLimiter) Prune() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	idle := time.Second
	if i.config.RequestsPerSecond > 0 {
		idle = time.Duration(float64(i.config.BurstSize)/float64(i.config.RequestsPerSecond)*float64(time.Second)) + time.Second
	}

	now := i.now()
	removed := 0
	for ip, b := range i.ips {
		b.mu.Lock()
		stale := now.Sub(b.lastRefill) > idle
		b.mu.Unlock()
		if stale {
			delete(i.ips, ip)
			removed++
		}
	}
	return removed
}

func (i *IPRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !i.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, model.Response{
				Success: false,
				Error:   "too many requests",
			})
			return
		}
		c.Next()
	}
}
