// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the per-identity token-bucket limiter. One RateLimiter is
// shared by the REST API and the websocket channels, so a user has a single
// budget regardless of transport. Routes that trigger expensive work (PDF
// ingestion) declare a higher cost with Cost.
//
// The limiter is process-local; a horizontally scaled deployment needs a
// shared store to enforce global limits.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	ctxKeyRateCost = "rate.cost"

	// bucketIdleTTL is how long an unused bucket survives a sweep.
	bucketIdleTTL = 10 * time.Minute
	// sweepEvery is the number of lookups between sweeps.
	sweepEvery = 5000
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys authenticated requests by "user:<id>" and anonymous
// ones by "ip:<addr>".
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a set of token buckets keyed by identity. Safe for
// concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	idleTTL time.Duration
	lookups uint64
}

// NewRateLimiter refills rps tokens per second into buckets of size burst
// (coerced to at least 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		idleTTL: bucketIdleTTL,
	}
}

// bucketFor returns key's limiter, creating it on first use. Every
// sweepEvery lookups idle buckets are dropped first, so a stale bucket is
// replaced rather than refreshed.
func (rl *RateLimiter) bucketFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

// take consumes n tokens (clamped to the burst so it can ever succeed) and
// reports how long the caller should wait when the bucket is short.
func (rl *RateLimiter) take(key string, n int) (ok bool, retryAfter time.Duration) {
	if n < 1 {
		n = 1
	}
	if n > rl.burst {
		n = rl.burst
	}
	now := time.Now()
	res := rl.bucketFor(key, now).ReserveN(now, n)
	if !res.OK() {
		return false, time.Second
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Allow consumes one token from key's bucket. Socket queries use it with
// "user:<id>" keys so a connection shares the HTTP budget of its user.
func (rl *RateLimiter) Allow(key string) bool {
	if ok, _ := rl.take(key, 1); ok {
		return true
	}
	rateLimited.WithLabelValues("ws").Inc()
	return false
}

// Cost sets how many tokens Handler charges. It must run before Handler in
// the chain.
func Cost(n int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxKeyRateCost, n)
		c.Next()
	}
}

// RouteCost returns the cost recorded by Cost, or 1.
func RouteCost(c *gin.Context) int {
	if v, ok := c.Get(ctxKeyRateCost); ok {
		if n, ok := v.(int); ok && n > 0 {
			return n
		}
	}
	return 1
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay, which is served without consuming tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. A rejected request gets
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: <whole seconds until enough tokens refill>
//	{"request_id": "...", "code": "too_many_requests", "message": "rate limit exceeded"}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		ok, wait := rl.take(rl.keyFn(c), RouteCost(c))
		if ok {
			c.Next()
			return
		}

		rateLimited.WithLabelValues("http").Inc()
		secs := int(math.Ceil(wait.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
