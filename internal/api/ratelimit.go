package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────
// Per-principal Token Bucket Rate Limiter
//
// Uses stdlib only — no external dependency.
//
// A "principal" is the client IP, scoped by the wallet address a mutating
// request targets when the route carries one (among the auth-gated
// routes only /refresh/:address takes its address as a path parameter;
// the others carry it in the request body). This keeps one abusive client from burning down
// the shared budget for requests against an unrelated address behind the
// same IP (common behind NAT or shared hosting egress), while routes
// with no address parameter still degrade gracefully to plain per-IP
// limiting.
//
// Each principal gets its own bucket with a configurable capacity and
// refill rate. When the bucket is empty the request receives HTTP 429
// with a Retry-After header indicating when to try again.
//
// A background goroutine cleans up buckets that have been idle for more
// than cleanupIdleDuration to prevent unbounded memory growth from
// transient principals.
// ──────────────────────────────────────────────────────────────────────

const cleanupIdleDuration = 10 * time.Minute

// Defaults for the auth-gated route group when SetupRouter isn't given
// an explicit rate-limit configuration.
const (
	DefaultRateLimitPerMin = 30
	DefaultRateLimitBurst  = 5
)

type principalBucket struct {
	tokens   float64
	lastSeen time.Time
	mu       sync.Mutex
}

// RateLimiter holds per-principal state.
type RateLimiter struct {
	rate    float64 // tokens added per second
	burst   float64 // max bucket capacity
	mu      sync.Mutex
	buckets map[string]*principalBucket
}

// NewRateLimiter creates a rate limiter allowing `ratePerMin` requests per
// minute per principal, with a burst capacity of `burst` requests.
func NewRateLimiter(ratePerMin, burst int) *RateLimiter {
	rl := &RateLimiter{
		rate:    float64(ratePerMin) / 60.0,
		burst:   float64(burst),
		buckets: make(map[string]*principalBucket),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &principalBucket{tokens: rl.burst}
		rl.buckets[key] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	// Refill tokens based on elapsed time since last request.
	elapsed := now.Sub(bucket.lastSeen).Seconds()
	bucket.tokens += elapsed * rl.rate
	if bucket.tokens > rl.burst {
		bucket.tokens = rl.burst
	}
	bucket.lastSeen = now

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		return true, 0
	}

	// Calculate how long until a token is available.
	retryAfter := time.Duration((1.0-bucket.tokens)/rl.rate*1000) * time.Millisecond
	return false, retryAfter
}

// walletPrincipal derives the rate-limit bucket key for a request: the
// client IP, scoped by the ":address" path parameter when the route
// carries one. Routes with no address parameter (send/sweep/opreturn,
// token send/burn, consolidate) fall back to the IP alone.
func walletPrincipal(c *gin.Context) string {
	ip := c.ClientIP()
	if addr := c.Param("address"); addr != "" {
		return ip + "|" + addr
	}
	return ip
}

// Middleware returns a Gin handler that enforces the rate limit, keyed
// per walletPrincipal.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := rl.allow(walletPrincipal(c))
		if !allowed {
			c.Header("Retry-After", retryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"retryAfter": retryAfter.String(),
				"limit":      "requests per minute per address/IP",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// cleanupLoop removes stale principal buckets every cleanupIdleDuration.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cleanupIdleDuration)
		rl.mu.Lock()
		for key, b := range rl.buckets {
			b.mu.Lock()
			idle := b.lastSeen.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}
