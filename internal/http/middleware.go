package http

import (
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const userIDKey = "userID"

// IdentityMiddleware resolves the caller's identity. Who the user actually
// is belongs to an upstream gateway; here the already-authenticated id
// arrives as the X-User-ID header. Absent or malformed means anonymous —
// reads still work, mutations will fail with 401 at the handler.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader("X-User-ID"); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 32); err == nil && id > 0 {
				c.Set(userIDKey, uint(id))
			}
		}
		c.Next()
	}
}

// currentUser returns the resolved user id, 0 when anonymous.
func currentUser(c *gin.Context) uint {
	if v, ok := c.Get(userIDKey); ok {
		return v.(uint)
	}
	return 0
}

// AdminAuthMiddleware checks for a secret X-Admin-Token header.
func AdminAuthMiddleware() gin.HandlerFunc {
	requiredToken := os.Getenv("X_ADMIN_TOKEN")

	// If no token is set in the environment, we must fail closed.
	if requiredToken == "" {
		panic("CRITICAL: X_ADMIN_TOKEN environment variable not set.")
	}

	return func(c *gin.Context) {
		suppliedToken := c.GetHeader("X-Admin-Token")

		if suppliedToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Admin token required"})
			return
		}
		if suppliedToken != requiredToken {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: Invalid admin token"})
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware adds basic, sensible security headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevents clickjacking
		c.Header("X-Frame-Options", "DENY")
		// Prevents MIME-type sniffing
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Next()
	}
}

// --- Rate Limiter ---

type IPRateLimiter struct {
	visitors map[string]*rate.Limiter
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    b,
	}
}

func (rl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, exists := rl.visitors[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.visitors[ip] = limiter
	}
	return limiter
}

// Sweep drops limiters that have refilled, keeping the visitor map bounded.
func (rl *IPRateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if v.Tokens() >= float64(rl.burst) {
			delete(rl.visitors, ip)
		}
	}
}

func RateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.GetLimiter(ip).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please wait."})
			return
		}
		c.Next()
	}
}
