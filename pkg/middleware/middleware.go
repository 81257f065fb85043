package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/eatrack/internal/auth"
	"github.com/ksred/eatrack/internal/types"
	"github.com/ksred/eatrack/pkg/response"
	"golang.org/x/time/rate"
)

const (
	accountKey = "account"
	userIDKey  = "userID"
)

// CurrentAccount returns the trading account resolved by APIKeyAuth
func CurrentAccount(c *gin.Context) (*types.TradingAccount, bool) {
	v, ok := c.Get(accountKey)
	if !ok {
		return nil, false
	}
	account, ok := v.(*types.TradingAccount)
	return account, ok && account != nil
}

// CurrentUserID returns the dashboard user resolved by UserAuth
func CurrentUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// bearer extracts the credential from an "Authorization: Bearer <x>" header.
// A header without the scheme is taken as the raw credential.
func bearer(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return header
}

// APIKeyAuth resolves the EA's API key to its trading account on every request
func APIKeyAuth(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := authService.AuthenticateAPIKey(c.Request.Context(), bearer(c))
		if err != nil {
			response.Handle(c, nil, err)
			c.Abort()
			return
		}

		c.Set(accountKey, account)
		c.Next()
	}
}

// UserAuth validates the dashboard JWT and exposes its user_id claim
func UserAuth(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c)
		if token == "" {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			response.Handle(c, nil, err)
			c.Abort()
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per key. Its cleanup goroutine runs
// until Stop is called.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows perMinute requests per key with the given burst.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	if burst < 1 {
		burst = 1
	}

	l := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		done:     make(chan struct{}),
	}
	go l.cleanupVisitors(time.Minute)
	return l
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *RateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *RateLimiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func (l *RateLimiter) cleanupVisitors(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}

		l.mu.Lock()
		for key, v := range l.visitors {
			if time.Since(v.lastSeen) > 3*every {
				delete(l.visitors, key)
			}
		}
		l.mu.Unlock()
	}
}

func (l *RateLimiter) allow(c *gin.Context, key string) bool {
	if l.getLimiter(key).Allow() {
		return true
	}
	response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
	c.Abort()
	return false
}

// RateLimit throttles per trading account. It must run after APIKeyAuth.
func RateLimit(l *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := CurrentAccount(c)
		if !ok {
			response.Unauthorized(c, "API key required")
			c.Abort()
			return
		}
		if l.allow(c, account.ID) {
			c.Next()
		}
	}
}

// RateLimitByIP throttles per client IP. It runs in front of APIKeyAuth so
// requests with unknown keys are limited as well.
func RateLimitByIP(l *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.allow(c, c.ClientIP()) {
			c.Next()
		}
	}
}
