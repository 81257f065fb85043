package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/eatrack/internal/auth"
	"github.com/ksred/eatrack/internal/database/dbtest"
	"github.com/ksred/eatrack/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func do(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := dbtest.New(t)
	authService := auth.NewService(db, "secret", time.Hour)

	acc := &types.TradingAccount{UserID: "u", Broker: "b", Platform: types.PlatformMT4, AccountNumber: "1", APIKey: "ta_abc", IsActive: true}
	require.NoError(t, db.Create(acc).Error)

	r := gin.New()
	r.GET("/", APIKeyAuth(authService), func(c *gin.Context) {
		got, ok := CurrentAccount(c)
		require.True(t, ok)
		c.String(http.StatusOK, got.ID)
	})

	w := do(r, "Bearer ta_abc")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, acc.ID, w.Body.String())

	assert.Equal(t, http.StatusOK, do(r, "ta_abc").Code, "raw key without scheme")
	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer nope").Code)
}

func TestUserAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	authService := auth.NewService(nil, "secret", time.Hour)

	r := gin.New()
	r.GET("/", UserAuth(authService), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUserID(c))
	})

	token, err := authService.GenerateToken("user-9")
	require.NoError(t, err)

	w := do(r, "Bearer "+token.Token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-9", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer garbage").Code)

	other := auth.NewService(nil, "other-secret", time.Hour)
	forged, err := other.GenerateToken("user-9")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer "+forged.Token).Code)
}

func TestRateLimitPerAccount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(60, 2)
	t.Cleanup(limiter.Stop)

	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		c.Set(accountKey, &types.TradingAccount{ID: c.GetHeader("Authorization")})
		c.Next()
	}, RateLimit(limiter), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, do(r, "a").Code)
	assert.Equal(t, http.StatusOK, do(r, "a").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, "a").Code)
	assert.Equal(t, http.StatusOK, do(r, "b").Code, "buckets are per account")
}

func TestRateLimitRequiresAccount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(60, 2)
	t.Cleanup(limiter.Stop)

	r := gin.New()
	r.GET("/", RateLimit(limiter), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
}

func TestRateLimitByIPCoversRejectedKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := dbtest.New(t)
	authService := auth.NewService(db, "secret", time.Hour)
	ipLimiter := NewRateLimiter(60, 2)
	t.Cleanup(ipLimiter.Stop)

	r := gin.New()
	r.GET("/", RateLimitByIP(ipLimiter), APIKeyAuth(authService), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer ta_guess1").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer ta_guess2").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, "Bearer ta_guess3").Code)
}

func TestRateLimiterStop(t *testing.T) {
	limiter := NewRateLimiter(60, 1)
	limiter.Stop()
	limiter.Stop()

	select {
	case <-limiter.done:
	default:
		t.Fatal("done channel should be closed after Stop")
	}
}

func TestCleanupDropsIdleVisitors(t *testing.T) {
	l := &RateLimiter{
		visitors: map[string]*visitor{
			"idle": {limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-time.Hour)},
		},
		limit: 1,
		burst: 1,
		done:  make(chan struct{}),
	}
	go l.cleanupVisitors(10 * time.Millisecond)
	t.Cleanup(l.Stop)

	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.visitors) == 0
	}, time.Second, 10*time.Millisecond)
}
