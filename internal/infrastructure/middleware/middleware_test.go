package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"framelink/pkg/config"
	"framelink/pkg/errors"
)

func do(router *gin.Engine, path, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.RateLimiting.Enabled = false

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 50; i++ {
		require.Equal(t, http.StatusOK, do(router, "/x", "1.2.3.4:1000").Code)
	}
}

func TestRateLimitPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 1
	cfg.RateLimiting.Burst = 2

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(router, "/x", "1.2.3.4:1000").Code)
	assert.Equal(t, http.StatusOK, do(router, "/x", "1.2.3.4:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(router, "/x", "1.2.3.4:1000").Code)

	// A different client has its own budget.
	assert.Equal(t, http.StatusOK, do(router, "/x", "5.6.7.8:1000").Code)
}

func TestErrorHandlerMapsCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/bad", func(c *gin.Context) {
		c.Error(errors.New(errors.ErrCodeInvalidInput, "nope"))
	})
	router.GET("/boom", func(c *gin.Context) {
		c.Error(errors.New(errors.ErrCodeStreamError, "stream broke"))
	})

	assert.Equal(t, http.StatusBadRequest, do(router, "/bad", "1.2.3.4:1").Code)
	assert.Equal(t, http.StatusInternalServerError, do(router, "/boom", "1.2.3.4:1").Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})

	w := do(router, "/panic", "1.2.3.4:1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(errors.ErrCodeInternal))
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "10.0.0.1", clientIP(req))
}
