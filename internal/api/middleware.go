package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-API-Version")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// APIVersionMiddleware handles API versioning
func APIVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		version := c.GetHeader("X-API-Version")
		if version == "" {
			version = c.DefaultQuery("version", "v1")
		}

		c.Set("api_version", version)
		c.Header("X-API-Version", version)

		c.Next()
	}
}

// RateLimitMiddleware allows requestsPerMinute requests per client IP in a
// sliding one minute window. A non-positive limit disables it.
func RateLimitMiddleware(requestsPerMinute int) gin.HandlerFunc {
	var (
		mu      sync.Mutex
		clients = make(map[string][]time.Time)
	)

	return func(c *gin.Context) {
		if requestsPerMinute <= 0 {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		now := time.Now()

		mu.Lock()
		var recent []time.Time
		for _, t := range clients[clientIP] {
			if now.Sub(t) < time.Minute {
				recent = append(recent, t)
			}
		}
		limited := len(recent) >= requestsPerMinute
		if !limited {
			recent = append(recent, now)
		}
		clients[clientIP] = recent
		mu.Unlock()

		if limited {
			ErrorResponseWithCode(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded", map[string]interface{}{
				"limit":       requestsPerMinute,
				"window":      "1 minute",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestLoggingMiddleware logs every request once it has been served
func RequestLoggingMiddleware(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ctx := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"elapsed", time.Since(start),
			"client", c.ClientIP(),
			"request_id", c.GetString("request_id"),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("HTTP request failed", ctx...)
			return
		}
		logger.Debug("HTTP request", ctx...)
	}
}

// MetricsMiddleware tags the request with an ID and a start time that
// responses report back in their meta block
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		c.Set("request_id", requestID)
		c.Set("start_time", start)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func generateRequestID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

// SecurityMiddleware adds basic security headers
func SecurityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'self'")

		c.Next()
	}
}
