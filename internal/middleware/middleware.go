// Package middleware provides the gin middleware of the phusage API:
// request logging, admin key authentication, rate limiting and recovery.
package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clucraft/phusage-sub000/internal/logger"
)

// AdminKeyHeader carries the shared admin API key.
const AdminKeyHeader = "X-Admin-Key"

// LoggingMiddleware logs method, path, status, latency and client IP of
// every request, at a level chosen from the status code.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}

		c.Next()

		status := c.Writer.Status()
		entry := logger.APILog.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    path,
			"status":  status,
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
			"bytes":   c.Writer.Size(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.WithField("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()).Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request")
		}
	}
}

// presentedKey extracts the admin key from X-Admin-Key or a Bearer token.
func presentedKey(c *gin.Context) string {
	if key := c.GetHeader(AdminKeyHeader); key != "" {
		return key
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}

// AdminAuth validates the shared admin key. With no key configured every
// request is refused (fail-secure).
func AdminAuth(expectedKey string) gin.HandlerFunc {
	if expectedKey == "" {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "management API disabled: PHUSAGE_ADMIN_API_KEY not configured",
			})
		}
	}
	want := []byte(expectedKey)
	return func(c *gin.Context) {
		if subtle.ConstantTimeCompare([]byte(presentedKey(c)), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized: invalid or missing admin API key",
			})
			return
		}
		c.Next()
	}
}

// RateLimiter is the fixed-window check the rate limit middleware needs.
// *cache.Cache implements it.
type RateLimiter interface {
	RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error)
}

// hashAPIKey returns the hex-encoded SHA-256 hash of the given API key.
func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// rateLimitID identifies the caller: a hash prefix of the presented key, or
// the client IP for anonymous requests. Raw keys never reach Redis.
func rateLimitID(c *gin.Context) string {
	if key := presentedKey(c); key != "" {
		return "key:" + hashAPIKey(key)[:16]
	}
	return "ip:" + c.ClientIP()
}

// RateLimitMiddleware allows maxRequests per window per caller. Limiter
// errors let the request through.
func RateLimitMiddleware(limiter RateLimiter, maxRequests int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := limiter.RateLimitCheck(c.Request.Context(), rateLimitID(c), maxRequests, window)
		if err != nil {
			logger.APILog.Warnf("rate limit check error: %v", err)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please slow down.",
			})
			return
		}
		c.Next()
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.APILog.WithField("path", c.Request.URL.Path).Errorf("recovered from panic: %v", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_server_error",
					"message": "An unexpected error occurred.",
				})
			}
		}()
		c.Next()
	}
}
