// Package middlewares holds the gin middleware of the local intent API.
package middlewares

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatSync/middleware/jwt"
	logger "github.com/Gopher0727/ChatSync/middleware/log"
	"github.com/Gopher0727/ChatSync/utils/ratelimit"
)

// 写入 gin.Context 的键
const (
	CtxUserID      = "user_id"
	CtxDisplayName = "display_name"
)

type MiddlewareManager struct {
	tokenManager *jwt.TokenManager
	userID       string
	rateLimiter  ratelimit.Limiter
	logger       *logger.Logger
}

// NewMiddlewareManager builds the middleware for a session owned by userID.
// Only tokens issued for that user are accepted.
func NewMiddlewareManager(tokenManager *jwt.TokenManager, userID string, limiter ratelimit.Limiter, log *logger.Logger) *MiddlewareManager {
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MiddlewareManager{
		tokenManager: tokenManager,
		userID:       userID,
		rateLimiter:  limiter,
		logger:       log,
	}
}

// JWTAuth 从 Authorization 头读取 Bearer token，缺省时退回 ?token= 查询参数
func (m *MiddlewareManager) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if header := c.GetHeader("Authorization"); header != "" {
			scheme, value, ok := strings.Cut(header, " ")
			if !ok || scheme != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				return
			}
			token = value
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		claims, err := m.tokenManager.Authorize(token, m.userID)
		if err != nil {
			m.logger.For(c.Request.Context()).Warn("token validation failed",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)
			status, message := http.StatusUnauthorized, "invalid token"
			switch {
			case errors.Is(err, jwt.ErrExpiredToken):
				message = "token has expired"
			case errors.Is(err, jwt.ErrTokenNotYetValid):
				message = "token not yet valid"
			case errors.Is(err, jwt.ErrUserMismatch):
				status, message = http.StatusForbidden, "token issued for another user"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": message})
			return
		}

		c.Set(CtxUserID, claims.UserID())
		c.Set(CtxDisplayName, claims.DisplayName)
		c.Next()
	}
}

// RateLimit 按用户与操作名限流，每分钟 perMinute 次
func (m *MiddlewareManager) RateLimit(action string, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ip:%s:%s", c.ClientIP(), action)
		if userID := c.GetString(CtxUserID); userID != "" {
			key = fmt.Sprintf("user:%s:%s", userID, action)
		}

		allowed, err := m.rateLimiter.Allow(c.Request.Context(), key, perMinute, time.Minute)
		if err != nil {
			m.logger.For(c.Request.Context()).Error("rate limit check failed", zap.String("key", key), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limit check failed"})
			return
		}
		if !allowed {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// Trace 为每个请求分配 trace id，并写回响应头
func (m *MiddlewareManager) Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logger.WithTraceID(c.Request.Context(), c.GetHeader(logger.TraceHeader))
		c.Request = c.Request.WithContext(ctx)
		c.Header(logger.TraceHeader, logger.TraceID(ctx))
		c.Next()
	}
}

func (m *MiddlewareManager) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if userID := c.GetString(CtxUserID); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}

		log := m.logger.For(c.Request.Context())
		switch {
		case status >= 500:
			log.Error("server error", fields...)
		case status >= 400:
			log.Warn("client error", fields...)
		default:
			log.Debug("request completed", fields...)
		}
	}
}

func (m *MiddlewareManager) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Authorization, "+logger.TraceHeader)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", logger.TraceHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (m *MiddlewareManager) Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.For(c.Request.Context()).Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
