package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tablecrm-orders-go/internal/session"
)

const (
	sessionCookie = "session"
	sessionHeader = "X-Session-ID"
	sessionCtxKey = "tablecrm.session"
)

// requestLogger logs every request through logrus
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": status,
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}
		entry := logger.WithFields(fields)
		switch {
		case status >= 500:
			entry.Errorf("HTTP %s %s -> %d", c.Request.Method, c.Request.URL.Path, status)
		case status >= 400:
			entry.Warnf("HTTP %s %s -> %d", c.Request.Method, c.Request.URL.Path, status)
		default:
			entry.Debugf("HTTP %s %s -> %d", c.Request.Method, c.Request.URL.Path, status)
		}
	}
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+sessionHeader)
}

// cors allows any origin and answers preflight requests
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		setCORSHeaders(c.Writer.Header())
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func sessionKey(c *gin.Context) string {
	if key := c.GetHeader(sessionHeader); key != "" {
		return key
	}
	if key, err := c.Cookie(sessionCookie); err == nil {
		return key
	}
	return ""
}

// requireSession resolves the session of the request, restoring it from storage when needed
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := sessionKey(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		sess, err := s.sessions.Restore(c.Request.Context(), key)
		if errors.Is(err, session.ErrNoSession) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if err != nil {
			s.logger.Errorf("Failed to restore session: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session storage unavailable"})
			return
		}
		c.Set(sessionCtxKey, sess)
		c.Next()
	}
}

func currentSession(c *gin.Context) *session.Session {
	return c.MustGet(sessionCtxKey).(*session.Session)
}
