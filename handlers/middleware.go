package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gitlaber/auth"
	"gitlaber/gitlab"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware tags each request with an id, reusing the caller's
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestLogger logs one line per request through logrus
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := gitlab.Logger.WithFields(logrus.Fields{
			"component":  "http",
			"method":     c.Request.Method,
			"path":       gitlab.RedactToken(c.Request.URL.RequestURI()),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"request_id": c.GetString("requestID"),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request served")
		}
	}
}

// sessionToken returns the session JWT from the Authorization header or the cookie
func sessionToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if v, err := c.Cookie(sessionCookie); err == nil {
		return v
	}
	return ""
}

// loginRequired resolves the caller's GitLab token and stores it in the
// request context. A token forwarded by an OAuth proxy wins over the session.
func (s *Server) loginRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		token := c.GetHeader("X-Forwarded-Access-Token")
		if token == "" {
			raw := sessionToken(c)
			if raw == "" {
				s.unauthenticated(c, "Authentication required")
				return
			}
			claims, err := s.sessions.Validate(raw)
			if err != nil {
				s.unauthenticated(c, "Invalid or expired session")
				return
			}
			token, err = s.tokens.Get(ctx, claims)
			if err != nil {
				if !errors.Is(err, auth.ErrNoStoredToken) {
					gitlab.LogError("Failed to load GitLab token for user %d: %v", claims.UserID, err)
				}
				s.unauthenticated(c, "No GitLab token for session")
				return
			}
			c.Set(claimsKey, claims)
		}

		c.Request = c.Request.WithContext(gitlab.WithToken(ctx, token))
		c.Next()
	}
}

// unauthenticated sends browsers to the login flow and API clients a 401
func (s *Server) unauthenticated(c *gin.Context, message string) {
	if c.Request.Method == http.MethodGet && strings.Contains(c.GetHeader("Accept"), "text/html") {
		c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(c.Request.URL.RequestURI()))
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":      message,
		"statusCode": http.StatusUnauthorized,
	})
}
