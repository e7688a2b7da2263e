package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gitlaber/auth"
	"gitlaber/gitlab"
	"gitlaber/types"
)

const stateMaxAge = 600

// TokenLoginRequest carries a personal access token for non-browser clients
type TokenLoginRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) callbackURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return fmt.Sprintf("%s://%s/user_sessions/authorized", scheme, c.Request.Host)
}

// safeNext keeps redirects on this host
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/api/index"
	}
	return next
}

// login handles GET /login
func (s *Server) login(c *gin.Context) {
	state, err := auth.NewState()
	if err != nil {
		gitlab.LogError("Failed to generate OAuth state: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start login"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, stateMaxAge, "/", "", false, true)
	c.SetCookie(nextCookie, safeNext(c.Query("next")), stateMaxAge, "/", "", false, true)
	c.Redirect(http.StatusFound, s.oauth.AuthCodeURL(state, s.callbackURL(c)))
}

// authorized handles GET /user_sessions/authorized, the OAuth callback
func (s *Server) authorized(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		c.String(http.StatusUnauthorized, "Access denied: reason=%s error=%s", reason, c.Query("error_description"))
		return
	}
	expected, err := c.Cookie(stateCookie)
	if err != nil || expected == "" || expected != c.Query("state") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid OAuth state"})
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", false, true)

	token, err := s.oauth.Exchange(c.Request.Context(), c.Query("code"), s.callbackURL(c))
	if err != nil {
		gitlab.LogWarning("OAuth exchange failed: %s", gitlab.SanitizeErrorMessage(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized access"})
		return
	}

	user, ok := s.adminUser(c, token)
	if !ok {
		return
	}
	if _, err := s.startSession(c, user, token); err != nil {
		return
	}

	next, _ := c.Cookie(nextCookie)
	c.SetCookie(nextCookie, "", -1, "/", "", false, true)
	c.Redirect(http.StatusFound, safeNext(next))
}

// tokenLogin handles POST /auth/token
func (s *Server) tokenLogin(c *gin.Context) {
	var req TokenLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid request body",
			"statusCode": http.StatusBadRequest,
		})
		return
	}

	user, ok := s.adminUser(c, req.Token)
	if !ok {
		return
	}
	signed, err := s.startSession(c, user, req.Token)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":    signed,
		"username": user.Username,
		"userId":   user.ID,
	})
}

// adminUser reads /user with token and rejects non-administrators
func (s *Server) adminUser(c *gin.Context, token string) (*types.GitLabUser, bool) {
	user, err := s.client.CurrentUser(gitlab.WithToken(c.Request.Context(), token))
	if err != nil {
		if gitlab.IsStatus(err, http.StatusUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized access"})
			return nil, false
		}
		gitlab.LogError("Failed to read current user: %s", gitlab.SanitizeErrorMessage(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to reach GitLab"})
		return nil, false
	}
	if !user.IsAdmin {
		gitlab.LogWarning("Rejected login of non-admin user %s", user.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized access"})
		return nil, false
	}
	return user, true
}

func (s *Server) startSession(c *gin.Context, user *types.GitLabUser, token string) (string, error) {
	claims := s.sessions.NewClaims(user)
	if err := s.tokens.Put(c.Request.Context(), claims, token); err != nil {
		gitlab.LogError("Failed to store GitLab token for user %d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store GitLab token"})
		return "", err
	}
	signed, err := s.sessions.Sign(claims)
	if err != nil {
		gitlab.LogError("Failed to sign session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return "", err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, signed, int(s.cfg.SessionTTL().Seconds()), "/", "", false, true)
	gitlab.LogInfo("User %s logged in", user.Username)
	return signed, nil
}

// logout handles GET /logout
func (s *Server) logout(c *gin.Context) {
	if raw := sessionToken(c); raw != "" {
		if claims, err := s.sessions.Validate(raw); err == nil {
			if err := s.tokens.Delete(c.Request.Context(), claims); err != nil {
				gitlab.LogError("Failed to delete GitLab token for user %d: %v", claims.UserID, err)
			}
		}
	}
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}
