// Package handlers exposes the provisioning workflows over HTTP
package handlers

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitlaber/auth"
	"gitlaber/config"
	"gitlaber/gitlab"
	"gitlaber/provisioning"
	"gitlaber/websocket"
)

const (
	sessionCookie = "gitlaber_session"
	stateCookie   = "gitlaber_oauth_state"
	nextCookie    = "gitlaber_next"

	claimsKey = "claims"
)

// Server holds the dependencies of the HTTP surface
type Server struct {
	cfg      *config.Config
	client   *gitlab.Client
	service  *provisioning.Service
	sessions *auth.Sessions
	oauth    *auth.OAuth
	tokens   auth.TokenStore
}

// NewServer wires the handlers. client carries no token of its own; every
// request supplies the caller's token through its context.
func NewServer(cfg *config.Config, client *gitlab.Client, sessions *auth.Sessions, oauth *auth.OAuth, tokens auth.TokenStore) *Server {
	return &Server{
		cfg:      cfg,
		client:   client,
		service:  provisioning.NewService(client, cfg.PageSize),
		sessions: sessions,
		oauth:    oauth,
		tokens:   tokens,
	}
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(requestLogger())

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Forwarded-Access-Token", requestIDHeader}
	r.Use(cors.New(corsConfig))

	r.GET("/health", health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/login", s.login)
	r.GET("/user_sessions/authorized", s.authorized)
	r.POST("/auth/token", s.tokenLogin)
	r.GET("/logout", s.logout)

	authed := r.Group("/", s.loginRequired())
	{
		authed.GET("/api/index", s.index)
		authed.GET("/api/users", s.listUsers)
		authed.GET("/api/groups", s.listGroups)
		authed.GET("/api/projects", s.listProjects)
		authed.GET("/data", s.data)
		authed.POST("/result", s.result)
		authed.GET("/ws/result", websocket.HandleResultWebSocket(s.service))
	}

	return r
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"health": "Good doctor!"})
}
