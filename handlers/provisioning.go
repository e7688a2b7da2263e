package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"gitlaber/gitlab"
	"gitlaber/provisioning"
	"gitlaber/types"
)

// remoteError maps a failed enumeration to a response without leaking tokens
func remoteError(c *gin.Context, what string, err error) {
	switch {
	case errors.Is(err, provisioning.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case gitlab.IsStatus(err, http.StatusUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "GitLab rejected the session token"})
	default:
		gitlab.LogError("Failed to %s: %s", what, gitlab.SanitizeErrorMessage(err))
		body := gin.H{"error": "Failed to " + what}
		var apiErr *types.GitLabAPIError
		if errors.As(err, &apiErr) {
			body["remediation"] = apiErr.Remediation
		}
		c.JSON(http.StatusBadGateway, body)
	}
}

// index handles GET /api/index
func (s *Server) index(c *gin.Context) {
	ctx := c.Request.Context()
	user, err := s.client.CurrentUser(ctx)
	if err != nil {
		remoteError(c, "read current user", err)
		return
	}
	users, err := s.service.EnumerateUsers(ctx)
	if err != nil {
		remoteError(c, "list users", err)
		return
	}
	projects, err := s.service.EnumerateProjects(ctx)
	if err != nil {
		remoteError(c, "list projects", err)
		return
	}
	groups, err := s.service.EnumerateGroups(ctx)
	if err != nil {
		remoteError(c, "list groups", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"gitlab_url":   s.cfg.GitLabURL,
		"current_user": user,
		"users":        users,
		"projects":     projects,
		"groups":       groups,
	})
}

// listUsers handles GET /api/users
func (s *Server) listUsers(c *gin.Context) {
	users, err := s.service.EnumerateUsers(c.Request.Context())
	if err != nil {
		remoteError(c, "list users", err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// listGroups handles GET /api/groups
func (s *Server) listGroups(c *gin.Context) {
	groups, err := s.service.EnumerateGroups(c.Request.Context())
	if err != nil {
		remoteError(c, "list groups", err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

// listProjects handles GET /api/projects
func (s *Server) listProjects(c *gin.Context) {
	projects, err := s.service.EnumerateProjects(c.Request.Context())
	if err != nil {
		remoteError(c, "list projects", err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

// data handles GET /data?type=projects|project_branches&path=...
func (s *Server) data(c *gin.Context) {
	path := c.Query("path")
	ctx := c.Request.Context()

	switch c.Query("type") {
	case "projects":
		names, err := s.service.ProjectsInGroup(ctx, path)
		if err != nil {
			remoteError(c, "list projects", err)
			return
		}
		c.JSON(http.StatusOK, names)
	case "project_branches":
		branches, err := s.service.ProjectBranches(ctx, path)
		if err != nil {
			remoteError(c, "list branches", err)
			return
		}
		c.JSON(http.StatusOK, branches)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be projects or project_branches"})
	}
}

// result handles POST /result with a JSON or form encoded ProvisioningRequest
func (s *Server) result(c *gin.Context) {
	var req types.ProvisioningRequest
	var err error
	if c.ContentType() == binding.MIMEJSON {
		err = c.ShouldBindJSON(&req)
	} else {
		err = types.BindForm(c.Request, &req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid request: " + err.Error(),
			"statusCode": http.StatusBadRequest,
		})
		return
	}
	if err := provisioning.ValidateRequest(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      err.Error(),
			"statusCode": http.StatusBadRequest,
		})
		return
	}

	out, err := s.service.Provision(c.Request.Context(), req, nil)
	if err != nil {
		var stepErr *provisioning.StepError
		if errors.As(err, &stepErr) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   gitlab.SanitizeErrorMessage(stepErr.Err),
				"step":    stepErr.Step,
				"partial": out,
			})
			return
		}
		remoteError(c, "provision", err)
		return
	}
	c.JSON(http.StatusOK, out)
}
