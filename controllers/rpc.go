package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/github-community-projects/internal-contribution-forks/config"
	"github.com/github-community-projects/internal-contribution-forks/gitops"
	"github.com/github-community-projects/internal-contribution-forks/logging"
	"github.com/github-community-projects/internal-contribution-forks/middleware"
	"github.com/github-community-projects/internal-contribution-forks/services"
	"github.com/github-community-projects/internal-contribution-forks/utils"
)

// RPCController exposes the management operations as JSON POST endpoints.
type RPCController struct {
	GithubClientProvider utils.GithubClientProvider
	Resolver             services.OrgConfigResolver
	Syncer               *services.Syncer
	Mirrors              *services.Mirrors
}

type orgRequest struct {
	OrgID string `json:"orgId"`
}

type installationRequest struct {
	OrgID string `json:"orgId" binding:"required"`
}

func (r *RPCController) SyncRepos(c *gin.Context) {
	var req services.SyncRequest
	if !bind(c, &req) {
		return
	}
	if req.AccessToken == "" {
		req.AccessToken = middleware.AccessToken(c)
	}
	res, err := r.Syncer.SyncRepos(c.Request.Context(), req)
	if err != nil {
		respondError(c, "syncRepos", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *RPCController) CreateMirror(c *gin.Context) {
	var req services.CreateMirrorRequest
	if !bind(c, &req) {
		return
	}
	res, err := r.Mirrors.CreateMirror(c.Request.Context(), req)
	if err != nil {
		respondError(c, "createMirror", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *RPCController) ListMirrors(c *gin.Context) {
	var req services.ListMirrorsRequest
	if !bind(c, &req) {
		return
	}
	repos, err := r.Mirrors.ListMirrors(c.Request.Context(), req)
	if err != nil {
		respondError(c, "listMirrors", err)
		return
	}
	c.JSON(http.StatusOK, repos)
}

func (r *RPCController) DeleteMirror(c *gin.Context) {
	var req services.DeleteMirrorRequest
	if !bind(c, &req) {
		return
	}
	ok, err := r.Mirrors.DeleteMirror(c.Request.Context(), req)
	if err != nil {
		respondError(c, "deleteMirror", err)
		return
	}
	c.JSON(http.StatusOK, ok)
}

func (r *RPCController) CheckInstallation(c *gin.Context) {
	var req installationRequest
	if !bind(c, &req) {
		return
	}
	status, err := services.CheckInstallation(c.Request.Context(), r.GithubClientProvider, req.OrgID)
	if err != nil {
		respondError(c, "checkInstallation", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (r *RPCController) GetConfig(c *gin.Context) {
	var req orgRequest
	if !bind(c, &req) {
		return
	}
	cfg, err := r.Resolver.GetConfig(c.Request.Context(), req.OrgID)
	if err != nil {
		respondError(c, "getConfig", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// respondError maps the error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, procedure string, err error) {
	status := http.StatusInternalServerError

	var configErr *config.ConfigError
	var invalidErr *config.InvalidConfigError
	var gitErr *gitops.GitOperationError
	var ghErr *utils.GitHubError
	switch {
	case errors.As(err, &configErr), errors.As(err, &invalidErr):
		status = http.StatusBadRequest
	case errors.As(err, &gitErr):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.As(err, &ghErr):
		switch ghErr.Type {
		case utils.ErrorTypeAuth:
			status = http.StatusUnauthorized
		case utils.ErrorTypePermission:
			status = http.StatusForbidden
		case utils.ErrorTypeNotFound:
			status = http.StatusNotFound
		case utils.ErrorTypeValidation:
			status = http.StatusUnprocessableEntity
		case utils.ErrorTypeConflict:
			status = http.StatusConflict
		case utils.ErrorTypeRateLimit:
			status = http.StatusTooManyRequests
		default:
			status = http.StatusBadGateway
		}
	}

	logging.From(c.Request.Context()).Error("RPC failed", "procedure", procedure, "status", status, "error", err)
	c.JSON(status, gin.H{"error": err.Error()})
}
