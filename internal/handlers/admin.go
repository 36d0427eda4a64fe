package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tallybook/api/internal/middleware"
	"tallybook/api/internal/repository"
	"tallybook/api/internal/service"
)

func (h HandlerSet) AdminListUsers(c *gin.Context) {
	limit := 50
	offset := 0

	if perPage := c.Query("perPage"); perPage != "" {
		if v, err := strconv.Atoi(perPage); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	if page := c.Query("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 1 {
			offset = (v - 1) * limit
		}
	}

	users, err := h.users.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.internalError(c, err, "list users failed")
		return
	}

	items := make([]userResponse, 0, len(users))
	for _, user := range users {
		items = append(items, toUserResponse(user))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type createUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
}

func (h HandlerSet) AdminCreateUser(c *gin.Context) {
	admin, _ := middleware.CurrentUser(c)

	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := h.authService.CreateUser(c.Request.Context(), service.CreateUserInput{
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		CreatedBy: admin.ID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		h.internalError(c, err, "create user failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": toUserResponse(user)})
}

func (h HandlerSet) AdminDeactivateUser(c *gin.Context) {
	if err := h.authService.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.internalError(c, err, "deactivate user failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) AdminDeleteUser(c *gin.Context) {
	if err := h.authService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.internalError(c, err, "delete user failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// AdminRevokeTokens force-terminates every session of the target user.
func (h HandlerSet) AdminRevokeTokens(c *gin.Context) {
	count, err := h.tokens.RevokeAll(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.internalError(c, err, "revoke tokens failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": count})
}

type permissionRequest struct {
	Feature string `json:"feature" binding:"required"`
	Action  string `json:"action" binding:"required"`
}

func (h HandlerSet) AdminGrantPermission(c *gin.Context) {
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := h.resolver.Grant(c.Request.Context(), c.Param("id"), req.Feature, req.Action)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyGranted):
			c.JSON(http.StatusConflict, gin.H{"error": "permission already granted"})
		case errors.Is(err, repository.ErrPermissionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown permission"})
		default:
			h.internalError(c, err, "grant permission failed")
		}
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) AdminRevokePermission(c *gin.Context) {
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := h.resolver.Revoke(c.Request.Context(), c.Param("id"), req.Feature, req.Action)
	if err != nil {
		if errors.Is(err, repository.ErrPermissionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown permission"})
			return
		}
		h.internalError(c, err, "revoke permission failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) AdminTokenStats(c *gin.Context) {
	stats, err := h.cleanup.Stats(c.Request.Context())
	if err != nil {
		h.internalError(c, err, "token stats failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": stats})
}

func (h HandlerSet) AdminRunCleanup(c *gin.Context) {
	report, err := h.cleanup.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrCleanupRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "cleanup already running"})
			return
		}
		h.internalError(c, err, "cleanup run failed")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h HandlerSet) AdminDryRunCleanup(c *gin.Context) {
	report, err := h.cleanup.DryRun(c.Request.Context())
	if err != nil {
		h.internalError(c, err, "cleanup dry run failed")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h HandlerSet) AdminCleanupHealth(c *gin.Context) {
	report := h.cleanup.Health(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
