package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tallybook/api/internal/middleware"
	"tallybook/api/internal/models"
	"tallybook/api/internal/repository"
	"tallybook/api/internal/security"
	"tallybook/api/internal/service"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type userResponse struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Role               string `json:"role"`
	Active             bool   `json:"active"`
	MustChangePassword bool   `json:"mustChangePassword"`
}

type tokenResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         userResponse `json:"user"`
}

func toUserResponse(user models.User) userResponse {
	return userResponse{
		ID:                 user.ID,
		Email:              user.Email,
		Role:               user.Role,
		Active:             user.Active,
		MustChangePassword: user.MustChangePassword,
	}
}

func (h HandlerSet) SignUp(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		case errors.Is(err, security.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": "password too weak"})
		default:
			h.internalError(c, err, "register failed")
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": toUserResponse(user)})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, pair, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		// Same message for unknown email and wrong password.
		if errors.Is(err, service.ErrInvalidCredentials) || errors.Is(err, service.ErrAccountInactive) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.internalError(c, err, "login failed")
		return
	}

	h.setAuthCookies(c, pair)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         toUserResponse(user),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h HandlerSet) Refresh(c *gin.Context) {
	tokenStr := ""
	if cookie, err := c.Cookie(middleware.RefreshTokenCookie); err == nil && cookie != "" {
		tokenStr = cookie
	} else {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			tokenStr = req.RefreshToken
		}
	}
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	pair, err := h.tokens.Refresh(c.Request.Context(), tokenStr)
	if err != nil {
		if errors.Is(err, service.ErrMalformedToken) ||
			errors.Is(err, service.ErrTokenInvalidated) ||
			errors.Is(err, service.ErrAccountInactive) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		h.internalError(c, err, "refresh failed")
		return
	}

	h.setAuthCookies(c, pair)
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

func (h HandlerSet) Logout(c *gin.Context) {
	access := middleware.BearerToken(c)
	refresh, _ := c.Cookie(middleware.RefreshTokenCookie)

	h.authService.Logout(c.Request.Context(), access, refresh)
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserResponse(user)})
}

func (h HandlerSet) MyPermissions(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	perms, err := h.resolver.ListPermissions(c.Request.Context(), user)
	if err != nil {
		h.internalError(c, err, "list permissions failed")
		return
	}

	items := make([]gin.H, 0, len(perms))
	for _, p := range perms {
		items = append(items, gin.H{"feature": p.Feature, "action": p.Action})
	}
	c.JSON(http.StatusOK, gin.H{"permissions": items})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8"`
}

func (h HandlerSet) ChangePassword(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := h.authService.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		case errors.Is(err, security.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": "password too weak"})
		default:
			h.internalError(c, err, "change password failed")
		}
		return
	}

	// Every outstanding token was revoked; the client must log in again.
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) setAuthCookies(c *gin.Context, pair service.TokenPair) {
	c.SetSameSite(sameSiteMode(h.cfg.Cookie.SameSite))
	c.SetCookie(
		middleware.AccessTokenCookie,
		pair.AccessToken,
		int(h.cfg.Security.AccessTTL.Seconds()),
		h.cfg.Cookie.Path,
		h.cfg.Cookie.Domain,
		h.cfg.Cookie.Secure,
		true,
	)
	c.SetCookie(
		middleware.RefreshTokenCookie,
		pair.RefreshToken,
		int(h.cfg.Security.RefreshTTL.Seconds()),
		h.cfg.Cookie.Path,
		h.cfg.Cookie.Domain,
		h.cfg.Cookie.Secure,
		true,
	)
}

func (h HandlerSet) clearAuthCookies(c *gin.Context) {
	c.SetSameSite(sameSiteMode(h.cfg.Cookie.SameSite))
	c.SetCookie(middleware.AccessTokenCookie, "", -1, h.cfg.Cookie.Path, h.cfg.Cookie.Domain, h.cfg.Cookie.Secure, true)
	c.SetCookie(middleware.RefreshTokenCookie, "", -1, h.cfg.Cookie.Path, h.cfg.Cookie.Domain, h.cfg.Cookie.Secure, true)
}

func sameSiteMode(mode string) http.SameSite {
	switch mode {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (h HandlerSet) internalError(c *gin.Context, err error, msg string) {
	h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
}
