package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/deals-auth-api/internal/middleware"
	"github.com/noah-isme/deals-auth-api/internal/models"
	appErrors "github.com/noah-isme/deals-auth-api/pkg/errors"
	"github.com/noah-isme/deals-auth-api/pkg/response"
)

// CookieSettings controls how the refresh token cookie is written. The
// refresh token travels only in this HTTP-only cookie; it never appears in a
// response body or anything script-readable.
type CookieSettings struct {
	Name   string
	Path   string
	Domain string
	Secure bool
}

// AuthHandler wires HTTP endpoints to the session service.
type AuthHandler struct {
	service sessionService
	cookie  CookieSettings
}

type sessionService interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
	Refresh(ctx context.Context, presented string, ip, userAgent string) (*models.TokenPair, error)
	RevokeRefreshToken(ctx context.Context, presented string, ip, userAgent string) error
	RevokeAllSessions(ctx context.Context, userID string) error
	ValidateRefreshToken(ctx context.Context, presented string) (bool, error)
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc sessionService, cookie CookieSettings) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "refresh_token"
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	return &AuthHandler{service: svc, cookie: cookie}
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate by email and password; sets the refresh token cookie
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setRefreshCookie(c, res.RefreshToken, res.RefreshExpiry)
	response.JSON(c, http.StatusOK, res)
}

// Refresh godoc
// @Summary Refresh access token
// @Description Rotate the refresh token cookie and mint a new access token
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	presented, err := c.Cookie(h.cookie.Name)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidRefreshToken, ""))
		return
	}

	pair, err := h.service.Refresh(c.Request.Context(), presented, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setRefreshCookie(c, pair.RefreshToken, pair.RefreshExpiry)
	response.JSON(c, http.StatusOK, pair)
}

// Logout godoc
// @Summary Logout current session
// @Description Revoke the refresh token and clear its cookie
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	presented, err := c.Cookie(h.cookie.Name)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "refresh token cookie required"))
		return
	}

	if err := h.service.RevokeRefreshToken(c.Request.Context(), presented, c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		h.clearRefreshCookie(c)
		response.Error(c, err)
		return
	}

	h.clearRefreshCookie(c)
	response.JSON(c, http.StatusOK, gin.H{"status": "logged_out"})
}

// ValidateRefreshToken godoc
// @Summary Probe refresh token validity
// @Description Read-only session probe; never rotates or consumes the token
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/validate-refresh-token [get]
func (h *AuthHandler) ValidateRefreshToken(c *gin.Context) {
	presented, err := c.Cookie(h.cookie.Name)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidRefreshToken, ""))
		return
	}

	valid, err := h.service.ValidateRefreshToken(c.Request.Context(), presented)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !valid {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidRefreshToken, ""))
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"valid": true})
}

// RevokeAllSessions godoc
// @Summary Revoke all sessions for a user
// @Description Revokes every live refresh token the user holds; admin only
// @Tags Authentication
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/users/{id}/sessions [delete]
func (h *AuthHandler) RevokeAllSessions(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "user id required"))
		return
	}

	if err := h.service.RevokeAllSessions(c.Request.Context(), userID); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"status": "sessions_revoked"})
}

// Me godoc
// @Summary Get current user
// @Description Returns the authenticated user's claims
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	info := models.UserInfo{
		ID:    claims.UserID,
		Email: claims.Email,
		Role:  claims.Role,
	}
	response.JSON(c, http.StatusOK, info)
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, value string, expiry time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		Expires:  expiry,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
