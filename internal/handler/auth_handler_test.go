package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/deals-auth-api/internal/middleware"
	"github.com/noah-isme/deals-auth-api/internal/models"
	appErrors "github.com/noah-isme/deals-auth-api/pkg/errors"
)

type stubSessionService struct {
	loginRes    *models.LoginResponse
	loginErr    error
	refreshRes  *models.TokenPair
	refreshErr  error
	revokeErr   error
	valid       bool
	validateErr error

	refreshedWith  string
	revokedWith    string
	validatedWith  string
	revokedAllUser string
}

func (s *stubSessionService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	return s.loginRes, s.loginErr
}

func (s *stubSessionService) Refresh(ctx context.Context, presented string, ip, userAgent string) (*models.TokenPair, error) {
	s.refreshedWith = presented
	return s.refreshRes, s.refreshErr
}

func (s *stubSessionService) RevokeRefreshToken(ctx context.Context, presented string, ip, userAgent string) error {
	s.revokedWith = presented
	return s.revokeErr
}

func (s *stubSessionService) RevokeAllSessions(ctx context.Context, userID string) error {
	s.revokedAllUser = userID
	return nil
}

func (s *stubSessionService) ValidateRefreshToken(ctx context.Context, presented string) (bool, error) {
	s.validatedWith = presented
	return s.valid, s.validateErr
}

type stubTokenValidator struct {
	claims *models.JWTClaims
}

func (s *stubTokenValidator) ValidateAccessToken(tokenString string) (*models.JWTClaims, error) {
	if s.claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	return s.claims, nil
}

func newAuthRouter(svc *stubSessionService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandler(svc, CookieSettings{Name: "refresh_token", Path: "/api/v1", Secure: true})
	router := gin.New()
	auth := router.Group("/api/v1/auth")
	auth.POST("/login", h.Login)
	auth.POST("/refresh", h.Refresh)
	auth.POST("/logout", h.Logout)
	auth.GET("/validate-refresh-token", h.ValidateRefreshToken)
	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func refreshCookie(t *testing.T, resp *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range resp.Result().Cookies() {
		if cookie.Name == "refresh_token" {
			return cookie
		}
	}
	t.Fatal("refresh_token cookie not set")
	return nil
}

func TestAuthHandlerLogin(t *testing.T) {
	expiry := time.Now().Add(7 * 24 * time.Hour)
	svc := &stubSessionService{loginRes: &models.LoginResponse{
		TokenPair: models.TokenPair{
			AccessToken:   "access-jwt",
			AccessExpiry:  time.Now().Add(15 * time.Minute),
			RefreshToken:  "refresh-opaque",
			RefreshExpiry: expiry,
		},
		User: models.UserInfo{ID: "u1", Email: "a@b.com", Role: models.RoleMember},
	}}
	router := newAuthRouter(svc)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(`{"email":"a@b.com","password":"pw"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"access_token":"access-jwt"`)
	// The refresh token travels only in the cookie, never the body.
	assert.NotContains(t, resp.Body.String(), "refresh-opaque")
	assert.Equal(t, "no-store", resp.Header().Get("Cache-Control"))

	cookie := refreshCookie(t, resp)
	assert.Equal(t, "refresh-opaque", cookie.Value)
	assert.Equal(t, "/api/v1", cookie.Path)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.WithinDuration(t, expiry, cookie.Expires, time.Minute)
}

func TestAuthHandlerLoginBadPayload(t *testing.T) {
	router := newAuthRouter(&stubSessionService{})

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(`{`))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAuthHandlerLoginInvalidCredentials(t *testing.T) {
	svc := &stubSessionService{loginErr: appErrors.ErrInvalidCredentials}
	router := newAuthRouter(svc)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(`{"email":"a@b.com","password":"bad"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Contains(t, resp.Body.String(), appErrors.ErrInvalidCredentials.Code)
}

func TestAuthHandlerRefresh(t *testing.T) {
	svc := &stubSessionService{refreshRes: &models.TokenPair{
		AccessToken:   "new-access",
		AccessExpiry:  time.Now().Add(15 * time.Minute),
		RefreshToken:  "new-refresh",
		RefreshExpiry: time.Now().Add(7 * 24 * time.Hour),
	}}
	router := newAuthRouter(svc)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "old-refresh"})
	resp := performRequest(router, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "old-refresh", svc.refreshedWith)
	assert.Contains(t, resp.Body.String(), `"access_token":"new-access"`)
	assert.NotContains(t, resp.Body.String(), "new-refresh")
	assert.Equal(t, "new-refresh", refreshCookie(t, resp).Value)
}

func TestAuthHandlerRefreshWithoutCookie(t *testing.T) {
	router := newAuthRouter(&stubSessionService{})

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	resp := performRequest(router, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthHandlerRefreshRejected(t *testing.T) {
	svc := &stubSessionService{refreshErr: appErrors.ErrInvalidRefreshToken}
	router := newAuthRouter(svc)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "replayed"})
	resp := performRequest(router, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Contains(t, resp.Body.String(), appErrors.ErrInvalidRefreshToken.Code)
}

func TestAuthHandlerLogoutClearsCookie(t *testing.T) {
	svc := &stubSessionService{}
	router := newAuthRouter(svc)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "live-refresh"})
	resp := performRequest(router, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "live-refresh", svc.revokedWith)

	cookie := refreshCookie(t, resp)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestAuthHandlerLogoutWithoutCookie(t *testing.T) {
	router := newAuthRouter(&stubSessionService{})

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAuthHandlerRevokeAllSessions(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(svc *stubSessionService, tokens *stubTokenValidator) *gin.Engine {
		h := NewAuthHandler(svc, CookieSettings{})
		router := gin.New()
		router.DELETE("/api/v1/auth/users/:id/sessions",
			middleware.JWT(tokens),
			middleware.RequireRoles(models.RoleAdmin),
			h.RevokeAllSessions)
		return router
	}

	t.Run("admin revokes", func(t *testing.T) {
		svc := &stubSessionService{}
		router := newRouter(svc, &stubTokenValidator{claims: &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin}})

		req, _ := http.NewRequest(http.MethodDelete, "/api/v1/auth/users/u1/sessions", nil)
		req.Header.Set("Authorization", "Bearer good")
		resp := performRequest(router, req)

		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "u1", svc.revokedAllUser)
	})

	t.Run("member forbidden", func(t *testing.T) {
		svc := &stubSessionService{}
		router := newRouter(svc, &stubTokenValidator{claims: &models.JWTClaims{UserID: "u2", Role: models.RoleMember}})

		req, _ := http.NewRequest(http.MethodDelete, "/api/v1/auth/users/u1/sessions", nil)
		req.Header.Set("Authorization", "Bearer good")
		resp := performRequest(router, req)

		require.Equal(t, http.StatusForbidden, resp.Code)
		assert.Empty(t, svc.revokedAllUser)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		router := newRouter(&stubSessionService{}, &stubTokenValidator{})

		req, _ := http.NewRequest(http.MethodDelete, "/api/v1/auth/users/u1/sessions", nil)
		resp := performRequest(router, req)

		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}

func TestAuthHandlerValidateRefreshToken(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		svc := &stubSessionService{valid: true}
		router := newAuthRouter(svc)

		req, _ := http.NewRequest(http.MethodGet, "/api/v1/auth/validate-refresh-token", nil)
		req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "live"})
		resp := performRequest(router, req)

		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "live", svc.validatedWith)
		assert.Contains(t, resp.Body.String(), `"valid":true`)
	})

	t.Run("invalid", func(t *testing.T) {
		svc := &stubSessionService{valid: false}
		router := newAuthRouter(svc)

		req, _ := http.NewRequest(http.MethodGet, "/api/v1/auth/validate-refresh-token", nil)
		req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "stale"})
		resp := performRequest(router, req)

		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("missing cookie", func(t *testing.T) {
		router := newAuthRouter(&stubSessionService{})

		req, _ := http.NewRequest(http.MethodGet, "/api/v1/auth/validate-refresh-token", nil)
		resp := performRequest(router, req)

		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}
