package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/deals-auth-api/internal/models"
	appErrors "github.com/noah-isme/deals-auth-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
	err    error
}

func (s *stubValidator) ValidateAccessToken(tokenString string) (*models.JWTClaims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.claims, nil
}

func newGuardedRouter(validator AccessTokenValidator, roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("/", JWT(validator))
	if len(roles) > 0 {
		group.Use(RequireRoles(roles...))
	}
	group.GET("/protected", func(c *gin.Context) {
		claims, _ := CurrentClaims(c)
		c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID})
	})
	return router
}

func serve(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddleware(t *testing.T) {
	valid := &stubValidator{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleMember}}

	t.Run("accepts bearer token", func(t *testing.T) {
		resp := serve(newGuardedRouter(valid), "Bearer good")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), `"user_id":"u1"`)
	})

	t.Run("missing header", func(t *testing.T) {
		resp := serve(newGuardedRouter(valid), "")
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		resp := serve(newGuardedRouter(valid), "Token abc")
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("rejected token", func(t *testing.T) {
		invalid := &stubValidator{err: appErrors.ErrUnauthorized}
		resp := serve(newGuardedRouter(invalid), "Bearer bad")
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}

func TestRequireRoles(t *testing.T) {
	member := &stubValidator{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleMember}}
	admin := &stubValidator{claims: &models.JWTClaims{UserID: "u2", Role: models.RoleAdmin}}

	t.Run("allowed role", func(t *testing.T) {
		resp := serve(newGuardedRouter(admin, models.RoleAdmin), "Bearer good")
		require.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("forbidden role", func(t *testing.T) {
		resp := serve(newGuardedRouter(member, models.RoleAdmin), "Bearer good")
		require.Equal(t, http.StatusForbidden, resp.Code)
	})
}
