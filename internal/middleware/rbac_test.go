package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/authguard-api/internal/models"
)

func routerWithClaims(claims *models.AccessClaims, guard gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/audit/users/:id", func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
		c.Next()
	}, guard, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func serve(r *gin.Engine, path string) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Code
}

func TestRBACAllowsRole(t *testing.T) {
	r := routerWithClaims(&models.AccessClaims{UserID: "admin-1", Role: models.RoleAdmin}, RBAC(string(models.RoleAdmin), "SELF"))
	assert.Equal(t, http.StatusOK, serve(r, "/audit/users/user-9"))
}

func TestRBACAllowsSelf(t *testing.T) {
	r := routerWithClaims(&models.AccessClaims{UserID: "user-9", Role: models.RoleUser}, RBAC(string(models.RoleAdmin), "SELF"))
	assert.Equal(t, http.StatusOK, serve(r, "/audit/users/user-9"))
	assert.Equal(t, http.StatusForbidden, serve(r, "/audit/users/user-8"))
}

func TestRBACWithoutClaims(t *testing.T) {
	r := routerWithClaims(nil, RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/audit/users/user-9"))
}

func TestRequirePermission(t *testing.T) {
	guard := RequirePermission("audit:export")

	withPermission := routerWithClaims(&models.AccessClaims{UserID: "a", Role: models.RoleAdmin, Permissions: []string{"audit:export"}}, guard)
	assert.Equal(t, http.StatusOK, serve(withPermission, "/audit/users/x"))

	superAdmin := routerWithClaims(&models.AccessClaims{UserID: "s", Role: models.RoleSuperAdmin}, guard)
	assert.Equal(t, http.StatusOK, serve(superAdmin, "/audit/users/x"))

	plain := routerWithClaims(&models.AccessClaims{UserID: "u", Role: models.RoleAdmin}, guard)
	assert.Equal(t, http.StatusForbidden, serve(plain, "/audit/users/x"))
}
