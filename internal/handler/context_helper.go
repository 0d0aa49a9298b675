package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/authguard-api/internal/middleware"
	"github.com/noah-isme/authguard-api/internal/models"
	appErrors "github.com/noah-isme/authguard-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.AccessClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.AccessClaims)
	if !ok {
		return nil
	}
	return claims
}

func accessTokenFromContext(c *gin.Context) string {
	return c.GetString(middleware.ContextTokenKey)
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid "+name+" parameter")
	}
	return value, nil
}
