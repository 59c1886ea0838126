package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/gin-gonic/gin"
)

const (
	principalKey   = "principal"
	permissionsKey = "permissions"
)

var allPermissions = []Permission{PermOperator, PermTechnician, PermAdmin}

// AuthMiddleware validates tokens and enforces authentication. With auth
// disabled every caller gets every permission.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Set(permissionsKey, allPermissions)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "invalid authorization header format", nil))
			return
		}

		principal, err := a.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "invalid or expired token", nil))
			return
		}

		c.Set(principalKey, principal)
		c.Set(permissionsKey, principal.Permissions)
		c.Next()
	}
}

// RequirePermission checks if user has required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasPermission(GetPermissions(c), required) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("FORBIDDEN", "insufficient permissions", gin.H{"required": string(required)}))
			return
		}
		c.Next()
	}
}

// GetPermissions extracts permissions from the request context
func GetPermissions(c *gin.Context) []Permission {
	if perms, ok := c.Get(permissionsKey); ok {
		if p, ok := perms.([]Permission); ok {
			return p
		}
	}
	return nil
}

// GetPrincipal returns the authenticated caller, nil with auth disabled.
func GetPrincipal(c *gin.Context) *Principal {
	if p, ok := c.Get(principalKey); ok {
		if principal, ok := p.(*Principal); ok {
			return principal
		}
	}
	return nil
}

func HasPermission(permissions []Permission, required Permission) bool {
	for _, p := range permissions {
		if p == required {
			return true
		}
	}
	return false
}
