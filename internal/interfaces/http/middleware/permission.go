package middleware

import (
	"net/http"

	"github.com/freight/recognition/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PermissionConfig holds configuration for permission middleware
type PermissionConfig struct {
	// AllowAnonymous lets requests without claims through. It is set when
	// bearer tokens are optional; authenticated callers are still checked.
	AllowAnonymous bool
	Logger         *zap.Logger
}

// RequirePermission creates middleware that requires a specific permission
func RequirePermission(permission string) gin.HandlerFunc {
	return RequireAnyPermissionWithConfig(PermissionConfig{}, permission)
}

// RequireAnyPermission creates middleware that requires any of the specified permissions
func RequireAnyPermission(permissions ...string) gin.HandlerFunc {
	return RequireAnyPermissionWithConfig(PermissionConfig{}, permissions...)
}

// RequireAnyPermissionWithConfig creates middleware that requires any of the
// specified permissions with custom config
func RequireAnyPermissionWithConfig(cfg PermissionConfig, permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims == nil {
			if cfg.AllowAnonymous {
				c.Next()
				return
			}
			abortForbidden(c, cfg, permissions, "Authentication required")
			return
		}

		if !claims.HasAnyPermission(permissions...) {
			abortForbidden(c, cfg, permissions, "Missing required permission")
			return
		}
		c.Next()
	}
}

func abortForbidden(c *gin.Context, cfg PermissionConfig, required []string, message string) {
	if cfg.Logger != nil {
		cfg.Logger.Warn("Permission denied",
			zap.String("path", c.Request.URL.Path),
			zap.String("user_id", GetJWTUserID(c)),
			zap.Strings("required_any", required),
		)
	}
	c.AbortWithStatusJSON(http.StatusForbidden,
		dto.NewErrorResponseWithRequestID(dto.ErrCodeForbidden, message, GetRequestID(c)))
}
