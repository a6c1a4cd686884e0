package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/freight/recognition/internal/infrastructure/auth"
	"github.com/freight/recognition/internal/infrastructure/logger"
	"github.com/freight/recognition/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Auth context keys and headers
const (
	JWTClaimsKey  = "jwt_claims"
	JWTUserIDKey  = "jwt_user_id"
	CompanyKey    = "company"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	// CompanyHeader names the company of unauthenticated requests when tokens are optional
	CompanyHeader = "X-Company"
)

// JWTMiddlewareConfig holds configuration for JWT middleware
type JWTMiddlewareConfig struct {
	TokenService *auth.TokenService
	// TokenBlacklist is optional; lookups fail open
	TokenBlacklist auth.TokenBlacklist
	// Required rejects requests without a bearer token. When false the
	// company is taken from the X-Company header or the company query parameter.
	Required         bool
	SkipPaths        []string
	SkipPathPrefixes []string
	Logger           *zap.Logger
}

// JWTAuth authenticates bearer tokens and resolves the request company
func JWTAuth(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skip := range cfg.SkipPaths {
			if path == skip {
				c.Next()
				return
			}
		}
		for _, prefix := range cfg.SkipPathPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			if cfg.Required {
				abortUnauthorized(c, cfg, auth.ErrInvalidToken, "Missing authorization header")
				return
			}
			company := strings.TrimSpace(c.GetHeader(CompanyHeader))
			if company == "" {
				company = strings.TrimSpace(c.Query("company"))
			}
			setCompany(c, company)
			c.Next()
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, BearerPrefix)
		if !ok || tokenString == "" {
			abortUnauthorized(c, cfg, auth.ErrInvalidToken, "Invalid authorization header format")
			return
		}

		claims, err := cfg.TokenService.VerifyToken(tokenString)
		if err != nil {
			abortUnauthorized(c, cfg, err, "Token validation failed")
			return
		}

		if cfg.TokenBlacklist != nil && revoked(c, cfg, claims) {
			abortUnauthorized(c, cfg, auth.ErrTokenRevoked, "Token has been revoked")
			return
		}

		c.Set(JWTClaimsKey, claims)
		c.Set(JWTUserIDKey, claims.UserID)
		setCompany(c, claims.Company)

		ctx, _ := logger.WithSubject(c.Request.Context(), logger.FromContext(c.Request.Context()), claims.UserID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func revoked(c *gin.Context, cfg JWTMiddlewareConfig, claims *auth.Claims) bool {
	ctx := c.Request.Context()
	if claims.ID != "" {
		blacklisted, err := cfg.TokenBlacklist.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			cfg.Logger.Error("Failed to check token blacklist", zap.String("jti", claims.ID), zap.Error(err))
		} else if blacklisted {
			return true
		}
	}
	invalidated, err := cfg.TokenBlacklist.IsUserTokenInvalidated(ctx, claims.UserID, claims.GetIssuedAtTime())
	if err != nil {
		cfg.Logger.Error("Failed to check user token invalidation", zap.String("user_id", claims.UserID), zap.Error(err))
		return false
	}
	return invalidated
}

func setCompany(c *gin.Context, company string) {
	if company == "" {
		return
	}
	c.Set(CompanyKey, company)
	ctx, _ := logger.WithCompany(c.Request.Context(), logger.FromContext(c.Request.Context()), company)
	c.Request = c.Request.WithContext(ctx)
}

func abortUnauthorized(c *gin.Context, cfg JWTMiddlewareConfig, err error, message string) {
	cfg.Logger.Warn("JWT authentication failed",
		zap.Error(err),
		zap.String("message", message),
		zap.String("path", c.Request.URL.Path),
	)

	code, msg := dto.ErrCodeUnauthorized, "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, msg = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		code, msg = dto.ErrCodeTokenInvalid, "Token is not yet valid"
	case errors.Is(err, auth.ErrTokenRevoked):
		code, msg = dto.ErrCodeTokenRevoked, "Token has been revoked"
	case errors.Is(err, auth.ErrMissingCompany):
		code, msg = dto.ErrCodeMissingScope, "Token carries no company"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidClaims), errors.Is(err, auth.ErrMissingUserID):
		code, msg = dto.ErrCodeTokenInvalid, "Invalid token"
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(code, msg, GetRequestID(c)))
}

// GetJWTClaims retrieves JWT claims from gin.Context
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if claims, exists := c.Get(JWTClaimsKey); exists {
		if jwtClaims, ok := claims.(*auth.Claims); ok {
			return jwtClaims
		}
	}
	return nil
}

// GetJWTUserID retrieves the user ID from JWT claims in context
func GetJWTUserID(c *gin.Context) string {
	return c.GetString(JWTUserIDKey)
}

// GetCompany returns the company the request is scoped to
func GetCompany(c *gin.Context) string {
	return c.GetString(CompanyKey)
}
