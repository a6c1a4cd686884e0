package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/freight/recognition/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Permissions carried in the token's permissions claim
const (
	PermissionRecognitionRead  = "recognition:read"
	PermissionRecognitionWrite = "recognition:write"
	PermissionPolicyAdmin      = "policy:admin"
	PermissionPeriodClose      = "period:close"
	PermissionJobWrite         = "job:write"
)

// DefaultTokenLifetime is the lifetime of tokens issued by IssueToken
const DefaultTokenLifetime = time.Hour

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingCompany   = errors.New("missing company in claims")
	ErrMissingUserID    = errors.New("missing user_id in claims")
	ErrTokenRevoked     = errors.New("token has been revoked")
)

// Claims are the bearer token claims. Company scopes every request made with
// the token; it is the company whose ledgers the caller may read and post to.
type Claims struct {
	jwt.RegisteredClaims
	Company     string   `json:"company"`
	UserID      string   `json:"user_id"`
	Username    string   `json:"username,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// IssueTokenInput contains input for token issuing
type IssueTokenInput struct {
	Company     string
	UserID      string
	Username    string
	Permissions []string
	Lifetime    time.Duration
}

// TokenService signs and verifies HS256 bearer tokens
type TokenService struct {
	secret []byte
	issuer string
}

// NewTokenService creates a new token service
func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
	}
}

// IssueToken signs a token. Tokens normally come from the identity provider;
// this is used by tooling and tests sharing the same secret.
func (s *TokenService) IssueToken(input IssueTokenInput) (string, time.Time, error) {
	if input.Company == "" {
		return "", time.Time{}, ErrMissingCompany
	}
	if input.UserID == "" {
		return "", time.Time{}, ErrMissingUserID
	}
	lifetime := input.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}

	now := time.Now()
	expiresAt := now.Add(lifetime)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   input.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Company:     input.Company,
		UserID:      input.UserID,
		Username:    input.Username,
		Permissions: input.Permissions,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyToken validates signature, time window, issuer and required claims
func (s *TokenService) VerifyToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, ErrTokenNotYetValid
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.Company == "" {
		return nil, ErrMissingCompany
	}
	if claims.UserID == "" {
		return nil, ErrMissingUserID
	}
	return claims, nil
}

// HasPermission checks if the claims contain a specific permission
func (c *Claims) HasPermission(permission string) bool {
	return slices.Contains(c.Permissions, permission)
}

// HasAnyPermission checks if the claims contain any of the specified permissions
func (c *Claims) HasAnyPermission(permissions ...string) bool {
	for _, required := range permissions {
		if c.HasPermission(required) {
			return true
		}
	}
	return false
}

// GetIssuedAtTime returns the token's issued-at time
func (c *Claims) GetIssuedAtTime() time.Time {
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}

// GetRemainingTTL returns the remaining time until the token expires
func (c *Claims) GetRemainingTTL() time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return max(time.Until(c.ExpiresAt.Time), 0)
}
