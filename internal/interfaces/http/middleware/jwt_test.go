package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/freight/recognition/internal/infrastructure/auth"
	"github.com/freight/recognition/internal/infrastructure/config"
	"github.com/freight/recognition/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-at-least-32-chars"

func newTestTokenService() *auth.TokenService {
	return auth.NewTokenService(config.JWTConfig{Secret: testSecret, Issuer: "recognition-test"})
}

func issueTestToken(t *testing.T, ts *auth.TokenService, permissions ...string) string {
	t.Helper()
	token, _, err := ts.IssueToken(auth.IssueTokenInput{
		Company:     "ACME",
		UserID:      "user-1",
		Permissions: permissions,
	})
	require.NoError(t, err)
	return token
}

type scopeSeen struct {
	Company string `json:"company"`
	UserID  string `json:"user_id"`
}

func jwtEngine(cfg JWTMiddlewareConfig) *gin.Engine {
	engine := gin.New()
	engine.Use(RequestID(), JWTAuth(cfg))
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, scopeSeen{Company: GetCompany(c), UserID: GetJWTUserID(c)})
	}
	engine.GET("/api/v1/policies", handler)
	engine.GET("/health", handler)
	engine.GET("/swagger/*any", handler)
	return engine
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestJWTAuth_ValidToken(t *testing.T) {
	ts := newTestTokenService()
	engine := jwtEngine(JWTMiddlewareConfig{TokenService: ts, Required: true})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+issueTestToken(t, ts))
	w := serve(engine, req)

	require.Equal(t, http.StatusOK, w.Code)
	var seen scopeSeen
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &seen))
	assert.Equal(t, scopeSeen{Company: "ACME", UserID: "user-1"}, seen)
}

func TestJWTAuth_TokenCompanyWinsOverHeader(t *testing.T) {
	ts := newTestTokenService()
	engine := jwtEngine(JWTMiddlewareConfig{TokenService: ts})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+issueTestToken(t, ts))
	req.Header.Set(CompanyHeader, "GLOBEX")
	w := serve(engine, req)

	assert.Contains(t, w.Body.String(), `"company":"ACME"`)
}

func TestJWTAuth_Rejections(t *testing.T) {
	ts := newTestTokenService()

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "recognition-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Company: "ACME",
		UserID:  "user-1",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noCompany, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "recognition-test"},
		UserID:           "user-1",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	otherSecret, _, err := auth.NewTokenService(config.JWTConfig{Secret: "another-secret-key-of-32-characters", Issuer: "recognition-test"}).
		IssueToken(auth.IssueTokenInput{Company: "ACME", UserID: "user-1"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode string
	}{
		{"missing header", "", dto.ErrCodeUnauthorized},
		{"not bearer", "Basic abc", dto.ErrCodeTokenInvalid},
		{"empty bearer", BearerPrefix, dto.ErrCodeTokenInvalid},
		{"garbage", BearerPrefix + "not.a.token", dto.ErrCodeTokenInvalid},
		{"wrong secret", BearerPrefix + otherSecret, dto.ErrCodeTokenInvalid},
		{"expired", BearerPrefix + expired, dto.ErrCodeTokenExpired},
		{"no company", BearerPrefix + noCompany, dto.ErrCodeMissingScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := jwtEngine(JWTMiddlewareConfig{TokenService: ts, Required: true})
			req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			w := serve(engine, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w))
		})
	}
}

func TestJWTAuth_OptionalTokenUsesCompanyHeader(t *testing.T) {
	engine := jwtEngine(JWTMiddlewareConfig{TokenService: newTestTokenService()})

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
		req.Header.Set(CompanyHeader, " GLOBEX ")
		w := serve(engine, req)
		assert.Contains(t, w.Body.String(), `"company":"GLOBEX"`)
	})

	t.Run("query", func(t *testing.T) {
		w := serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/policies?company=INITECH", nil))
		assert.Contains(t, w.Body.String(), `"company":"INITECH"`)
	})

	t.Run("none", func(t *testing.T) {
		w := serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"company":""`)
	})
}

func TestJWTAuth_SkipPaths(t *testing.T) {
	engine := jwtEngine(JWTMiddlewareConfig{
		TokenService:     newTestTokenService(),
		Required:         true,
		SkipPaths:        []string{"/health"},
		SkipPathPrefixes: []string{"/swagger/"},
	})

	assert.Equal(t, http.StatusOK, serve(engine, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(engine, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)).Code)
}

func TestJWTAuth_Blacklist(t *testing.T) {
	ts := newTestTokenService()
	token := issueTestToken(t, ts)
	claims, err := ts.VerifyToken(token)
	require.NoError(t, err)

	t.Run("revoked jti", func(t *testing.T) {
		blacklist := auth.NewInMemoryTokenBlacklist()
		require.NoError(t, blacklist.AddToBlacklist(t.Context(), claims.ID, time.Hour))

		engine := jwtEngine(JWTMiddlewareConfig{TokenService: ts, TokenBlacklist: blacklist, Required: true})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
		req.Header.Set(AuthHeaderKey, BearerPrefix+token)
		w := serve(engine, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, dto.ErrCodeTokenRevoked, decodeError(t, w))
	})

	t.Run("user tokens invalidated", func(t *testing.T) {
		blacklist := auth.NewInMemoryTokenBlacklist()
		require.NoError(t, blacklist.AddUserTokensToBlacklist(t.Context(), "user-1", time.Hour))

		engine := jwtEngine(JWTMiddlewareConfig{TokenService: ts, TokenBlacklist: blacklist, Required: true})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
		req.Header.Set(AuthHeaderKey, BearerPrefix+token)

		assert.Equal(t, http.StatusUnauthorized, serve(engine, req).Code)
	})

	t.Run("clean token", func(t *testing.T) {
		engine := jwtEngine(JWTMiddlewareConfig{TokenService: ts, TokenBlacklist: auth.NewInMemoryTokenBlacklist(), Required: true})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
		req.Header.Set(AuthHeaderKey, BearerPrefix+token)

		assert.Equal(t, http.StatusOK, serve(engine, req).Code)
	})
}

func TestGetters_WithoutAuth(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Nil(t, GetJWTClaims(c))
	assert.Empty(t, GetJWTUserID(c))
	assert.Empty(t, GetCompany(c))
}
