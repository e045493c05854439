package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Winger29/FSDP-Assignment2/internal/auth"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

func newAuthRouter(authService *auth.AuthService) *gin.Engine {
	router := gin.New()
	router.Use(RequireAuth(authService, "GET /stream/:id"))
	whoami := func(c *gin.Context) {
		userID, _ := GetUserID(c)
		username, _ := GetUsername(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "username": username})
	}
	router.GET("/protected", whoami)
	router.GET("/stream/:id", whoami)
	router.POST("/stream/:id", whoami)
	return router
}

func TestRequireAuth(t *testing.T) {
	authService := auth.NewAuthService(nil, "middleware-test-key-0123456789-abcdef", auth.Options{BcryptCost: 4})
	tokens, err := authService.GenerateTokens(&models.User{ID: 1, Username: "testuser", Email: "test@example.com"})
	require.NoError(t, err)

	expired := auth.NewAuthService(nil, "middleware-test-key-0123456789-abcdef", auth.Options{TokenExpiry: -time.Minute})
	expiredTokens, err := expired.GenerateTokens(&models.User{ID: 1, Username: "testuser"})
	require.NoError(t, err)

	tests := []struct {
		name           string
		method         string
		path           string
		authHeader     string
		expectedStatus int
		expectedCode   string
	}{
		{"valid token", http.MethodGet, "/protected", "Bearer " + tokens.AccessToken, http.StatusOK, ""},
		{"token in query on stream route", http.MethodGet, "/stream/3?token=" + tokens.AccessToken, "", http.StatusOK, ""},
		{"token in query elsewhere", http.MethodGet, "/protected?token=" + tokens.AccessToken, "", http.StatusUnauthorized, "QUERY_TOKEN_NOT_ALLOWED"},
		{"token in query with other method", http.MethodPost, "/stream/3?token=" + tokens.AccessToken, "", http.StatusUnauthorized, "QUERY_TOKEN_NOT_ALLOWED"},
		{"bad query token on stream route", http.MethodGet, "/stream/3?token=garbage", "", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"missing auth header", http.MethodGet, "/protected", "", http.StatusUnauthorized, "AUTH_HEADER_MISSING"},
		{"no bearer prefix", http.MethodGet, "/protected", tokens.AccessToken, http.StatusUnauthorized, "INVALID_AUTH_HEADER"},
		{"empty bearer", http.MethodGet, "/protected", "Bearer ", http.StatusUnauthorized, "INVALID_AUTH_HEADER"},
		{"garbage token", http.MethodGet, "/protected", "Bearer garbage", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"refresh token", http.MethodGet, "/protected", "Bearer " + tokens.RefreshToken, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"expired token", http.MethodGet, "/protected", "Bearer " + expiredTokens.AccessToken, http.StatusUnauthorized, "TOKEN_EXPIRED"},
	}

	router := newAuthRouter(authService)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if tt.expectedCode != "" {
				assert.Equal(t, false, body["success"])
				assert.Equal(t, tt.expectedCode, body["code"])
			} else {
				assert.Equal(t, float64(1), body["user_id"])
				assert.Equal(t, "testuser", body["username"])
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("role", c.GetHeader("X-Role"))
		c.Next()
	})
	router.GET("/admin", RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for role, want := range map[string]int{"admin": http.StatusOK, "user": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("X-Role", role)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, role)
	}
}
