package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func authRouter(requiredRole string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/", Auth(testSecret))
	if requiredRole != "" {
		group.Use(RequireRole(requiredRole))
	}
	group.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.GetString("user_id"),
			"role":    c.GetString("role"),
		})
	})
	return r
}

func doAuth(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_ValidToken(t *testing.T) {
	r := authRouter("")
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":  "p1",
		"role": RoleParticipant,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	w := doAuth(r, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"p1"`)
	assert.Contains(t, w.Body.String(), `"role":"participant"`)
}

func TestAuth_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.jwt"},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", jwt.MapClaims{
			"sub": "p1", "role": RoleParticipant,
		})},
		{"expired", "Bearer " + signToken(t, testSecret, jwt.MapClaims{
			"sub": "p1", "role": RoleParticipant, "exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{"missing claims", "Bearer " + signToken(t, testSecret, jwt.MapClaims{
			"sub": "p1",
		})},
	}

	r := authRouter("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuth(r, tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	r := authRouter(RoleOrganizer)

	organizer := signToken(t, testSecret, jwt.MapClaims{"sub": "org1", "role": RoleOrganizer})
	assert.Equal(t, http.StatusOK, doAuth(r, "Bearer "+organizer).Code)

	participant := signToken(t, testSecret, jwt.MapClaims{"sub": "p1", "role": RoleParticipant})
	assert.Equal(t, http.StatusForbidden, doAuth(r, "Bearer "+participant).Code)
}
