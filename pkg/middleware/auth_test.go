package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"emergency-dispatch-system/pkg/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims UserClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(config.JWTSecret())
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	validClaims := UserClaims{
		UserID: "65f1a2b3c4d5e6f7a8b9c0d1",
		Email:  "reporter@example.com",
		Role:   "user",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	var gotClaims *UserClaims
	handler := AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid token passes claims through", func(t *testing.T) {
		gotClaims = nil
		req := httptest.NewRequest(http.MethodGet, "/api/emergencies", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims))
		rec := httptest.NewRecorder()

		handler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotClaims)
		assert.Equal(t, "65f1a2b3c4d5e6f7a8b9c0d1", gotClaims.UserID)
		assert.Equal(t, "user", gotClaims.Role)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/emergencies", nil)
		rec := httptest.NewRecorder()

		handler(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("header without bearer prefix", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/emergencies", nil)
		req.Header.Set("Authorization", signToken(t, validClaims))
		rec := httptest.NewRecorder()

		handler(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims)
		signed, err := token.SignedString([]byte("not-the-secret"))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/emergencies", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()

		handler(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		expired := validClaims
		expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

		req := httptest.NewRequest(http.MethodGet, "/api/emergencies", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, expired))
		rec := httptest.NewRecorder()

		handler(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
