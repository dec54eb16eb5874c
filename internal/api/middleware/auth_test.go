package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-operator-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func protectedHandler(t *testing.T) (http.Handler, *string) {
	t.Helper()
	var seenSubject string
	auth := NewAuthMiddleware(testSecret)
	handler := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ := GetSubject(r)
		seenSubject = subject
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &seenSubject
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	t.Parallel()

	t.Run("accepts a valid token and exposes the subject", func(t *testing.T) {
		t.Parallel()
		handler, seenSubject := protectedHandler(t)

		token := signToken(t, testSecret, jwt.RegisteredClaims{
			Subject:   "ops@conveyor",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ops@conveyor", *seenSubject)
	})

	t.Run("rejects a missing header", func(t *testing.T) {
		t.Parallel()
		handler, _ := protectedHandler(t)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects a malformed header", func(t *testing.T) {
		t.Parallel()
		handler, _ := protectedHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		t.Parallel()
		handler, _ := protectedHandler(t)

		token := signToken(t, testSecret, jwt.RegisteredClaims{
			Subject:   "ops@conveyor",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})
		req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Token expired")
	})

	t.Run("rejects a token signed with a different secret", func(t *testing.T) {
		t.Parallel()
		handler, _ := protectedHandler(t)

		token := signToken(t, "some-other-secret", jwt.RegisteredClaims{
			Subject:   "ops@conveyor",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
