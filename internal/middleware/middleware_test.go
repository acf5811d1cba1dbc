package middleware

import (
	"autopublisher/internal/config"
	"autopublisher/internal/models"
	"autopublisher/internal/service"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoUser(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(userID))
}

func TestAuthMiddleware(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecretKey: "test-secret"})
	token, err := auth.IssueToken(&models.User{UserID: "u1", Email: "writer@example.com", Role: "Author"}, time.Hour)
	require.NoError(t, err)
	expired, err := auth.IssueToken(&models.User{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name           string
		path           string
		header         string
		expectedStatus int
		expectedBody   string
	}{
		{"public health check", "/health", "", http.StatusOK, ""},
		{"valid token", "/api/me", "Bearer " + token, http.StatusOK, "u1"},
		{"missing header", "/api/me", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/api/me", "Basic " + token, http.StatusUnauthorized, ""},
		{"expired token", "/api/me", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"garbage token", "/api/me", "Bearer not.a.token", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := AuthMiddleware(auth)(http.HandlerFunc(echoUser))
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedBody != "" {
				assert.Equal(t, tt.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestRoleMiddleware(t *testing.T) {
	h := RoleMiddleware("Admin")(http.HandlerFunc(echoUser))

	tests := []struct {
		name           string
		role           string
		expectedStatus int
	}{
		{"allowed", "Admin", http.StatusOK},
		{"forbidden", "Author", http.StatusForbidden},
		{"no role", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin", nil)
			if tt.role != "" {
				req = req.WithContext(context.WithValue(req.Context(), "role", tt.role))
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	called := false
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/keywords", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)
}

func TestChain_LoggingSeesAuthenticatedUser(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecretKey: "test-secret"})
	token, err := auth.IssueToken(&models.User{UserID: "u1", Role: "Author"}, time.Hour)
	require.NoError(t, err)

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}),
		LoggingMiddleware(zap.NewNop()),
		CORSMiddleware,
		AuthMiddleware(auth),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
