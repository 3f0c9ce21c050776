package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhr/assesscore/internal/apperr"
	"github.com/meridianhr/assesscore/internal/auth"
	"github.com/meridianhr/assesscore/internal/ctxutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func TestRequestIDMiddleware_GeneratesWhenMissing(t *testing.T) {
	var captured string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	})
	h := requestIDMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_HonorsValidClientID(t *testing.T) {
	var captured string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	})
	h := requestIDMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied-id-123", captured)
}

func TestRequestIDMiddleware_RejectsInvalidClientID(t *testing.T) {
	var captured string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	})
	h := requestIDMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("a", 200))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.NotEqual(t, strings.Repeat("a", 200), captured)
	assert.NotEmpty(t, captured)
}

func TestIsValidRequestID(t *testing.T) {
	assert.True(t, isValidRequestID("abc-123"))
	assert.False(t, isValidRequestID(""))
	assert.False(t, isValidRequestID(strings.Repeat("x", 129)))
	assert.False(t, isValidRequestID("bad\nid"))
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := loggingMiddleware(testLogger(), next)

	req := httptest.NewRequest(http.MethodGet, "/whatever", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestAuthMiddleware_NoHeaderLeavesAnonymous(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	var claims *auth.Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims = ClaimsFromContext(r.Context())
	})
	h := authMiddleware(jwtMgr)(next)

	req := httptest.NewRequest(http.MethodGet, "/tests/sessions/x/current", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Nil(t, claims)
}

func TestAuthMiddleware_ValidTokenPopulatesClaims(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := jwtMgr.IssueToken("user_abc123")
	require.NoError(t, err)

	var claims *auth.Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims = ClaimsFromContext(r.Context())
	})
	h := authMiddleware(jwtMgr)(next)

	req := httptest.NewRequest(http.MethodGet, "/tests/sessions/x/current", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotNil(t, claims)
	assert.Equal(t, "user_abc123", claims.ClerkUserID)
}

func TestAuthMiddleware_InvalidTokenLeftAnonymous(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	var claims *auth.Claims
	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims = ClaimsFromContext(r.Context())
	})
	h := authMiddleware(jwtMgr)(next)

	req := httptest.NewRequest(http.MethodGet, "/tests/sessions/x/current", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called, "anon callers still reach the handler")
	assert.Nil(t, claims)
}

func TestRequireAdmin_MissingKeyRejected(t *testing.T) {
	hash, err := auth.HashAPIKey("s3cret")
	require.NoError(t, err)

	called := false
	h := requireAdmin(hash)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/templates", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin_ValidKeyAccepted(t *testing.T) {
	hash, err := auth.HashAPIKey("s3cret")
	require.NoError(t, err)

	called := false
	h := requireAdmin(hash)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/templates", nil)
	req.Header.Set("Authorization", "ApiKey s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
}

func TestRequireAdmin_WrongKeyRejected(t *testing.T) {
	hash, err := auth.HashAPIKey("s3cret")
	require.NoError(t, err)

	h := requireAdmin(hash)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest(http.MethodPost, "/templates", nil)
	req.Header.Set("Authorization", "ApiKey wrong-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin_DisabledWhenNoHashConfigured(t *testing.T) {
	h := requireAdmin("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest(http.MethodPost, "/templates", nil)
	req.Header.Set("Authorization", "ApiKey anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecoveryMiddleware_CatchesPanic(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := recoveryMiddleware(testLogger(), next)

	req := httptest.NewRequest(http.MethodGet, "/whatever", nil)
	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(rec, req)
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSMiddleware_ReflectsAllowedOrigin(t *testing.T) {
	h := corsMiddleware([]string{"https://app.example.com"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_IgnoresUnlistedOrigin(t *testing.T) {
	h := corsMiddleware([]string{"https://app.example.com"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_HandlesPreflight(t *testing.T) {
	h := corsMiddleware([]string{"*"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("OPTIONS should be short-circuited before reaching the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "https://anything.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestWriteAppError_MapsApperrStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/tests/sessions/x", nil)
	rec := httptest.NewRecorder()

	writeAppError(rec, req, apperr.NotFound("session %s not found", "x"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCtxutilClaimsFromContext_NilForAnonymous(t *testing.T) {
	ctx := ctxutil.WithClaims(context.Background(), nil)
	assert.Nil(t, ctxutil.ClaimsFromContext(ctx))
	assert.Equal(t, "", ctxutil.ClerkUserIDFromContext(ctx))
}
