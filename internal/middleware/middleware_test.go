package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbw-core/internal/auth"
	"rbw-core/internal/clock"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func TestRateLimiter(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(clk)
	cfg := RateLimitConfig{MaxRequests: 2, Window: time.Minute}
	h := rl.RateLimitMiddleware(cfg, IPKeyFunc("test"))(http.HandlerFunc(okHandler))

	do := func(ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("GET", "/api/queues", nil)
		r.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusNoContent, do("1.2.3.4").Code)
	w := do("1.2.3.4")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = do("1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusNoContent, do("5.6.7.8").Code)

	clk.Advance(61 * time.Second)
	rl.cleanupExpired()
	assert.Empty(t, rl.requests)
	assert.Equal(t, http.StatusNoContent, do("1.2.3.4").Code)
}

func TestRequireStaff(t *testing.T) {
	jwtSvc := auth.NewJWTService("staff-secret", "")
	m := NewAuthMiddleware(jwtSvc)
	var seen *auth.StaffClaims
	h := m.RequireStaff(auth.RoleScorer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetStaffFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(token string) int {
		r := httptest.NewRequest("POST", "/api/staff/matches/ABC123/score", nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do(""))
	assert.Equal(t, http.StatusUnauthorized, do("garbage"))

	mod, err := jwtSvc.GenerateStaffToken("mod-1", []string{auth.RoleModerator})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do(mod))

	scorer, err := jwtSvc.GenerateStaffToken("sc-1", []string{auth.RoleScorer})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, do(scorer))
	require.NotNil(t, seen)
	assert.Equal(t, "sc-1", seen.StaffID)
}

func TestRequestID(t *testing.T) {
	var id string
	h := RequestID(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, w.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusTeapot, w.Code)

	r = httptest.NewRequest("GET", "/health", nil)
	r.Header.Set("X-Request-ID", "given")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "given", id)
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(okHandler)).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
