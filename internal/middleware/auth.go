package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"rbw-core/internal/auth"
)

type contextKey string

const (
	StaffContextKey contextKey = "staff"
)

type AuthMiddleware struct {
	jwtService *auth.JWTService
}

func NewAuthMiddleware(jwtService *auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{jwtService: jwtService}
}

// RequireStaff validates the staff bearer token and, when roles are given,
// requires the staff member to hold one of them.
// Returns 401 if the token is missing or invalid and 403 on a role mismatch.
func (m *AuthMiddleware) RequireStaff(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := auth.BearerToken(r)
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			claims, err := m.jwtService.ValidateStaffToken(tokenString)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					writeError(w, http.StatusUnauthorized, "Token has expired")
					return
				}
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			if len(roles) > 0 && !hasAnyRole(claims, roles) {
				zerolog.Ctx(r.Context()).Warn().Str("staff_id", claims.StaffID).Strs("required", roles).Msg("staff role denied")
				writeError(w, http.StatusForbidden, "Insufficient role")
				return
			}

			ctx := context.WithValue(r.Context(), StaffContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasAnyRole(c *auth.StaffClaims, roles []string) bool {
	for _, role := range roles {
		if c.HasRole(role) {
			return true
		}
	}
	return false
}

// GetStaffFromContext retrieves the authenticated staff claims from the request context
func GetStaffFromContext(ctx context.Context) (*auth.StaffClaims, bool) {
	claims, ok := ctx.Value(StaffContextKey).(*auth.StaffClaims)
	return claims, ok
}
