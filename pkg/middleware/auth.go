package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/shinamagazin/shina-audit/pkg/auth"
	"github.com/shinamagazin/shina-audit/pkg/contextkeys"
	"github.com/shinamagazin/shina-audit/pkg/httputil"
	"github.com/shinamagazin/shina-audit/pkg/observability"
)

// AuthMiddleware resolves the bearer token of each request to a principal
type AuthMiddleware struct {
	validator auth.TokenValidator
	logger    *observability.Logger
	optional  bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(validator auth.TokenValidator, optional bool, logger *observability.Logger) *AuthMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
		optional:  optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		// Format: "Bearer <token>"
		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || scheme != "Bearer" || token == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		principal, err := m.validator.ValidateToken(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				m.logger.WithError(err).Error("token validation failed")
			}
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(principal.UserID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFrom extracts the authenticated principal from the request
func PrincipalFrom(r *http.Request) *auth.Principal {
	principal, _ := r.Context().Value(contextkeys.PrincipalKey).(*auth.Principal)
	return principal
}

// RequirePermission creates middleware that checks for a permission code
func RequirePermission(code auth.PermissionCode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFrom(r)
			if principal == nil {
				httputil.WriteForbidden(w, "authentication required")
				return
			}

			if !principal.HasPermission(code) {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
