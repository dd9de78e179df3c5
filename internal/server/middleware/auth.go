package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/bloomworks/bloom/internal/auth"
	"github.com/bloomworks/bloom/internal/model"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Authenticate returns an HTTP middleware that validates the bearer
// credential on the Authorization header. Both credential kinds travel on
// the same header: API tokens (tk_ prefixed) and admin session JWTs; the
// auth service dispatches on the token shape.
//
// All rejections except an IP allowlist miss produce the same generic 401
// body, so a caller probing the endpoint cannot distinguish unknown,
// expired, and revoked tokens. An allowlist miss is 403.
func Authenticate(authSvc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := bearerToken(r)
			if credential == "" {
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			principal, err := authSvc.Authenticate(r.Context(), credential, SourceIP(r))
			if err != nil {
				if errors.Is(err, auth.ErrIPNotAllowed) {
					writeAuthError(w, http.StatusForbidden, "access from this address is not allowed")
					return
				}
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns an HTTP middleware that allows only session principals
// whose role is in the given set. Membership is literal: there is no role
// hierarchy. Must be used after Authenticate.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || principal.Kind != auth.KindSession {
				writeAuthError(w, http.StatusForbidden, "admin session required")
				return
			}
			for _, role := range roles {
				if principal.User.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeAuthError(w, http.StatusForbidden, "insufficient role")
		})
	}
}

// RequireAccess gates a route for both principal kinds: session principals
// need one of the listed roles, token principals need the given permission.
// Must be used after Authenticate.
func RequireAccess(perm model.Permission, roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if principal.Kind == auth.KindAPIToken {
				if !principal.HasPermission(perm) {
					writeAuthError(w, http.StatusForbidden, "permission denied")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if principal.User.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeAuthError(w, http.StatusForbidden, "insufficient role")
		})
	}
}

// RequirePermission returns an HTTP middleware that enforces a token
// permission. Session principals pass unconditionally; their access is
// governed by RequireRole instead. Must be used after Authenticate.
func RequirePermission(perm model.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if !principal.HasPermission(perm) {
				writeAuthError(w, http.StatusForbidden, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil for unauthenticated requests.
func GetPrincipal(ctx context.Context) *auth.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*auth.Principal); ok {
		return p
	}
	return nil
}

// SourceIP returns the caller address without the port. RemoteAddr is
// rewritten by chi's RealIP middleware when the usual proxy headers are
// present, in which case it may already lack a port.
func SourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid an import cycle with the handler
	// package.
	w.Write([]byte(`{"error":{"code":` + httpStatusString(status) + `,"message":"` + message + `"}}`))
}

func httpStatusString(code int) string {
	switch code {
	case 401:
		return "401"
	case 403:
		return "403"
	case 429:
		return "429"
	default:
		return "500"
	}
}
