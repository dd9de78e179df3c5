package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/bloomworks/bloom/internal/auth"
	"github.com/bloomworks/bloom/internal/ratelimit"
)

// RateLimitByIP returns an HTTP middleware that limits requests per client
// IP to the specified number per minute. Uses a sliding window algorithm.
// This is the coarse outer limit; token-scoped limits are enforced by
// TokenRateLimit.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// TokenRateLimit returns an HTTP middleware that enforces each API token's
// own per-minute limit using the given counter backend. Tokens with a zero
// limit and session principals pass through unlimited. Must be used after
// Authenticate.
//
// If the counter backend fails (e.g. Redis is down) the request is allowed:
// rate limiting degrades open rather than taking the API down with it.
func TokenRateLimit(counter ratelimit.Counter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || principal.Kind != auth.KindAPIToken || principal.Token.RateLimit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := fmt.Sprintf("token:%d", principal.Token.ID)
			ok, err := counter.Allow(r.Context(), key, principal.Token.RateLimit, time.Minute)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				w.Header().Set("Retry-After", "60")
				writeAuthError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
