package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/debug"
	"github.com/maia-bench/maia/pkg/observability"
	"github.com/maia-bench/maia/pkg/storage"
)

// DefaultBypassEndpoints lists paths served without authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware authenticates every request outside bypassEndpoints, applies
// the optional rate limiter and stores the identity and tenant in the
// request context.
func Middleware(chain *Chain, limiter RateLimiter, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)
			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				writeError(w, api.NewAuthenticationError("authentication required"), http.StatusUnauthorized)
				return
			}
			id := result.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				writeError(w, api.NewServerError("internal authentication error"), http.StatusInternalServerError)
				return
			}
			debug.Log("auth", "authenticated", "subject", id.Subject, "tier", id.Tier(), "path", r.URL.Path)

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.Tier())
					observability.RateLimitRejectedTotal.WithLabelValues(id.Tier()).Inc()
					w.Header().Set("Retry-After", "60")
					writeError(w, api.NewTooManyRequestsError("rate limit exceeded"), http.StatusTooManyRequests)
					return
				}
			}

			ctx := SetIdentity(r.Context(), id)
			if tenant := id.TenantID(); tenant != "" {
				ctx = storage.SetTenant(ctx, tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeError writes the api.ErrorResponse envelope.
func writeError(w http.ResponseWriter, apiErr *api.APIError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}
