package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/vai-coach/pkg/gateway/config"
)

const (
	corsAllowedMethods = "GET, POST, OPTIONS"
	corsAllowedHeaders = "Authorization, Content-Type, X-Request-ID"
	corsExposedHeaders = "X-Request-ID, X-Coach-Session-ID"
	corsMaxAgeSeconds  = "600"
)

// OriginAllowed reports whether a browser page served from origin may use
// the bridge. Requests without an Origin header are not cross-origin and are
// always allowed; with no allowlist every cross-origin page is refused.
func OriginAllowed(cfg config.Config, origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return true
	}
	_, ok := cfg.CORSAllowedOrigins[origin]
	return ok
}

// CORS answers preflights itself and decorates responses for allowlisted
// origins. Requests from other origins pass through undecorated so the
// browser blocks them.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		allowed := origin != "" && OriginAllowed(cfg, origin)

		if isPreflight(r) {
			if !allowed {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAgeSeconds)
			h.Add("Vary", "Origin")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if allowed {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
			h.Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""
}
