// Package middleware holds the HTTP middleware of the attendance API.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// TokenHeader carries the shared API token.
const TokenHeader = "X-Token"

// ConfigSource hands out the current configuration snapshot.
type ConfigSource interface {
	Current() *config.Config
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": status, "msg": msg})
}

// RequireToken checks the X-Token header and the client IP against the
// current auth settings. Settings are read per request so whitelist updates
// apply immediately.
//
// A server without a configured token rejects every request with 500.
// Loopback clients are always allowed. An empty whitelist lets any client
// through with a logged warning.
func RequireToken(cfg ConfigSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := cfg.Current().Auth

			if auth.Token == "" {
				writeError(w, http.StatusInternalServerError, "server token not configured")
				return
			}
			if r.Header.Get(TokenHeader) != auth.Token {
				writeError(w, http.StatusUnauthorized, "invalid X-Token")
				return
			}

			ip := ClientIP(r)
			switch {
			case IsLoopback(ip):
			case len(auth.IPWhitelist) == 0:
				slog.Warn("ip whitelist is empty, allowing remote client", "ip", ip, "path", r.URL.Path)
			case !slices.Contains(auth.IPWhitelist, ip):
				writeError(w, http.StatusForbidden, "IP "+ip+" forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of r.RemoteAddr, which chi's RealIP
// middleware has already replaced with the forwarded address when present.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// IsLoopback reports whether ip is the local machine.
func IsLoopback(ip string) bool {
	if ip == "localhost" {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
