package handlers

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// RateLimiter is the minimal interface required to guard sensitive endpoints.
type RateLimiter interface {
	Allow(key string) bool
}

// limitScope is one guarded action. Each scope draws from its own buckets, so
// a burst of uploads never spends a caller's verification budget.
type limitScope struct {
	name    string
	message string
	// target names the account an attempt is aimed at, when there is one.
	target func(r *http.Request) string
}

var (
	verifyScope = limitScope{
		name:    "verify",
		message: "Too many verification attempts",
	}
	uploadScope = limitScope{
		name:    "upload",
		message: "Too many uploads, try again later",
	}
	modPasswordScope = limitScope{
		name:    "mod-password",
		message: "Too many password attempts",
		target:  func(r *http.Request) string { return r.PathValue("id") },
	}
)

// key is "<scope>:<ip>" or "<scope>:<ip>:<target>".
func (s limitScope) key(r *http.Request) string {
	key := s.name + ":" + clientIP(r)
	if s.target != nil {
		if target := strings.TrimSpace(s.target(r)); target != "" {
			key += ":" + target
		}
	}
	return key
}

// admit reports whether r fits within the scope's budget. A rejected request
// has already been answered with 429.
func admit(w http.ResponseWriter, r *http.Request, limiter RateLimiter, scope limitScope) bool {
	if limiter == nil || limiter.Allow(scope.key(r)) {
		return true
	}
	respondMessage(r.Context(), w, http.StatusTooManyRequests, scope.message)
	return false
}

// clientIP prefers the first X-Forwarded-For hop and falls back to
// RemoteAddr. Parsable addresses are returned in canonical form so that
// "::ffff:10.0.0.1" and "10.0.0.1" share a bucket.
func clientIP(r *http.Request) string {
	raw := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(raw); err == nil && host != "" {
		raw = host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			raw = first
		}
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return raw
	}
	return addr.Unmap().WithZone("").String()
}
