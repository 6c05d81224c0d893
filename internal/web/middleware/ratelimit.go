package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/veerhq/veer/internal/ratelimit"
)

// RateLimit returns middleware that rate-limits requests per caller. Signed-in
// callers are keyed by user ID, anonymous ones by remote IP.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(callerKey(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "Too many requests. Please wait a moment and try again.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if user := UserFromContext(r.Context()); user != nil {
		return "user:" + strconv.FormatInt(user.ID, 10)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}
