package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/brain/internal/model"
)

// RequestIDFunc reads the request ID for the error envelope. Injected to
// keep this package free of a server import.
type RequestIDFunc func(r *http.Request) string

// Middleware rejects requests over the limit with 429 and Retry-After.
// Buckets are keyed by scope and client IP, so each scope is limited
// separately. Limiter errors let the request through.
func Middleware(limiter Limiter, scope string, requestID RequestIDFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.Allow(r.Context(), scope+":"+ClientIP(r))
			if err != nil {
				logger.Warn("rate limiter failed, allowing request", "scope", scope, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				var id string
				if requestID != nil {
					id = requestID(r)
				}
				writeRateLimited(w, id)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeRateLimited,
			Message: "too many requests",
		},
		Meta: model.ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	})
}

// ClientIP returns the host part of RemoteAddr. X-Forwarded-For is ignored
// because any client can set it.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
