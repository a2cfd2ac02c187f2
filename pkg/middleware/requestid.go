package middleware

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/logger"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// RequestID reuses an incoming X-Request-ID or mints one, echoes it on the
// response and stores it on the request context for logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := logger.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the id RequestID attached to r.
func GetRequestID(r *http.Request) string {
	return logger.RequestID(r.Context())
}
