package middleware

import (
	"net/http"
	"sync/atomic"
)

// RequestMetrics feeds the /metrics endpoint: one counter for all
// requests and one for responses that left with a 4xx or 5xx status.
type RequestMetrics struct {
	total  *atomic.Int64
	failed *atomic.Int64
}

func NewRequestMetrics(total, failed *atomic.Int64) *RequestMetrics {
	return &RequestMetrics{total: total, failed: failed}
}

func (m *RequestMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.total.Add(1)

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		if rw.statusCode >= http.StatusBadRequest {
			m.failed.Add(1)
		}
	})
}
