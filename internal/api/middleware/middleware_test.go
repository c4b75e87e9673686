package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("expected a generated request id in the context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Fatalf("expected response header %q to echo the id %q", got, seen)
	}
}

func TestRequestID_KeepsCallerValue(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "trace-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "trace-42" {
		t.Fatalf("expected caller id kept, got %q", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "trace-42" {
		t.Fatalf("expected caller id echoed, got %q", got)
	}
}

func TestRequestMetrics_CountsFailures(t *testing.T) {
	var total, failed atomic.Int64
	m := NewRequestMetrics(&total, &failed)

	status := http.StatusOK
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	status = http.StatusNotFound
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if total.Load() != 2 {
		t.Fatalf("expected 2 requests counted, got %d", total.Load())
	}
	if failed.Load() != 1 {
		t.Fatalf("expected 1 failure counted, got %d", failed.Load())
	}
}
