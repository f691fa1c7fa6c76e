package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/harliandi/go-shrink/pkg/metrics"
)

// ConcurrencyLimiter caps the number of requests in flight.
type ConcurrencyLimiter struct {
	slots  chan struct{}
	active atomic.Int32
}

// NewConcurrencyLimiter allows up to max concurrent requests.
func NewConcurrencyLimiter(max int) *ConcurrencyLimiter {
	if max < 1 {
		max = 1
	}
	return &ConcurrencyLimiter{slots: make(chan struct{}, max)}
}

// Acquire takes a slot without waiting. Returns false if none is free.
func (cl *ConcurrencyLimiter) Acquire() bool {
	select {
	case cl.slots <- struct{}{}:
		metrics.UpdateConcurrency(int(cl.active.Add(1)))
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire.
func (cl *ConcurrencyLimiter) Release() {
	metrics.UpdateConcurrency(int(cl.active.Add(-1)))
	<-cl.slots
}

// Active returns the number of requests holding a slot.
func (cl *ConcurrencyLimiter) Active() int {
	return int(cl.active.Load())
}

// Middleware rejects requests with 503 while all slots are taken.
func (cl *ConcurrencyLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cl.Acquire() {
			metrics.RecordConcurrencyLimitExceeded()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"Service busy, please try again"}`))
			return
		}
		defer cl.Release()
		next.ServeHTTP(w, r)
	})
}
