// Package health provides liveness/readiness HTTP handlers for process
// supervisors and load balancers.
package health

import (
	"net/http"
	"sync/atomic"
)

// Healthz always reports 200 once the process is up: it answers "is this
// process alive", not "is it accepting traffic".
func Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

// Ready gates Readyz: flip it once the server has finished Start.
type Ready struct {
	ready atomic.Bool
}

// Set marks the process ready (or not) for traffic.
func (r *Ready) Set(v bool) { r.ready.Store(v) }

// Readyz reports 200 once Set(true) has been called, 503 otherwise.
func (r *Ready) Readyz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !r.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ok":false}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}
