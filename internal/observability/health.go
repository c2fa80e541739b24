package observability

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// HealthChecker manages liveness and readiness state for the HTTP probes.
// /healthz is liveness; /readyz flips to 200 only once the startup sequencer
// reaches SERVICE_READY.
type HealthChecker struct {
	ready     atomic.Bool
	state     atomic.Value // string: current sequencer state name
	startTime time.Time
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker() *HealthChecker {
	h := &HealthChecker{startTime: time.Now()}
	h.state.Store("NOT_READY")
	return h
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// SetState records the current sequencer state name for the probe payload.
func (h *HealthChecker) SetState(state string) {
	h.state.Store(state)
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 once SERVICE_READY, 503 otherwise. The
// 503 instructs upstream callers to retry later, the same contract the
// engine's readiness gate gives the event bus.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.ready.Load() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
			"state":  h.state.Load(),
		})
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "not_ready",
			"state":  h.state.Load(),
		})
	}
}
