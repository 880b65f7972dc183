package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// recentErrorCap bounds the error history the health endpoint reports.
const recentErrorCap = 10

// HealthChecker tracks liveness facts the trading loop reports and serves
// them as JSON. Healthy means the loop is running and has completed a cycle
// within the stale threshold.
type HealthChecker struct {
	mu             sync.RWMutex
	running        bool
	lastCycle      time.Time
	cycleCount     int64
	recentErrors   []string
	staleThreshold time.Duration
}

// NewHealthChecker creates a health checker. staleThreshold should be a few
// multiples of the check interval.
func NewHealthChecker(staleThreshold time.Duration) *HealthChecker {
	return &HealthChecker{staleThreshold: staleThreshold}
}

// SetRunning records whether the trading loop is active.
func (h *HealthChecker) SetRunning(running bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = running
}

// RecordCycle marks a completed trading cycle.
func (h *HealthChecker) RecordCycle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCycle = time.Now()
	h.cycleCount++
}

// RecordError appends to the bounded recent-error list.
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recentErrors = append(h.recentErrors, msg)
	if len(h.recentErrors) > recentErrorCap {
		h.recentErrors = h.recentErrors[len(h.recentErrors)-recentErrorCap:]
	}
}

type healthStatus struct {
	Status       string    `json:"status"`
	Running      bool      `json:"running"`
	LastCycle    time.Time `json:"last_cycle"`
	CycleCount   int64     `json:"cycle_count"`
	RecentErrors []string  `json:"recent_errors,omitempty"`
}

// Handler serves the health status. Returns 200 when healthy, 503 otherwise.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.mu.RLock()
		status := healthStatus{
			Running:      h.running,
			LastCycle:    h.lastCycle,
			CycleCount:   h.cycleCount,
			RecentErrors: append([]string(nil), h.recentErrors...),
		}
		stale := h.lastCycle.IsZero() || time.Since(h.lastCycle) > h.staleThreshold
		h.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		if status.Running && !stale {
			status.Status = "healthy"
			w.WriteHeader(http.StatusOK)
		} else {
			status.Status = "unhealthy"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
