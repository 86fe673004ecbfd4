package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Phase is the service lifecycle stage reported by the health endpoints.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseRecovering
	PhaseServing
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRecovering:
		return "recovering"
	case PhaseServing:
		return "serving"
	case PhaseDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// PoolProbe is the view of the core the readiness check needs.
type PoolProbe interface {
	Initialized() bool
	LastSequence() int64
	Clock() int64
}

// HealthStatus is the body of /healthz and /readyz.
type HealthStatus struct {
	Status      string `json:"status"`
	Phase       string `json:"phase"`
	Initialized bool   `json:"initialized"`
	Sequence    int64  `json:"sequence"`
	PoolClock   int64  `json:"pool_clock,omitempty"`
	Replayed    int64  `json:"replayed_events"`
	Reason      string `json:"reason,omitempty"`
	Uptime      string `json:"uptime,omitempty"`
}

// HealthChecker tracks the lifecycle phase and the pool behind it. The
// service is ready only while serving with an initialized pool.
type HealthChecker struct {
	phase     atomic.Int32
	replayed  atomic.Int64
	pool      atomic.Pointer[PoolProbe]
	startTime time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
	}
}

func (h *HealthChecker) SetPhase(p Phase) {
	h.phase.Store(int32(p))
}

func (h *HealthChecker) Phase() Phase {
	return Phase(h.phase.Load())
}

// SetPool registers the core whose state gates readiness.
func (h *HealthChecker) SetPool(p PoolProbe) {
	h.pool.Store(&p)
}

// RecordReplay notes how many logged events recovery re-applied.
func (h *HealthChecker) RecordReplay(events int64) {
	h.replayed.Store(events)
}

// Status evaluates readiness.
func (h *HealthChecker) Status() HealthStatus {
	st := HealthStatus{
		Status:   "not_ready",
		Phase:    h.Phase().String(),
		Replayed: h.replayed.Load(),
	}

	var probe PoolProbe
	if p := h.pool.Load(); p != nil {
		probe = *p
		st.Initialized = probe.Initialized()
		st.Sequence = probe.LastSequence()
		st.PoolClock = probe.Clock()
	}

	switch {
	case h.Phase() != PhaseServing:
		st.Reason = "service is " + st.Phase
	case probe == nil:
		st.Reason = "no core registered"
	case !st.Initialized:
		st.Reason = "pool not initialized"
	default:
		st.Status = "ready"
	}
	return st
}

func (h *HealthChecker) IsReady() bool {
	return h.Status().Status == "ready"
}

// LivenessHandler returns HTTP 200 while the process is up, in any phase.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	st := h.Status()
	st.Status = "alive"
	st.Reason = ""
	st.Uptime = time.Since(h.startTime).String()
	writeHealth(w, http.StatusOK, st)
}

// ReadinessHandler returns 200 once recovery is done and the pool is
// initialized, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	st := h.Status()
	code := http.StatusOK
	if st.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, st)
}

func writeHealth(w http.ResponseWriter, code int, st HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(st)
}
