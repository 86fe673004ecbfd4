package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CoreEventsApplied.WithLabelValues("Supply").Inc()
	m.CoreEventsApplied.WithLabelValues("Supply").Inc()
	assert.Equal(t, 2.0, gathered(t, reg, "lending_core_events_applied_total"))

	// A second set on a fresh registry must not collide.
	require.NotPanics(t, func() { NewMetrics(prometheus.NewRegistry()) })
}

func TestSetChannelMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.SetChannelMetrics("persist", 25, 100)
	assert.Equal(t, 0.25, gathered(t, reg, "lending_channel_utilization"))
}

// gathered returns the first sample of the named family.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		m := mf.GetMetric()[0]
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("verbose"))
	assert.Equal(t, zerolog.ErrorLevel, parseLogLevel("error"))
}

type fakePool struct {
	initialized bool
	seq         int64
}

func (f *fakePool) Initialized() bool   { return f.initialized }
func (f *fakePool) LastSequence() int64 { return f.seq }
func (f *fakePool) Clock() int64        { return 1_700_000_000 }

func readiness(t *testing.T, h *HealthChecker) (int, HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var st HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	return rec.Code, st
}

func TestReadinessHandler(t *testing.T) {
	h := NewHealthChecker()
	pool := &fakePool{seq: 41}

	code, st := readiness(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "starting", st.Phase)

	h.SetPool(pool)
	h.SetPhase(PhaseRecovering)
	h.RecordReplay(12)
	code, st = readiness(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "service is recovering", st.Reason)
	assert.Equal(t, int64(12), st.Replayed)

	h.SetPhase(PhaseServing)
	code, st = readiness(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "pool not initialized", st.Reason)
	assert.Equal(t, int64(41), st.Sequence)

	pool.initialized = true
	code, st = readiness(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", st.Status)
	assert.True(t, h.IsReady())

	h.SetPhase(PhaseDraining)
	code, _ = readiness(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestLivenessHandlerAlwaysOK(t *testing.T) {
	h := NewHealthChecker()
	h.SetPhase(PhaseDraining)

	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var st HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "alive", st.Status)
	assert.Equal(t, "draining", st.Phase)
	assert.NotEmpty(t, st.Uptime)
}
