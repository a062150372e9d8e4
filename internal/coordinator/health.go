package coordinator

import (
	"sync"
	"time"
)

// ProviderHealth is a snapshot of one adapter's observed behaviour.
type ProviderHealth struct {
	ProviderID     string        `json:"provider_id"`
	Requests       int64         `json:"requests"`
	Failures       int64         `json:"failures"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency"`
	LastError      string        `json:"last_error,omitempty"`
	LastSeen       time.Time     `json:"last_seen"`
}

// HealthTracker records per-provider latency and outcome counts. Each
// Coordinator owns exactly one tracker; concurrent runs sharing a Coordinator
// share its diagnostics, but independent Coordinators never cross-contaminate.
type HealthTracker struct {
	mu    sync.RWMutex
	stats map[string]*providerStats
}

type providerStats struct {
	requests     int64
	failures     int64
	totalLatency time.Duration
	lastError    string
	lastSeen     time.Time
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{stats: make(map[string]*providerStats)}
}

// Record notes the outcome of one adapter invocation.
func (h *HealthTracker) Record(providerID string, latency time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.stats[providerID]
	if !ok {
		st = &providerStats{}
		h.stats[providerID] = st
	}
	st.requests++
	st.totalLatency += latency
	st.lastSeen = time.Now()
	if err != nil {
		st.failures++
		st.lastError = err.Error()
	}
}

// Snapshot returns a copy of all per-provider health records.
func (h *HealthTracker) Snapshot() []ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ProviderHealth, 0, len(h.stats))
	for id, st := range h.stats {
		ph := ProviderHealth{
			ProviderID: id,
			Requests:   st.requests,
			Failures:   st.failures,
			LastError:  st.lastError,
			LastSeen:   st.lastSeen,
		}
		if st.requests > 0 {
			ph.SuccessRate = float64(st.requests-st.failures) / float64(st.requests)
			ph.AverageLatency = st.totalLatency / time.Duration(st.requests)
		}
		out = append(out, ph)
	}
	return out
}
