package provider

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CircuitState mirrors the breaker state for a provider so health snapshots
// can report it without reaching into the breaker package.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	}
	return "unknown"
}

// Health tracks per-provider call outcomes. Updated concurrently by many task
// executions, so all counters are atomic; there is no lock on the hot path.
type Health struct {
	name string

	consecutiveFailures atomic.Int64
	totalCalls          atomic.Int64
	totalFailures       atomic.Int64
	circuit             atomic.Int32
	lastTransition      atomic.Int64 // unix nanos
	latencyEMAMicros    atomic.Int64 // exponential moving average
}

// HealthSnapshot is an exported, immutable view of a Health record.
type HealthSnapshot struct {
	Provider            string       `json:"provider"`
	ConsecutiveFailures int64        `json:"consecutiveFailures"`
	TotalCalls          int64        `json:"totalCalls"`
	TotalFailures       int64        `json:"totalFailures"`
	Circuit             CircuitState `json:"circuit"`
	LastTransition      time.Time    `json:"lastTransition"`
	AvgLatency          time.Duration `json:"avgLatency"`
}

// FailureRate is the lifetime failure ratio of the snapshot window.
func (s HealthSnapshot) FailureRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalCalls)
}

// RecordSuccess records a successful call and folds its latency into the EMA.
func (h *Health) RecordSuccess(latency time.Duration) {
	h.totalCalls.Add(1)
	h.consecutiveFailures.Store(0)

	// EMA with alpha=0.1, matching how latency trends are tracked elsewhere.
	for {
		old := h.latencyEMAMicros.Load()
		next := old + (latency.Microseconds()-old)/10
		if old == 0 {
			next = latency.Microseconds()
		}
		if h.latencyEMAMicros.CompareAndSwap(old, next) {
			return
		}
	}
}

// RecordFailure records a failed call.
func (h *Health) RecordFailure() {
	h.totalCalls.Add(1)
	h.totalFailures.Add(1)
	h.consecutiveFailures.Add(1)
}

// SetCircuit records a breaker transition. Closing the circuit resets the
// failure counters so a recovered provider competes on fresh numbers.
func (h *Health) SetCircuit(state CircuitState) {
	prev := CircuitState(h.circuit.Swap(int32(state)))
	h.lastTransition.Store(time.Now().UnixNano())
	if state == CircuitClosed && prev != CircuitClosed {
		h.consecutiveFailures.Store(0)
		h.totalCalls.Store(0)
		h.totalFailures.Store(0)
	}
}

// Circuit returns the recorded circuit state.
func (h *Health) Circuit() CircuitState {
	return CircuitState(h.circuit.Load())
}

// Snapshot returns a consistent-enough copy for ranking and persistence.
func (h *Health) Snapshot() HealthSnapshot {
	return HealthSnapshot{
		Provider:            h.name,
		ConsecutiveFailures: h.consecutiveFailures.Load(),
		TotalCalls:          h.totalCalls.Load(),
		TotalFailures:       h.totalFailures.Load(),
		Circuit:             CircuitState(h.circuit.Load()),
		LastTransition:      time.Unix(0, h.lastTransition.Load()),
		AvgLatency:          time.Duration(h.latencyEMAMicros.Load()) * time.Microsecond,
	}
}

// restore seeds counters from a persisted snapshot.
func (h *Health) restore(s HealthSnapshot) {
	h.consecutiveFailures.Store(s.ConsecutiveFailures)
	h.totalCalls.Store(s.TotalCalls)
	h.totalFailures.Store(s.TotalFailures)
	h.circuit.Store(int32(s.Circuit))
	h.lastTransition.Store(s.LastTransition.UnixNano())
	h.latencyEMAMicros.Store(int64(s.AvgLatency / time.Microsecond))
}

// HealthRegistry holds the health records for all registered providers. It is
// owned by the gateway instance, not process-wide, so multiple orchestrators
// can run with independent or shared health views.
type HealthRegistry struct {
	mu      sync.RWMutex
	records map[string]*Health
}

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{records: make(map[string]*Health)}
}

// Get returns the health record for name, creating it on first use.
func (r *HealthRegistry) Get(name string) *Health {
	r.mu.RLock()
	h, ok := r.records[name]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.records[name]; ok {
		return h
	}
	h = &Health{name: name}
	r.records[name] = h
	return h
}

// Snapshots returns snapshots for every known provider.
func (r *HealthRegistry) Snapshots() []HealthSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]HealthSnapshot, 0, len(r.records))
	for _, h := range r.records {
		out = append(out, h.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Rank orders the given provider names healthiest-first: closed circuits
// before half-open before open, then ascending failure rate, then ascending
// consecutive failures. Ties keep the given (configured priority) order.
func (r *HealthRegistry) Rank(names []string) []string {
	type scored struct {
		name string
		snap HealthSnapshot
		pos  int
	}

	items := make([]scored, 0, len(names))
	for i, name := range names {
		items = append(items, scored{name: name, snap: r.Get(name).Snapshot(), pos: i})
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].snap, items[j].snap
		if a.Circuit != b.Circuit {
			return a.Circuit < b.Circuit
		}
		if a.FailureRate() != b.FailureRate() {
			return a.FailureRate() < b.FailureRate()
		}
		if a.ConsecutiveFailures != b.ConsecutiveFailures {
			return a.ConsecutiveFailures < b.ConsecutiveFailures
		}
		return items[i].pos < items[j].pos
	})

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.name
	}
	return out
}

// Restore seeds records from persisted snapshots. Unknown providers are
// created; open circuits are demoted to half-open so a restarted process
// probes rather than trusting stale state.
func (r *HealthRegistry) Restore(snapshots []HealthSnapshot) {
	for _, s := range snapshots {
		if s.Circuit == CircuitOpen {
			s.Circuit = CircuitHalfOpen
		}
		r.Get(s.Provider).restore(s)
	}
}
