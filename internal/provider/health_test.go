package provider

import (
	"reflect"
	"testing"
	"time"
)

func TestHealthRecords(t *testing.T) {
	h := &Health{name: "p"}

	h.RecordSuccess(100 * time.Millisecond)
	h.RecordFailure()
	h.RecordFailure()

	s := h.Snapshot()
	if s.TotalCalls != 3 {
		t.Errorf("total calls = %d, want 3", s.TotalCalls)
	}
	if s.TotalFailures != 2 {
		t.Errorf("total failures = %d, want 2", s.TotalFailures)
	}
	if s.ConsecutiveFailures != 2 {
		t.Errorf("consecutive failures = %d, want 2", s.ConsecutiveFailures)
	}

	// Success resets the consecutive counter, not the totals.
	h.RecordSuccess(50 * time.Millisecond)
	s = h.Snapshot()
	if s.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures after success = %d, want 0", s.ConsecutiveFailures)
	}
	if s.TotalFailures != 2 {
		t.Errorf("total failures after success = %d, want 2", s.TotalFailures)
	}
}

func TestHealthCircuitCloseResetsCounters(t *testing.T) {
	h := &Health{name: "p"}
	h.RecordFailure()
	h.RecordFailure()
	h.SetCircuit(CircuitOpen)
	h.SetCircuit(CircuitClosed)

	s := h.Snapshot()
	if s.TotalCalls != 0 || s.TotalFailures != 0 || s.ConsecutiveFailures != 0 {
		t.Errorf("counters not reset on close: %+v", s)
	}
}

func TestRank(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *HealthRegistry)
		names []string
		want  []string
	}{
		{
			name:  "No history keeps configured order",
			setup: func(r *HealthRegistry) {},
			names: []string{"primary", "fallback"},
			want:  []string{"primary", "fallback"},
		},
		{
			name: "Open circuit sorts last",
			setup: func(r *HealthRegistry) {
				r.Get("primary").SetCircuit(CircuitOpen)
			},
			names: []string{"primary", "fallback"},
			want:  []string{"fallback", "primary"},
		},
		{
			name: "Higher failure rate sorts later",
			setup: func(r *HealthRegistry) {
				r.Get("primary").RecordFailure()
				r.Get("primary").RecordSuccess(time.Millisecond)
				r.Get("fallback").RecordSuccess(time.Millisecond)
			},
			names: []string{"primary", "fallback"},
			want:  []string{"fallback", "primary"},
		},
		{
			name: "Half-open sorts between closed and open",
			setup: func(r *HealthRegistry) {
				r.Get("a").SetCircuit(CircuitOpen)
				r.Get("b").SetCircuit(CircuitHalfOpen)
			},
			names: []string{"a", "b", "c"},
			want:  []string{"c", "b", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewHealthRegistry()
			tt.setup(r)
			if got := r.Rank(tt.names); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Rank(%v) = %v, want %v", tt.names, got, tt.want)
			}
		})
	}
}

func TestRestoreDemotesOpenCircuits(t *testing.T) {
	r := NewHealthRegistry()
	r.Restore([]HealthSnapshot{
		{Provider: "primary", Circuit: CircuitOpen, TotalCalls: 10, TotalFailures: 8},
		{Provider: "fallback", Circuit: CircuitClosed, TotalCalls: 5},
	})

	if got := r.Get("primary").Circuit(); got != CircuitHalfOpen {
		t.Errorf("restored open circuit = %s, want half-open", got)
	}
	if got := r.Get("fallback").Circuit(); got != CircuitClosed {
		t.Errorf("restored closed circuit = %s, want closed", got)
	}
	if got := r.Get("primary").Snapshot().TotalFailures; got != 8 {
		t.Errorf("restored failures = %d, want 8", got)
	}
}
