package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"appforge/internal/provider"
)

func testConfig() Config {
	return Config{
		Window:           time.Minute,
		FailureThreshold: 0.5,
		MinCalls:         5,
		ConsecutiveTrip:  3,
		Cooldown:         50 * time.Millisecond,
	}
}

func failCall() (provider.Response, error) {
	return provider.Response{}, provider.NewError(provider.KindTransient, "p", "boom")
}

func okCall() (provider.Response, error) {
	return provider.Response{Content: "ok"}, nil
}

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	health := provider.NewHealthRegistry()
	r := NewRegistry(testConfig(), health)

	for i := 0; i < 3; i++ {
		if _, err := r.Execute("p", failCall); err == nil {
			t.Fatalf("call %d: expected failure", i+1)
		}
	}

	if got := r.State("p"); got != provider.CircuitOpen {
		t.Fatalf("state after 3 consecutive failures = %s, want open", got)
	}

	// Open circuit rejects fast with provider_unavailable, without calling fn.
	called := false
	_, err := r.Execute("p", func() (provider.Response, error) {
		called = true
		return okCall()
	})
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Kind != provider.KindUnavailable {
		t.Fatalf("expected provider_unavailable, got %v", err)
	}
	if called {
		t.Error("open circuit must not invoke the call")
	}

	// The trip is mirrored into the health registry for fallback ranking.
	if got := health.Get("p").Circuit(); got != provider.CircuitOpen {
		t.Errorf("health circuit = %s, want open", got)
	}
}

func TestBreakerTripsOnFailureRatio(t *testing.T) {
	cfg := testConfig()
	cfg.ConsecutiveTrip = 0 // ratio path only
	r := NewRegistry(cfg, provider.NewHealthRegistry())

	// 3 failures out of 5 calls is over the 0.5 threshold.
	calls := []func() (provider.Response, error){failCall, okCall, failCall, okCall, failCall}
	for _, fn := range calls {
		_, _ = r.Execute("p", fn)
	}

	if got := r.State("p"); got != provider.CircuitOpen {
		t.Fatalf("state after 3/5 failures = %s, want open", got)
	}
}

func TestBreakerBelowMinCallsStaysClosed(t *testing.T) {
	cfg := testConfig()
	cfg.ConsecutiveTrip = 0
	r := NewRegistry(cfg, provider.NewHealthRegistry())

	// 100% failure but under MinCalls: ratio does not apply yet.
	for i := 0; i < 4; i++ {
		_, _ = r.Execute("p", failCall)
	}
	if got := r.State("p"); got != provider.CircuitClosed {
		t.Fatalf("state below MinCalls = %s, want closed", got)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	r := NewRegistry(testConfig(), provider.NewHealthRegistry())

	for i := 0; i < 3; i++ {
		_, _ = r.Execute("p", failCall)
	}
	if got := r.State("p"); got != provider.CircuitOpen {
		t.Fatalf("state = %s, want open", got)
	}

	// After the cooldown a single probe is allowed; success closes the circuit.
	time.Sleep(60 * time.Millisecond)
	if _, err := r.Execute("p", okCall); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if got := r.State("p"); got != provider.CircuitClosed {
		t.Errorf("state after successful probe = %s, want closed", got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	r := NewRegistry(testConfig(), provider.NewHealthRegistry())

	for i := 0; i < 3; i++ {
		_, _ = r.Execute("p", failCall)
	}
	time.Sleep(60 * time.Millisecond)

	if _, err := r.Execute("p", failCall); err == nil {
		t.Fatal("expected probe failure")
	}
	if got := r.State("p"); got != provider.CircuitOpen {
		t.Errorf("state after failed probe = %s, want open", got)
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	r := NewRegistry(testConfig(), provider.NewHealthRegistry())

	for i := 0; i < 10; i++ {
		_, _ = r.Execute("p", func() (provider.Response, error) {
			return provider.Response{}, context.Canceled
		})
	}
	if got := r.State("p"); got != provider.CircuitClosed {
		t.Errorf("state after cancellations = %s, want closed", got)
	}
}

func TestBreakersAreIndependent(t *testing.T) {
	r := NewRegistry(testConfig(), provider.NewHealthRegistry())

	for i := 0; i < 3; i++ {
		_, _ = r.Execute("a", failCall)
	}

	if got := r.State("a"); got != provider.CircuitOpen {
		t.Fatalf("a state = %s, want open", got)
	}
	if got := r.State("b"); got != provider.CircuitClosed {
		t.Fatalf("b state = %s, want closed", got)
	}
	if _, err := r.Execute("b", okCall); err != nil {
		t.Errorf("b call failed: %v", err)
	}
}
