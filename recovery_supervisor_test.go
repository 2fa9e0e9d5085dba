package main

import (
	"testing"
	"time"
)

// Circuit breaker: exactly circuitBreakerThreshold failures within the
// breaker's window transitions closed -> open on the next reported error.
func TestRecoverySupervisor_CircuitBreakerOpensAtThreshold(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.CircuitBreakerThreshold = 3
	push := newTestPushLayer()
	controller := NewSweepController(SweepConfig{SweepBinary: "/bin/true", Frequencies: []uint64{1}}, nil, nil, nil, nil, NewFrequencyCycler(), NewErrorTracker(cfg), push)
	r := NewRecoverySupervisor(cfg, controller, push)

	te := TrackedError{Message: "unknown glitch", Severity: SeverityLow}
	for i := 0; i < 2; i++ {
		r.HandleError("sweep", te)
	}
	if r.BreakerStates()["sweep"] != BreakerClosed {
		t.Fatalf("breaker should still be closed before threshold")
	}
	r.HandleError("sweep", te)
	if r.BreakerStates()["sweep"] != BreakerOpen {
		t.Fatalf("expected breaker to open at threshold, got %v", r.BreakerStates()["sweep"])
	}
}

func TestRecoverySupervisor_OpenBreakerBlocksRecovery(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.CircuitBreakerThreshold = 1
	cfg.CircuitBreakerTimeoutS = 60
	push := newTestPushLayer()
	controller := NewSweepController(SweepConfig{SweepBinary: "/bin/true", Frequencies: []uint64{1}}, nil, nil, nil, nil, NewFrequencyCycler(), NewErrorTracker(cfg), push)
	r := NewRecoverySupervisor(cfg, controller, push)

	start := time.Now()
	r.nowFunc = func() time.Time { return start }

	r.HandleError("sweep", TrackedError{Message: "connection lost", Severity: SeverityLow})
	if r.BreakerStates()["sweep"] != BreakerOpen {
		t.Fatalf("expected breaker open after first failure at threshold 1")
	}

	// Second error while open and before NextRetry should not panic or
	// attempt a strategy.
	r.HandleError("sweep", TrackedError{Message: "connection lost", Severity: SeverityLow})
	if r.BreakerStates()["sweep"] != BreakerOpen {
		t.Fatalf("breaker should remain open while blocked")
	}
}

func TestRecoverySupervisor_StrategySelectionOrder(t *testing.T) {
	push := newTestPushLayer()
	controller := NewSweepController(SweepConfig{SweepBinary: "/bin/true", Frequencies: []uint64{1}}, nil, nil, nil, nil, NewFrequencyCycler(), NewErrorTracker(testRecoveryConfig()), push)
	r := NewRecoverySupervisor(testRecoveryConfig(), controller, push)

	// Severity critical matches both "Service Restart" and "Fallback Mode";
	// Service Restart is registered first and must win.
	strat, ok := r.selectStrategy(TrackedError{Severity: SeverityCritical})
	if !ok || strat.Name != "Service Restart" {
		t.Fatalf("expected Service Restart to win on severity critical, got %+v", strat)
	}
}
