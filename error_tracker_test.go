package main

import (
	"testing"
	"time"
)

func testRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxConsecutiveErrors:    8,
		MaxFailuresPerMinute:    5,
		FrequencyBlacklistAfter: 3,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeoutS:  60,
		RecoveryTimeoutSec:      30,
	}
}

func noLoadPenalty() (float64, error) { return 0, nil }

// S2 — Busy recovery (classification half).
func TestErrorTracker_BusyEscalation(t *testing.T) {
	tr := NewErrorTracker(testRecoveryConfig())
	tr.loadAvgFunc = noLoadPenalty

	var last TrackedError
	for i := 0; i < 3; i++ {
		last = tr.Report("Resource busy", 0, false)
	}
	if last.Kind != KindDeviceBusy {
		t.Fatalf("expected device_busy classification, got %s", last.Kind)
	}
	if last.RequiresRestart {
		t.Fatalf("requiresRestart should only trip after >5 consecutive busy, got true at 3")
	}
	if last.Severity != SeverityHigh {
		t.Fatalf("expected severity to escalate to high by the 3rd consecutive busy error, got %s", last.Severity)
	}

	for i := 0; i < 4; i++ {
		last = tr.Report("Resource busy", 0, false)
	}
	if !last.RequiresRestart {
		t.Fatalf("expected requiresRestart=true after >5 consecutive busy errors")
	}
	if last.Severity != SeverityCritical {
		t.Fatalf("expected severity critical at 7 consecutive busy errors, got %s", last.Severity)
	}
}

func TestErrorTracker_PermissionDenied(t *testing.T) {
	tr := NewErrorTracker(testRecoveryConfig())
	tr.loadAvgFunc = noLoadPenalty
	te := tr.Report("Permission denied opening device", 0, false)
	if te.Kind != KindPermissionDenied || te.Severity != SeverityHigh || te.Recoverable {
		t.Fatalf("unexpected classification: %+v", te)
	}
}

func TestErrorTracker_FrequencyBlacklistThreshold(t *testing.T) {
	tr := NewErrorTracker(testRecoveryConfig())
	tr.loadAvgFunc = noLoadPenalty
	freq := uint64(2_400_000_000)
	for i := 0; i < 2; i++ {
		tr.Report("unknown glitch", freq, true)
	}
	if tr.ShouldBlacklist(freq) {
		t.Fatalf("should not blacklist before threshold")
	}
	tr.Report("unknown glitch", freq, true)
	if !tr.ShouldBlacklist(freq) {
		t.Fatalf("expected blacklist at 3 errors on same frequency")
	}
}

func TestErrorTracker_HealthScoreBounds(t *testing.T) {
	tr := NewErrorTracker(testRecoveryConfig())
	tr.loadAvgFunc = noLoadPenalty
	if s := tr.HealthScore(); s != 100 {
		t.Fatalf("expected fresh tracker health score 100, got %v", s)
	}
	for i := 0; i < 20; i++ {
		tr.Report("no hackrf boards found", 0, false)
	}
	if s := tr.HealthScore(); s < 0 || s > 100 {
		t.Fatalf("health score out of [0,100] bounds: %v", s)
	}
}

func TestErrorTracker_RecentFailuresPruned(t *testing.T) {
	tr := NewErrorTracker(testRecoveryConfig())
	tr.loadAvgFunc = noLoadPenalty
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := start
	tr.nowFunc = func() time.Time { return cur }

	tr.Report("unknown glitch", 0, false)
	cur = start.Add(90 * time.Second)
	tr.Report("unknown glitch", 0, false)

	if len(tr.recentFailures) != 1 {
		t.Fatalf("expected old failure pruned after 60s window, got %d entries", len(tr.recentFailures))
	}
}
