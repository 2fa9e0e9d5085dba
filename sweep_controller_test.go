package main

import (
	"testing"
	"time"
)

func testSweepConfig() SweepConfig {
	return SweepConfig{
		SweepBinary:     "/bin/sleep",
		SweepArgs:       []string{"5"},
		WorkDir:         ".",
		SpanHz:          10_000_000,
		StaleTimeoutSec: 10,
		StopGraceSec:    1,
	}
}

func newTestController(cfg SweepConfig) *SweepController {
	parser := NewStreamParser(testParserConfig())
	analyzer := NewSweepAnalyzer(testAnalyzerConfig())
	processor := NewSignalProcessor(testProcessorConfig())
	window := NewTimeWindowFilter(testWindowConfig())
	cycler := NewFrequencyCycler()
	tracker := NewErrorTracker(testRecoveryConfig())
	tracker.loadAvgFunc = noLoadPenalty
	push := newTestPushLayer()
	return NewSweepController(cfg, parser, analyzer, processor, window, cycler, tracker, push)
}

func TestSweepController_CheckSweepAvailability(t *testing.T) {
	c := newTestController(testSweepConfig())
	if err := c.CheckSweepAvailability(); err != nil {
		t.Fatalf("expected /bin/sleep to be available: %v", err)
	}
}

func TestSweepController_CheckSweepAvailability_Missing(t *testing.T) {
	cfg := testSweepConfig()
	cfg.SweepBinary = "/no/such/binary-xyz"
	c := newTestController(cfg)
	if err := c.CheckSweepAvailability(); err == nil {
		t.Fatalf("expected error for missing sweep binary")
	}
}

// S3 — Frequency cycle, driven through the controller's StartSweep.
func TestSweepController_StartSweep_SetsRunningAndFrequency(t *testing.T) {
	c := newTestController(testSweepConfig())
	if err := c.StartSweep([]uint64{2_400_000_000, 5_000_000_000}, 8000*time.Millisecond); err != nil {
		t.Fatalf("unexpected StartSweep error: %v", err)
	}
	defer c.StopSweep()

	status := c.Status()
	if status.ControllerState != StateRunning {
		t.Fatalf("expected state running after StartSweep, got %s", status.ControllerState)
	}
	if !status.HasCurrentFreq || status.CurrentFreq != 2_400_000_000 {
		t.Fatalf("expected current frequency 2.4GHz, got %+v", status)
	}
}

// stopSweep is idempotent: two consecutive calls yield the same terminal state.
func TestSweepController_StopSweep_Idempotent(t *testing.T) {
	c := newTestController(testSweepConfig())
	if err := c.StartSweep([]uint64{2_400_000_000}, 8000*time.Millisecond); err != nil {
		t.Fatalf("unexpected StartSweep error: %v", err)
	}

	if err := c.StopSweep(); err != nil {
		t.Fatalf("unexpected first StopSweep error: %v", err)
	}
	first := c.Status().ControllerState

	if err := c.StopSweep(); err != nil {
		t.Fatalf("unexpected second StopSweep error: %v", err)
	}
	second := c.Status().ControllerState

	if first != StateIdle || second != StateIdle {
		t.Fatalf("expected idle after stop, got %s then %s", first, second)
	}
}

func TestSweepController_EmergencyStop_ResetsState(t *testing.T) {
	c := newTestController(testSweepConfig())
	if err := c.StartSweep([]uint64{2_400_000_000}, 8000*time.Millisecond); err != nil {
		t.Fatalf("unexpected StartSweep error: %v", err)
	}
	if err := c.EmergencyStop(); err != nil {
		t.Fatalf("unexpected EmergencyStop error: %v", err)
	}
	status := c.Status()
	if status.ControllerState != StateIdle || status.HasCurrentFreq {
		t.Fatalf("expected idle/no-frequency after EmergencyStop, got %+v", status)
	}
}

func TestSweepController_ForceCleanup_ResetsIdleAndConsecutive(t *testing.T) {
	c := newTestController(testSweepConfig())
	c.tracker.Report("unknown glitch", 0, false)
	c.tracker.Report("unknown glitch", 0, false)
	c.ForceCleanup()

	if c.Status().ControllerState != StateIdle {
		t.Fatalf("expected idle after ForceCleanup")
	}
	if c.tracker.consecutive != 0 {
		t.Fatalf("expected consecutive error count reset, got %d", c.tracker.consecutive)
	}
}

// S6 — Stuck device: no valid frame for 12s while running with staleTimeout=10s
// synthesizes a device_stuck error.
func TestSweepController_CheckStreamLiveness_DetectsStale(t *testing.T) {
	c := newTestController(testSweepConfig())
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := start
	c.nowFunc = func() time.Time { return cur }
	c.tracker.nowFunc = func() time.Time { return cur }

	if err := c.StartSweep([]uint64{2_400_000_000}, 8000*time.Millisecond); err != nil {
		t.Fatalf("unexpected StartSweep error: %v", err)
	}
	defer c.StopSweep()

	cur = start.Add(12 * time.Second)
	c.CheckStreamLiveness()

	status := c.Status()
	if status.LastErrorKind != KindStreamStale {
		t.Fatalf("expected stream_stale error recorded, got %s", status.LastErrorKind)
	}
}

// S6 — a stale-stream error, once classified by the controller, must reach
// the recovery supervisor and select "Clear and Reset".
func TestSweepController_CheckStreamLiveness_TriggersClearAndReset(t *testing.T) {
	c := newTestController(testSweepConfig())
	push := newTestPushLayer()
	recovery := NewRecoverySupervisor(testRecoveryConfig(), c, push)
	c.AttachRecovery(recovery)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := start
	c.nowFunc = func() time.Time { return cur }
	c.tracker.nowFunc = func() time.Time { return cur }

	if err := c.StartSweep([]uint64{2_400_000_000}, 8000*time.Millisecond); err != nil {
		t.Fatalf("unexpected StartSweep error: %v", err)
	}
	defer c.StopSweep()

	cur = start.Add(12 * time.Second)
	c.CheckStreamLiveness()

	svc, reached := recovery.services["sweep"]
	if !reached || svc.lastAttempt["Clear and Reset"].IsZero() {
		t.Fatalf("expected the controller's stale-stream error to reach the recovery supervisor and run Clear and Reset")
	}

	strat, ok := recovery.selectStrategy(TrackedError{Kind: KindStreamStale})
	if !ok || strat.Name != "Clear and Reset" {
		t.Fatalf("expected stream_stale to select Clear and Reset, got %+v", strat)
	}
}

func TestSweepController_CheckStreamLiveness_NoFalsePositiveWhenFresh(t *testing.T) {
	c := newTestController(testSweepConfig())
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := start
	c.nowFunc = func() time.Time { return cur }

	if err := c.StartSweep([]uint64{2_400_000_000}, 8000*time.Millisecond); err != nil {
		t.Fatalf("unexpected StartSweep error: %v", err)
	}
	defer c.StopSweep()

	cur = start.Add(2 * time.Second)
	c.CheckStreamLiveness()

	if c.Status().LastErrorKind == KindStreamStale {
		t.Fatalf("did not expect stream_stale error within staleTimeout")
	}
}
