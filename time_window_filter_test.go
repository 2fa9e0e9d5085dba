package main

import (
	"testing"
	"time"
)

func testWindowConfig() WindowConfig {
	return WindowConfig{WindowSec: 10, FadeFraction: 0.5, TickMs: 250}
}

// S4 — Fade-out.
func TestTimeWindowFilter_FadeOut(t *testing.T) {
	w := NewTimeWindowFilter(testWindowConfig())
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := start
	w.nowFunc = func() time.Time { return cur }

	w.AddSignal(SignalDetection{Frequency: 100_000_000, Classification: "Wi-Fi"})

	cur = start.Add(3 * time.Second)
	w.Tick()
	snap := w.Snapshot()
	if len(snap.Active) != 1 || len(snap.Fading) != 0 {
		t.Fatalf("expected active at t=3s, got active=%d fading=%d", len(snap.Active), len(snap.Fading))
	}

	cur = start.Add(7 * time.Second)
	w.Tick()
	snap = w.Snapshot()
	if len(snap.Fading) != 1 {
		t.Fatalf("expected fading in [5s,10s), got active=%d fading=%d", len(snap.Active), len(snap.Fading))
	}

	cur = start.Add(11 * time.Second)
	w.Tick()
	snap = w.Snapshot()
	if snap.TotalSignals != 0 {
		t.Fatalf("expected signal absent from live set at t>=10s, total=%d", snap.TotalSignals)
	}
}

func TestTimeWindowFilter_NoBackwardTransition(t *testing.T) {
	w := NewTimeWindowFilter(testWindowConfig())
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := start
	w.nowFunc = func() time.Time { return cur }

	w.AddSignal(SignalDetection{Frequency: 1, Classification: "x"})
	cur = start.Add(7 * time.Second)
	w.Tick() // now fading

	key := signalKey(SignalDetection{Frequency: 1, Classification: "x"})
	if w.signals[key].State != SignalFading {
		t.Fatalf("expected fading state before refresh")
	}

	// Further ticks without a refresh never move it back to active.
	cur = start.Add(9 * time.Second)
	w.Tick()
	if w.signals[key].State != SignalFading {
		t.Fatalf("expected a fading signal to stay fading on later ticks, got %s", w.signals[key].State)
	}

	// Refresh restores active, never regresses past fading into expired territory.
	w.AddSignal(SignalDetection{Frequency: 1, Classification: "x"})
	if w.signals[key].State != SignalActive {
		t.Fatalf("expected refresh to restore active state")
	}
}

func TestTimeWindowFilter_NoStaleEntries(t *testing.T) {
	w := NewTimeWindowFilter(testWindowConfig())
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := start
	w.nowFunc = func() time.Time { return cur }

	w.AddSignal(SignalDetection{Frequency: 42, Classification: "y"})
	cur = start.Add(20 * time.Second)
	w.Tick()

	for _, s := range w.signals {
		if cur.Sub(s.LastSeen) >= time.Duration(w.windowSec)*time.Second {
			t.Fatalf("invariant violated: signal present with age >= W")
		}
	}
}
