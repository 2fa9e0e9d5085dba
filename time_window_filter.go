package main

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WindowSnapshot is the immutable view exposed to subscribers.
type WindowSnapshot struct {
	Active        []TimedSignal
	Fading        []TimedSignal
	TotalSignals  int
	SignalTurnover float64
}

// TimeWindowFilter enforces a sliding retention window with graceful fade,
// matching the teacher's ticker-driven pollLoop shape in spectrum.go.
type TimeWindowFilter struct {
	windowSec    float64
	fadeFraction float64
	tick         time.Duration

	mu      sync.Mutex
	signals map[string]*TimedSignal
	removalLog []time.Time // rolling 10s window of removal timestamps

	nowFunc func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTimeWindowFilter builds a filter from config.
func NewTimeWindowFilter(cfg WindowConfig) *TimeWindowFilter {
	return &TimeWindowFilter{
		windowSec:    cfg.WindowSec,
		fadeFraction: cfg.FadeFraction,
		tick:         time.Duration(cfg.TickMs) * time.Millisecond,
		signals:      make(map[string]*TimedSignal),
		nowFunc:      time.Now,
	}
}

// AddSignal inserts or refreshes a signal's lastSeen; identical identity
// resets lastSeen and may restore state from fading to active.
func (w *TimeWindowFilter) AddSignal(det SignalDetection) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowFunc()
	key := signalKey(det)

	if existing, ok := w.signals[key]; ok {
		existing.Detection = det
		existing.LastSeen = now
		if existing.State == SignalFading {
			existing.State = SignalActive
		}
		return
	}

	w.signals[key] = &TimedSignal{
		ID:        uuid.NewString(),
		Detection: det,
		FirstSeen: now,
		LastSeen:  now,
		State:     SignalActive,
		Relevance: 1,
	}
}

func signalKey(det SignalDetection) string {
	return det.Classification + ":" + strconv.FormatUint(det.Frequency, 10)
}

// Tick advances every tracked signal's age band; call on each cadence tick.
// Exposed directly so tests can drive deterministic ticks without a timer.
func (w *TimeWindowFilter) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tickLocked()
}

func (w *TimeWindowFilter) tickLocked() {
	now := w.nowFunc()
	alphaW := w.fadeFraction * w.windowSec
	windowDur := time.Duration(w.windowSec * float64(time.Second))
	alphaDur := time.Duration(alphaW * float64(time.Second))

	for key, s := range w.signals {
		age := now.Sub(s.LastSeen)
		switch {
		case age < alphaDur:
			s.State = SignalActive
			s.Relevance = 1
		case age < windowDur:
			s.State = SignalFading
			span := windowDur - alphaDur
			if span > 0 {
				s.Relevance = 1 - float64(age-alphaDur)/float64(span)
			} else {
				s.Relevance = 0
			}
		default:
			s.State = SignalExpired
			delete(w.signals, key)
			w.removalLog = append(w.removalLog, now)
		}
	}

	cutoff := now.Add(-10 * time.Second)
	keep := w.removalLog[:0]
	for _, t := range w.removalLog {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	w.removalLog = keep
}

// Snapshot returns the current active/fading sets and derived stats.
func (w *TimeWindowFilter) Snapshot() WindowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	var active, fading []TimedSignal
	for _, s := range w.signals {
		switch s.State {
		case SignalActive:
			active = append(active, *s)
		case SignalFading:
			fading = append(fading, *s)
		}
	}

	return WindowSnapshot{
		Active:         active,
		Fading:         fading,
		TotalSignals:   len(w.signals),
		SignalTurnover: float64(len(w.removalLog)) / 10.0,
	}
}

// Start launches the periodic tick goroutine.
func (w *TimeWindowFilter) Start() {
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.Tick()
			case <-w.stopCh:
				return
			}
		}
	}()
}

// Stop halts the periodic tick goroutine and waits for it to exit.
func (w *TimeWindowFilter) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	w.wg.Wait()
}
