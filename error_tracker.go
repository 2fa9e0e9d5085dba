package main

import (
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/load"
)

// DeviceStatus is the coarse device-health label feeding the health score
// penalty table.
type DeviceStatus string

const (
	DeviceAvailable    DeviceStatus = "available"
	DeviceBusy         DeviceStatus = "busy"
	DeviceStuck        DeviceStatus = "stuck"
	DeviceDisconnected DeviceStatus = "disconnected"
)

var deviceStatusPenalty = map[DeviceStatus]float64{
	DeviceAvailable:    0,
	DeviceBusy:         20,
	DeviceStuck:        30,
	DeviceDisconnected: 40,
}

// ErrorTracker classifies raw error messages, tracks consecutive/recent
// failure counters, and computes a composite health score.
type ErrorTracker struct {
	cfg RecoveryConfig

	mu                sync.Mutex
	consecutive       int
	consecutiveBusy   int
	recentFailures    []time.Time
	perFrequencyCount map[uint64]int
	deviceStatus      DeviceStatus

	nowFunc     func() time.Time
	loadAvgFunc func() (float64, error) // host 1-minute load average, for the health-score penalty
}

// NewErrorTracker builds a tracker from config.
func NewErrorTracker(cfg RecoveryConfig) *ErrorTracker {
	return &ErrorTracker{
		cfg:               cfg,
		perFrequencyCount: make(map[uint64]int),
		deviceStatus:      DeviceAvailable,
		nowFunc:           time.Now,
		loadAvgFunc:       hostLoadAverage,
	}
}

func hostLoadAverage() (float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

// Report analyzes a raw error message (and an optional frequency context)
// and returns the classified TrackedError, following the teacher's
// lowercase-substring dispatch idiom.
func (t *ErrorTracker) Report(message string, freq uint64, hasFreq bool) TrackedError {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	lower := strings.ToLower(message)

	t.consecutive++
	t.recentFailures = append(t.recentFailures, now)
	t.pruneRecentLocked(now)

	if hasFreq {
		t.perFrequencyCount[freq]++
	}

	te := TrackedError{
		Message:      message,
		Timestamp:    now,
		Frequency:    freq,
		HasFrequency: hasFreq,
	}

	switch {
	case strings.Contains(lower, "resource busy") || strings.Contains(lower, "device busy"):
		t.consecutiveBusy++
		te.Kind = KindDeviceBusy
		te.Severity = severityForBusy(t.consecutiveBusy)
		te.Recoverable = true
		te.RequiresRestart = t.consecutiveBusy > 5
		t.deviceStatus = DeviceBusy

	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "access denied"):
		te.Kind = KindPermissionDenied
		te.Severity = SeverityHigh
		te.Recoverable = false
		t.deviceStatus = DeviceDisconnected

	case strings.Contains(lower, "no hackrf boards found") || strings.Contains(lower, "hackrf_open() failed") || strings.Contains(lower, "device not found"):
		te.Kind = KindDeviceNotFound
		te.Severity = SeverityCritical
		te.Recoverable = true
		te.RequiresRestart = true
		t.deviceStatus = DeviceDisconnected

	case strings.Contains(lower, "libusb") || strings.Contains(lower, "usb error") || strings.Contains(lower, "usb_open() failed"):
		te.Kind = KindUSBError
		te.Severity = SeverityHigh
		te.Recoverable = true
		te.RequiresRestart = true
		t.deviceStatus = DeviceDisconnected

	default:
		t.consecutiveBusy = 0
		te.Kind = KindUnknown
		te.Recoverable = true
		te.RequiresRestart = t.consecutive >= t.cfg.MaxConsecutiveErrors
		te.Severity = severityForConsecutive(t.consecutive, t.cfg.MaxConsecutiveErrors)
	}

	if te.Kind != KindDeviceBusy {
		t.consecutiveBusy = 0
	}

	return te
}

// severityForBusy escalates a run of consecutive "resource busy"/"device
// busy" reports from medium to high to critical, so a short burst of busy
// errors becomes reachable by the high/critical-gated recovery strategies
// instead of sitting pinned at medium forever.
func severityForBusy(consecutiveBusy int) Severity {
	switch {
	case consecutiveBusy >= 5:
		return SeverityCritical
	case consecutiveBusy >= 3:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func severityForConsecutive(consecutive, max int) Severity {
	switch {
	case consecutive >= max:
		return SeverityCritical
	case consecutive >= max/2:
		return SeverityHigh
	case consecutive > 1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func (t *ErrorTracker) pruneRecentLocked(now time.Time) {
	cutoff := now.Add(-60 * time.Second)
	kept := t.recentFailures[:0]
	for _, ts := range t.recentFailures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.recentFailures = kept
}

// ShouldBlacklist reports whether freq has hit the blacklist threshold.
func (t *ErrorTracker) ShouldBlacklist(freq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perFrequencyCount[freq] >= t.cfg.FrequencyBlacklistAfter
}

// ResetConsecutive clears the consecutive-error counter (called by the
// recovery supervisor after a successful restart).
func (t *ErrorTracker) ResetConsecutive() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive = 0
	t.consecutiveBusy = 0
	t.deviceStatus = DeviceAvailable
}

// SetDeviceStatus allows the controller to directly report device health
// transitions not derived from an error message (e.g. recovering).
func (t *ErrorTracker) SetDeviceStatus(status DeviceStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deviceStatus = status
}

// HealthScore computes the 0-100 composite: the three base subtractors
// (consecutive errors, recent failures, device-status penalty) plus an
// independent, capped host-load penalty sourced from gopsutil. The host-load
// term never alters the documented busy/stuck/disconnected penalty values —
// it is a fourth, additive subtractor.
func (t *ErrorTracker) HealthScore() float64 {
	t.mu.Lock()
	consecutive := t.consecutive
	recent := len(t.recentFailures)
	status := t.deviceStatus
	max := t.cfg.MaxConsecutiveErrors
	maxPerMin := t.cfg.MaxFailuresPerMinute
	t.mu.Unlock()

	score := 100.0
	score -= 40.0 * float64(consecutive) / float64(max)
	score -= 30.0 * float64(recent) / float64(maxPerMin)
	score -= deviceStatusPenalty[status]

	score -= t.hostLoadPenalty()

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// hostLoadPenalty folds host 1-minute load average into a capped 0-15
// point subtractor. Unavailable on platforms gopsutil can't sample (e.g.
// sandboxed containers without /proc/loadavg) — treated as zero penalty.
func (t *ErrorTracker) hostLoadPenalty() float64 {
	if t.loadAvgFunc == nil {
		return 0
	}
	avg, err := t.loadAvgFunc()
	if err != nil {
		return 0
	}
	penalty := avg * 5
	if penalty > 15 {
		penalty = 15
	}
	if penalty < 0 {
		penalty = 0
	}
	return penalty
}
