package main

import (
	"sync"
	"time"
)

// macRateLimiter is a token-bucket limiter, adapted directly from the
// teacher's ratelimit.go RateLimiter (refill-then-check-then-consume).
type macRateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

func newMACRateLimiter(hz float64) *macRateLimiter {
	if hz <= 0 {
		return &macRateLimiter{tokens: 1, maxTokens: 1, refillRate: 0, lastRefill: time.Now()}
	}
	return &macRateLimiter{tokens: hz, maxTokens: hz, refillRate: hz, lastRefill: time.Now()}
}

func (rl *macRateLimiter) allow(now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.refillRate == 0 {
		return true
	}

	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0 // a clock reading earlier than lastRefill must not drain tokens
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

// KismetDeviceRecord is the normalized shape of an external Wi-Fi device
// observation, as produced by a Kismet-style collector.
type KismetDeviceRecord struct {
	MAC          string
	LastSignal   float64 // dBm, maps to signal.last_signal
	Frequency    uint64
	Timestamp    time.Time
}

// ExternalSignalBridge normalizes Kismet-style device records into
// SignalDetections and feeds them into C3/C4 without touching the device
// path, rate-limited per MAC via a RateLimiterManager-style per-key map
// adapted from the teacher's ratelimit.go.
type ExternalSignalBridge struct {
	maxHz float64

	mu       sync.Mutex
	limiters map[string]*macRateLimiter

	window    *TimeWindowFilter
	push      *PushDeliveryLayer
	processor *SignalProcessor
	nowFunc   func() time.Time
}

// NewExternalSignalBridge builds a bridge feeding detections into the
// signal database (C3), the active/fading window (C4), and the push layer
// (C9) — the same three sinks internal detections reach.
func NewExternalSignalBridge(cfg ExternalConfig, window *TimeWindowFilter, push *PushDeliveryLayer, processor *SignalProcessor) *ExternalSignalBridge {
	return &ExternalSignalBridge{
		maxHz:     cfg.ExternalMaxHz,
		limiters:  make(map[string]*macRateLimiter),
		window:    window,
		push:      push,
		processor: processor,
		nowFunc:   time.Now,
	}
}

// Ingest converts a Kismet device record into a SignalDetection with
// source=external and "Wi-Fi device" classification, subject to the
// per-MAC rate limit. Returns false if the record was rate-limited.
// Per spec §9's internal/external precedence question: external detections
// go through C3's coalesce/database update exactly like internal ones, so
// an external Wi-Fi device occupying the same frequency as an
// internally-detected signal simply becomes the most recent occupant of
// that database/active-set slot — last-write-wins, no separate namespace.
func (b *ExternalSignalBridge) Ingest(rec KismetDeviceRecord) bool {
	if !b.allow(rec.MAC) {
		return false
	}

	det := SignalDetection{
		Frequency:      rec.Frequency,
		Power:          rec.LastSignal,
		Classification: "Wi-Fi device",
		Confidence:     1.0,
		Timestamp:      rec.Timestamp,
		Source:         "external",
	}

	b.processor.IngestExternal(det)
	b.window.AddSignal(det)
	b.push.PublishDetection(det)
	return true
}

func (b *ExternalSignalBridge) allow(mac string) bool {
	b.mu.Lock()
	lim, ok := b.limiters[mac]
	if !ok {
		lim = newMACRateLimiter(b.maxHz)
		b.limiters[mac] = lim
	}
	b.mu.Unlock()
	return lim.allow(b.nowFunc())
}

// Cleanup removes per-MAC limiters idle for over 5 minutes, mirroring the
// teacher's IPConnectionRateLimiter.Cleanup periodic sweep.
func (b *ExternalSignalBridge) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.nowFunc()
	for mac, lim := range b.limiters {
		lim.mu.Lock()
		stale := now.Sub(lim.lastRefill) > 5*time.Minute
		lim.mu.Unlock()
		if stale {
			delete(b.limiters, mac)
		}
	}
}

// TrackedMACCount reports how many MACs currently have an active limiter.
func (b *ExternalSignalBridge) TrackedMACCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.limiters)
}
