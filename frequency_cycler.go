package main

import (
	"sync"
	"time"
)

const (
	minTswitch = 500 * time.Millisecond
	maxTswitch = 3000 * time.Millisecond
)

// FrequencyCycler advances the current sweep target through a normalized
// plan, same timer-driven shape as the teacher's SpectrumManager pollLoop.
type FrequencyCycler struct {
	mu           sync.Mutex
	plan         FrequencyPlan
	validFreqs   []uint64
	currentIndex int
	cycling      bool
	inTransition bool

	timer   *time.Timer
	nowFunc func() time.Time

	onCycleStart    func(freq uint64)
	onCycleComplete func(freq uint64)
}

// NewFrequencyCycler builds an uninitialized cycler.
func NewFrequencyCycler() *FrequencyCycler {
	return &FrequencyCycler{nowFunc: time.Now}
}

// Initialize normalizes the plan, computes Tswitch, and resets to index 0.
func (c *FrequencyCycler) Initialize(plan FrequencyPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if plan.Tswitch == 0 {
		quarter := plan.Tcycle / 4
		plan.Tswitch = clampDuration(quarter, minTswitch, maxTswitch)
	}

	c.plan = plan
	c.validFreqs = plan.ValidFrequencies()
	c.currentIndex = 0
	c.cycling = len(c.validFreqs) > 1
	c.inTransition = false
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// StartAutomaticCycling schedules cycleToNext after Tcycle if cycling is
// enabled, and installs the caller's callbacks.
func (c *FrequencyCycler) StartAutomaticCycling(onCycleComplete, onCycleStart func(freq uint64)) {
	c.mu.Lock()
	c.onCycleComplete = onCycleComplete
	c.onCycleStart = onCycleStart
	cycling := c.cycling
	tcycle := c.plan.Tcycle
	c.mu.Unlock()

	if onCycleStart != nil {
		if f, ok := c.CurrentFrequency(); ok {
			onCycleStart(f)
		}
	}

	if !cycling {
		return
	}
	c.scheduleNext(tcycle)
}

func (c *FrequencyCycler) scheduleNext(after time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(after, c.cycleToNext)
}

// cycleToNext marks a transition, advances the index, and after Tswitch
// invokes onCycleComplete and clears the transition flag.
func (c *FrequencyCycler) cycleToNext() {
	c.mu.Lock()
	if len(c.validFreqs) == 0 {
		c.mu.Unlock()
		return
	}
	c.inTransition = true
	c.currentIndex = (c.currentIndex + 1) % len(c.validFreqs)
	next := c.validFreqs[c.currentIndex]
	tswitch := c.plan.Tswitch
	tcycle := c.plan.Tcycle
	complete := c.onCycleComplete
	cycling := c.cycling
	c.mu.Unlock()

	time.AfterFunc(tswitch, func() {
		c.mu.Lock()
		c.inTransition = false
		c.mu.Unlock()
		if complete != nil {
			complete(next)
		}
		if cycling {
			c.scheduleNext(tcycle)
		}
	})
}

// CycleToNext is the exported form for direct invocation (e.g. from tests
// or an explicit command), bypassing the timer schedule.
func (c *FrequencyCycler) CycleToNext() {
	c.cycleToNext()
}

// SkipToFrequency jumps directly to the plan index holding freq, if present.
func (c *FrequencyCycler) SkipToFrequency(freq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range c.validFreqs {
		if f == freq {
			c.currentIndex = i
			return true
		}
	}
	return false
}

// BlacklistFrequency adds freq to the blacklist and recomputes validFreqs.
func (c *FrequencyCycler) BlacklistFrequency(freq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plan.Blacklist == nil {
		c.plan.Blacklist = make(map[uint64]bool)
	}
	c.plan.Blacklist[freq] = true
	c.recomputeValidLocked()
}

// UnblacklistFrequency removes freq from the blacklist.
func (c *FrequencyCycler) UnblacklistFrequency(freq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.plan.Blacklist, freq)
	c.recomputeValidLocked()
}

// ClearBlacklist empties the blacklist entirely.
func (c *FrequencyCycler) ClearBlacklist() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan.Blacklist = make(map[uint64]bool)
	c.recomputeValidLocked()
}

func (c *FrequencyCycler) recomputeValidLocked() {
	c.validFreqs = c.plan.ValidFrequencies()
	c.cycling = len(c.validFreqs) > 1
	if c.currentIndex >= len(c.validFreqs) {
		c.currentIndex = 0
	}
}

// UpdateTiming changes Tcycle/Tswitch on the live plan.
func (c *FrequencyCycler) UpdateTiming(tcycle, tswitch time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan.Tcycle = tcycle
	if tswitch == 0 {
		tswitch = clampDuration(tcycle/4, minTswitch, maxTswitch)
	}
	c.plan.Tswitch = clampDuration(tswitch, minTswitch, maxTswitch)
}

// StopCycling halts the scheduled timer.
func (c *FrequencyCycler) StopCycling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycling = false
	if c.timer != nil {
		c.timer.Stop()
	}
}

// CurrentFrequency returns the presently-targeted frequency, if any.
func (c *FrequencyCycler) CurrentFrequency() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.validFreqs) == 0 {
		return 0, false
	}
	return c.validFreqs[c.currentIndex], true
}

// InTransition reports whether a switch is currently in flight.
func (c *FrequencyCycler) InTransition() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTransition
}
