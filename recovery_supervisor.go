package main

import (
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

// RecoveryStrategy is one registered C8 recovery action.
type RecoveryStrategy struct {
	Name        string
	Applies     func(te TrackedError) bool
	MaxAttempts int
	Cooldown    time.Duration
	Run         func(c *SweepController) error
}

func defaultStrategies() []RecoveryStrategy {
	return []RecoveryStrategy{
		{
			Name: "Service Restart",
			Applies: func(te TrackedError) bool {
				return te.Severity == SeverityHigh || te.Severity == SeverityCritical
			},
			MaxAttempts: 3,
			Cooldown:    30 * time.Second,
			Run: func(c *SweepController) error {
				c.ForceCleanup()
				target, ok := c.cycler.CurrentFrequency()
				if !ok {
					return c.StartSweep(c.cfg.Frequencies, time.Duration(c.cfg.CycleTimeMs)*time.Millisecond)
				}
				return c.StartSweep([]uint64{target}, time.Duration(c.cfg.CycleTimeMs)*time.Millisecond)
			},
		},
		{
			Name: "Connection Retry",
			Applies: func(te TrackedError) bool {
				lower := strings.ToLower(te.Message)
				return strings.Contains(lower, "connection") || strings.Contains(lower, "disconnected") || strings.Contains(lower, "websocket")
			},
			MaxAttempts: 5,
			Cooldown:    5 * time.Second,
			Run: func(c *SweepController) error {
				return nil // reconnection is handled by the push/MQTT transport layer itself
			},
		},
		{
			Name: "Clear and Reset",
			Applies: func(te TrackedError) bool {
				if te.Kind == KindStreamStale {
					return true
				}
				lower := strings.ToLower(te.Message)
				return strings.Contains(lower, "state") || strings.Contains(lower, "corrupt") || strings.Contains(lower, "invalid")
			},
			MaxAttempts: 2,
			Cooldown:    10 * time.Second,
			Run: func(c *SweepController) error {
				target, hasFreq := c.cycler.CurrentFrequency()
				if err := c.EmergencyStop(); err != nil {
					return err
				}
				if !hasFreq {
					return nil
				}
				return c.StartSweep([]uint64{target}, time.Duration(c.cfg.CycleTimeMs)*time.Millisecond)
			},
		},
		{
			Name: "Fallback Mode",
			Applies: func(te TrackedError) bool {
				return te.Severity == SeverityCritical
			},
			MaxAttempts: 1,
			Cooldown:    60 * time.Second,
			Run: func(c *SweepController) error {
				return nil // degraded status is published by the supervisor itself
			},
		},
	}
}

type serviceRecoveryState struct {
	breaker      CircuitBreaker
	attempts     map[string]int // strategy name -> attempts used
	lastAttempt  map[string]time.Time
	backoffState *backoff.ExponentialBackOff
}

// RecoverySupervisor applies registered strategies per service with
// per-service circuit breakers, matching spec.md §4.8 exactly.
type RecoverySupervisor struct {
	cfg        RecoveryConfig
	strategies []RecoveryStrategy
	controller *SweepController
	push       *PushDeliveryLayer

	mu       sync.Mutex
	services map[string]*serviceRecoveryState

	nowFunc func() time.Time
}

// NewRecoverySupervisor builds a supervisor wired to the controller it
// recovers and the push layer it reports degraded status through.
func NewRecoverySupervisor(cfg RecoveryConfig, controller *SweepController, push *PushDeliveryLayer) *RecoverySupervisor {
	return &RecoverySupervisor{
		cfg:        cfg,
		strategies: defaultStrategies(),
		controller: controller,
		push:       push,
		services:   make(map[string]*serviceRecoveryState),
		nowFunc:    time.Now,
	}
}

func (r *RecoverySupervisor) stateFor(service string) *serviceRecoveryState {
	s, ok := r.services[service]
	if !ok {
		bo := backoff.NewExponentialBackOff()
		s = &serviceRecoveryState{
			breaker:      CircuitBreaker{Service: service, State: BreakerClosed},
			attempts:     make(map[string]int),
			lastAttempt:  make(map[string]time.Time),
			backoffState: bo,
		}
		r.services[service] = s
	}
	return s
}

// HandleError is the recovery worker's entrypoint: it updates the circuit
// breaker for service, and if the breaker allows it, selects and runs the
// first applicable strategy.
func (r *RecoverySupervisor) HandleError(service string, te TrackedError) {
	r.mu.Lock()
	s := r.stateFor(service)
	now := r.nowFunc()

	r.recordFailureLocked(s, now)

	if s.breaker.State == BreakerOpen {
		if now.Before(s.breaker.NextRetry) {
			r.mu.Unlock()
			return
		}
		s.breaker.State = BreakerHalfOpen
	}
	r.mu.Unlock()

	strategy, ok := r.selectStrategy(te)
	if !ok {
		return
	}

	r.mu.Lock()
	used := s.attempts[strategy.Name]
	last := s.lastAttempt[strategy.Name]
	if used >= strategy.MaxAttempts {
		r.mu.Unlock()
		return
	}
	delay := s.backoffState.NextBackOff()
	if delay > strategy.Cooldown || delay == backoff.Stop {
		delay = strategy.Cooldown
	}
	if now.Sub(last) < delay {
		r.mu.Unlock()
		return
	}
	s.attempts[strategy.Name]++
	s.lastAttempt[strategy.Name] = now
	r.mu.Unlock()

	if strategy.Name == "Fallback Mode" {
		r.push.PublishDegraded(service)
	}

	err := strategy.Run(r.controller)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.recordFailureLocked(s, r.nowFunc())
		return
	}
	s.breaker.State = BreakerClosed
	s.breaker.ConsecutiveFailure = 0
	s.attempts = make(map[string]int)
	s.backoffState.Reset()
}

func (r *RecoverySupervisor) selectStrategy(te TrackedError) (RecoveryStrategy, bool) {
	for _, s := range r.strategies {
		if s.Applies(te) {
			return s, true
		}
	}
	return RecoveryStrategy{}, false
}

func (r *RecoverySupervisor) recordFailureLocked(s *serviceRecoveryState, now time.Time) {
	s.breaker.ConsecutiveFailure++
	s.breaker.LastFailure = now
	if s.breaker.State != BreakerOpen && s.breaker.ConsecutiveFailure >= r.cfg.CircuitBreakerThreshold {
		s.breaker.State = BreakerOpen
		s.breaker.NextRetry = now.Add(time.Duration(r.cfg.CircuitBreakerTimeoutS) * time.Second)
	}
}

// BreakerStates returns a snapshot of every tracked service's breaker state.
func (r *RecoverySupervisor) BreakerStates() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerState, len(r.services))
	for name, s := range r.services {
		out[name] = s.breaker.State
	}
	return out
}

// PruneHistory drops per-service counters untouched for over an hour,
// bounding memory the way spec.md §4.8 requires.
func (r *RecoverySupervisor) PruneHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFunc()
	for name, s := range r.services {
		if now.Sub(s.breaker.LastFailure) > time.Hour {
			delete(r.services, name)
		}
	}
}
