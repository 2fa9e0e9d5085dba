package main

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// EventType names one of the outbound push event kinds from spec.md §6.
type EventType string

const (
	EventStatus         EventType = "status"
	EventSweepData      EventType = "sweep_data"
	EventSignalDetected EventType = "signal_detected"
	EventPeaks          EventType = "peaks"
	EventConfigUpdate   EventType = "config_update"
	EventError          EventType = "error"
	EventHeartbeat      EventType = "heartbeat"
	EventDegraded       EventType = "degraded"
	EventLagged         EventType = "lagged"
)

// PushEvent is one envelope delivered to a subscriber.
type PushEvent struct {
	Type      EventType   `json:"type"`
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Subscriber is one push-channel consumer with a bounded inbox, matching
// the teacher's per-connection-goroutine shape in websocket.go.
type Subscriber struct {
	ID     string
	inbox  chan PushEvent
	seq    uint64
	maxQ   int
	dropped uint64

	send func(PushEvent) error // transport-specific delivery (WS write, etc)

	stopCh chan struct{}
	once   sync.Once
}

// PushDeliveryLayer fans out status, frames, detections, and errors to
// subscribers with backpressure, one goroutine per subscriber draining a
// bounded inbox.
type PushDeliveryLayer struct {
	cfg PushConfig

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	zstdEncoder *zstd.Encoder

	nowFunc func() time.Time
}

// NewPushDeliveryLayer builds a delivery layer from config. zstd encoding
// is lazily initialized on the first compressed encodeCompact call; no
// subscriber transport in this package makes one.
func NewPushDeliveryLayer(cfg PushConfig) *PushDeliveryLayer {
	return &PushDeliveryLayer{
		cfg:         cfg,
		subscribers: make(map[string]*Subscriber),
		nowFunc:     time.Now,
	}
}

// Subscribe registers a new subscriber whose delivery is performed by send.
// Returns the subscriber handle; the caller's send implementation decides
// transport framing (WS text/binary, etc).
func (p *PushDeliveryLayer) Subscribe(send func(PushEvent) error) *Subscriber {
	s := &Subscriber{
		ID:     uuid.NewString(),
		inbox:  make(chan PushEvent, p.cfg.SubscriberMaxQueue),
		maxQ:   p.cfg.SubscriberMaxQueue,
		send:   send,
		stopCh: make(chan struct{}),
	}

	p.mu.Lock()
	p.subscribers[s.ID] = s
	p.mu.Unlock()

	go p.pushWorker(s)
	return s
}

// Unsubscribe removes and stops a subscriber's push worker.
func (p *PushDeliveryLayer) Unsubscribe(id string) {
	p.mu.Lock()
	s, ok := p.subscribers[id]
	delete(p.subscribers, id)
	p.mu.Unlock()
	if ok {
		s.once.Do(func() { close(s.stopCh) })
	}
}

// pushWorker is the per-subscriber cooperative worker draining its inbox.
func (p *PushDeliveryLayer) pushWorker(s *Subscriber) {
	for {
		select {
		case ev := <-s.inbox:
			if err := s.send(ev); err != nil {
				p.Unsubscribe(s.ID)
				return
			}
		case <-s.stopCh:
			return
		}
	}
}

// publish enqueues ev on every subscriber, dropping the oldest non-status
// event and emitting a lagged(n) marker when a subscriber's queue is full.
// Status events are never dropped.
func (p *PushDeliveryLayer) publish(evType EventType, payload interface{}) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, s := range p.subscribers {
		seq := atomic.AddUint64(&s.seq, 1)
		ev := PushEvent{Type: evType, Seq: seq, Timestamp: p.nowFunc(), Payload: payload}
		p.enqueue(s, ev)
	}
}

func (p *PushDeliveryLayer) enqueue(s *Subscriber, ev PushEvent) {
	if ev.Type == EventStatus {
		// Status events are never dropped: block-free send via a
		// temporarily larger attempt, falling back to a forced drain of
		// one queued item if truly full.
		select {
		case s.inbox <- ev:
			return
		default:
			select {
			case <-s.inbox:
				atomic.AddUint64(&s.dropped, 1)
			default:
			}
			s.inbox <- ev
			return
		}
	}

	select {
	case s.inbox <- ev:
	default:
		// Drop the two oldest queued events: one slot for ev, one for the
		// lagged marker.
		for i := 0; i < 2; i++ {
			select {
			case <-s.inbox:
				atomic.AddUint64(&s.dropped, 1)
			default:
			}
		}
		select {
		case s.inbox <- ev:
		default:
		}
		dropped := atomic.LoadUint64(&s.dropped)
		laggedSeq := atomic.AddUint64(&s.seq, 1)
		select {
		case s.inbox <- (PushEvent{Type: EventLagged, Seq: laggedSeq, Timestamp: p.nowFunc(), Payload: map[string]uint64{"dropped": dropped}}):
		default:
		}
	}
}

// PublishFrame delivers a sweep_data event derived from an analyzed frame.
func (p *PushDeliveryLayer) PublishFrame(f SpectrumFrame, out AnalyzerOutput) {
	p.publish(EventSweepData, struct {
		Frame   SpectrumFrame  `json:"frame"`
		Analysis AnalyzerOutput `json:"analysis"`
	}{f, out})
}

// PublishDetection delivers a signal_detected event.
func (p *PushDeliveryLayer) PublishDetection(det SignalDetection) {
	p.publish(EventSignalDetected, det)
}

// PublishStatus delivers a status event. Never dropped by backpressure.
func (p *PushDeliveryLayer) PublishStatus(status HackRFStatus) {
	p.publish(EventStatus, status)
}

// PublishError delivers a terminal or informational error event.
func (p *PushDeliveryLayer) PublishError(te TrackedError) {
	p.publish(EventError, te)
}

// PublishDegraded marks a service as degraded.
func (p *PushDeliveryLayer) PublishDegraded(service string) {
	p.publish(EventDegraded, map[string]string{"service": service})
}

// Heartbeat sends a heartbeat event to every subscriber; intended to be
// called on a heartbeatInterval ticker.
func (p *PushDeliveryLayer) Heartbeat() {
	p.publish(EventHeartbeat, nil)
}

// SubscriberCount reports how many subscribers are currently registered.
func (p *PushDeliveryLayer) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

// encodeCompact marshals an event to JSON, optionally zstd-compressed when
// the caller's transport negotiated binary framing (mirrors the teacher's
// pcm_binary.go use of klauspost/compress).
func (p *PushDeliveryLayer) encodeCompact(ev PushEvent, compressed bool) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	if !compressed {
		return data, nil
	}

	p.mu.Lock()
	if p.zstdEncoder == nil {
		enc, encErr := zstd.NewWriter(nil)
		if encErr != nil {
			p.mu.Unlock()
			return data, nil
		}
		p.zstdEncoder = enc
	}
	enc := p.zstdEncoder
	p.mu.Unlock()

	return enc.EncodeAll(data, nil), nil
}
