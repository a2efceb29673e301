// Package hub implements the broadcast fan-out primitive: one publisher
// slot, N subscribers, bounded per-subscriber queues with a configurable
// overflow policy.
package hub

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPublisherActive is returned by AcquirePublisher while another publisher
// holds the slot.
var ErrPublisherActive = errors.New("hub: publisher slot already held")

// DefaultQueueDepth is the per-subscriber frame queue size.
const DefaultQueueDepth = 32

// Policy selects what happens when a subscriber's queue is full.
type Policy int

const (
	// DropOldest evicts the oldest queued frame to make room. Subscribers
	// fall behind by losing history, never by blocking the publisher.
	DropOldest Policy = iota

	// Disconnect removes the slow subscriber from the hub entirely.
	Disconnect
)

// FrameKind distinguishes websocket text payloads from binary audio.
type FrameKind int

const (
	// FrameText is a JSON control or translation message.
	FrameText FrameKind = iota

	// FrameAudio is a synthesized audio clip.
	FrameAudio
)

// Frame is one unit of fan-out delivery.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Option configures a Hub during construction.
type Option func(*Hub)

// WithQueueDepth sets the per-subscriber queue size.
func WithQueueDepth(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.depth = n
		}
	}
}

// WithPolicy sets the overflow policy. Default is DropOldest.
func WithPolicy(p Policy) Option {
	return func(h *Hub) {
		h.policy = p
	}
}

// Hub fans frames out from a single publisher to the current subscriber set.
// Publish preserves per-subscriber order; there is no ordering barrier
// across subscribers. All methods are safe for concurrent use, but only one
// goroutine may hold the publisher slot at a time.
type Hub struct {
	depth  int
	policy Policy

	mu        sync.RWMutex
	subs      map[uint64]*Subscriber
	nextID    uint64
	publisher bool

	dropped atomic.Uint64
}

// New creates an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		depth:  DefaultQueueDepth,
		policy: DropOldest,
		subs:   make(map[uint64]*Subscriber),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscriber is a handle to one fan-out consumer. Read frames from Frames;
// Done is signalled when the hub disconnects the subscriber.
type Subscriber struct {
	id  uint64
	hub *Hub

	frames chan Frame
	done   chan struct{}

	closeOnce sync.Once
	dropped   atomic.Uint64
}

// Subscribe registers a new subscriber with an empty queue.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &Subscriber{
		id:     h.nextID,
		hub:    h,
		frames: make(chan Frame, h.depth),
		done:   make(chan struct{}),
	}
	h.subs[s.id] = s
	return s
}

// Unsubscribe removes the subscriber and signals its Done channel.
// Idempotent.
func (h *Hub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	h.mu.Lock()
	delete(h.subs, s.id)
	h.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

// Publish delivers the frame to every current subscriber. The subscriber set
// is snapshotted under a read lock so no lock is held across queue sends.
func (h *Hub) Publish(f Frame) {
	h.mu.RLock()
	snapshot := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	shared := len(snapshot) > 1
	for _, s := range snapshot {
		out := f
		if shared && f.Data != nil {
			out.Data = append([]byte(nil), f.Data...)
		}
		h.deliver(s, out)
	}
}

func (h *Hub) deliver(s *Subscriber, f Frame) {
	select {
	case s.frames <- f:
		return
	default:
	}

	switch h.policy {
	case Disconnect:
		s.dropped.Add(1)
		h.dropped.Add(1)
		h.Unsubscribe(s)
	default:
		// Evict the oldest frame. The queue can drain concurrently, so
		// retry once; if it filled again in between, drop the new frame.
		select {
		case <-s.frames:
		default:
		}
		s.dropped.Add(1)
		h.dropped.Add(1)
		select {
		case s.frames <- f:
		default:
		}
	}
}

// Flush discards every queued frame in every subscriber. Used when a stop
// control message must take effect immediately.
func (h *Hub) Flush() {
	h.mu.RLock()
	snapshot := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	for _, s := range snapshot {
		for {
			select {
			case <-s.frames:
			default:
			}
			if len(s.frames) == 0 {
				break
			}
		}
	}
}

// Len reports the current subscriber count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports the total number of frames lost to overflow across all
// subscribers since the hub was created.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// AcquirePublisher claims the single producer slot.
func (h *Hub) AcquirePublisher() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.publisher {
		return ErrPublisherActive
	}
	h.publisher = true
	return nil
}

// ReleasePublisher frees the producer slot. Idempotent.
func (h *Hub) ReleasePublisher() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publisher = false
}

// Frames returns the subscriber's delivery queue.
func (s *Subscriber) Frames() <-chan Frame {
	return s.frames
}

// Done is signalled when the hub removes this subscriber.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Dropped reports frames this subscriber lost to overflow.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}
