// Package eventsink implements the Event Sink (C1): a lossy, non-blocking
// publish/subscribe fabric that streams thought tokens, agent messages,
// tool activity, cycle updates, and lifecycle transitions to observers
// keyed by client id.
package eventsink

import (
	"sync"
	"sync/atomic"

	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// DefaultQueueSize is the default bounded per-subscriber queue depth.
const DefaultQueueSize = 256

// Handler receives events for one subscriber. It runs on that
// subscriber's own drain goroutine (see subscriber.run), never on the
// publisher's goroutine, so a slow or blocking handler only ever stalls
// its own backlog.
type Handler func(convo.Event)

// Sink fans events out to subscribers. Publish never blocks the caller:
// it only ever enqueues onto a bounded per-subscriber queue (dropping the
// oldest queued event to make room, incrementing that subscriber's drop
// counter) and wakes that subscriber's drain goroutine; the handler call
// itself always happens later, off the publisher's call stack.
type Sink struct {
	mu       sync.RWMutex
	subs     map[string]*subscriber
	queueCap int
	seq      atomic.Uint64
}

type subscriber struct {
	mu      sync.Mutex
	queue   []convo.Event
	handler Handler
	dropped atomic.Uint64

	wake chan struct{}
	stop chan struct{}
}

// New returns a Sink with the given bounded per-subscriber queue depth.
// A depth of 0 uses DefaultQueueSize.
func New(queueCap int) *Sink {
	if queueCap <= 0 {
		queueCap = DefaultQueueSize
	}
	return &Sink{
		subs:     make(map[string]*subscriber),
		queueCap: queueCap,
	}
}

// Subscribe registers handler under clientID. A later Subscribe with the
// same clientID stops the previous subscriber's drain goroutine and
// replaces it.
func (s *Sink) Subscribe(clientID string, handler Handler) {
	sub := &subscriber{
		handler: handler,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}

	s.mu.Lock()
	old, existed := s.subs[clientID]
	s.subs[clientID] = sub
	s.mu.Unlock()

	if existed {
		close(old.stop)
	}
	go sub.run()
}

// Unsubscribe removes clientID and stops its drain goroutine. It is a
// no-op if clientID is not present.
func (s *Sink) Unsubscribe(clientID string) {
	s.mu.Lock()
	sub, ok := s.subs[clientID]
	delete(s.subs, clientID)
	s.mu.Unlock()
	if ok {
		close(sub.stop)
	}
}

// DroppedCount reports how many events have been dropped for clientID due
// to backpressure. Returns 0 if clientID is not subscribed.
func (s *Sink) DroppedCount(clientID string) uint64 {
	s.mu.RLock()
	sub, ok := s.subs[clientID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return sub.dropped.Load()
}

// Publish delivers e to every live subscriber. It never blocks: handing
// e to a subscriber is a bounded-queue enqueue plus a non-blocking wake
// signal, never a direct handler call, so a slow subscriber's own
// drain goroutine is what stalls — never this call, and never another
// subscriber's delivery.
func (s *Sink) Publish(e convo.Event) {
	e.Sequence = s.seq.Add(1)

	s.mu.RLock()
	snapshot := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		snapshot = append(snapshot, sub)
	}
	s.mu.RUnlock()

	for _, sub := range snapshot {
		sub.enqueue(e, s.queueCap)
	}
}

// enqueue appends e to this subscriber's queue, dropping the oldest
// queued event first if already at capacity, then wakes run's drain
// loop. The per-subscriber lock is only ever held for this bookkeeping,
// never across a handler call.
func (sub *subscriber) enqueue(e convo.Event, cap int) {
	sub.mu.Lock()
	if len(sub.queue) >= cap {
		sub.queue = sub.queue[1:]
		sub.dropped.Add(1)
	}
	sub.queue = append(sub.queue, e)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

// run is this subscriber's dedicated drain goroutine: one per
// subscription, for its whole lifetime, so handler calls for this
// subscriber are strictly ordered relative to each other while never
// sharing a goroutine with the publisher or with any other subscriber.
func (sub *subscriber) run() {
	for {
		select {
		case <-sub.stop:
			return
		case <-sub.wake:
			sub.drain()
		}
	}
}

// drain pops and invokes every event queued as of this call, re-checking
// the queue under lock between invocations so a concurrent enqueue is
// never missed between the wake signal and the handler returning.
func (sub *subscriber) drain() {
	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			sub.mu.Unlock()
			return
		}
		next := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		sub.invoke(next)
	}
}

// invoke calls the handler, recovering from a panicking subscriber so one
// bad observer can never take down its own drain goroutine, let alone
// publication to the rest.
func (sub *subscriber) invoke(e convo.Event) {
	defer func() {
		_ = recover()
	}()
	if sub.handler != nil {
		sub.handler(e)
	}
}
