// Package watch delivers change notifications for applied writes.
//
// The registry satisfies the store's Notifier interface. Delivery is
// asynchronous on a single dispatcher goroutine, so a slow subscriber never
// stalls a writer. Events for one object arrive in apply order; there is no
// ordering guarantee across objects.
package watch

import (
	"sync"

	"github.com/hupe1980/factgo/core"
	"github.com/hupe1980/factgo/model"
)

// Event is a single applied write delivered to a subscriber. Record is the
// winning state; a tombstone arrives with Record.Deleted set.
type Event struct {
	Record model.Record
}

// Handler is invoked on the dispatcher goroutine for each event. Handlers
// must not block for long; they run in series.
type Handler func(e Event)

// Subscription is a handle to one registered handler.
type Subscription struct {
	reg *Registry
	id  core.ID
	seq uint64
}

// Cancel removes the subscription. After Cancel returns no further events
// are enqueued for it; an event already queued may still be delivered.
func (s *Subscription) Cancel() {
	if s.reg != nil {
		s.reg.cancel(s.id, s.seq)
		s.reg = nil
	}
}

// Registry fans applied writes out to subscribers.
//
// A subscription on an object id receives that object's events. A
// subscription on an entity id additionally receives events for the atoms
// and links owned by that entity.
type Registry struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[core.ID]map[uint64]Handler
	queue  []Event
	cond   *sync.Cond
	closed bool
	done   chan struct{}
}

// NewRegistry creates a registry and starts its dispatcher goroutine.
func NewRegistry() *Registry {
	r := &Registry{
		subs: make(map[core.ID]map[uint64]Handler),
		done: make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)

	go r.dispatch()

	return r
}

// Subscribe registers fn for writes to the given id. The returned
// subscription stays active until Cancel or Close.
func (r *Registry) Subscribe(id core.ID, fn Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	handlers, ok := r.subs[id]
	if !ok {
		handlers = make(map[uint64]Handler)
		r.subs[id] = handlers
	}
	handlers[r.seq] = fn

	return &Subscription{reg: r, id: id, seq: r.seq}
}

// Publish enqueues an applied write for delivery. It never blocks on
// subscribers. Safe to call from the store's write path.
func (r *Registry) Publish(rec model.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.queue = append(r.queue, Event{Record: rec})
	r.cond.Signal()
}

// Close stops the dispatcher after draining queued events. Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.cond.Signal()
	r.mu.Unlock()

	<-r.done
}

func (r *Registry) cancel(id core.ID, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if handlers, ok := r.subs[id]; ok {
		delete(handlers, seq)
		if len(handlers) == 0 {
			delete(r.subs, id)
		}
	}
}

func (r *Registry) dispatch() {
	defer close(r.done)

	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.cond.Wait()
		}
		if len(r.queue) == 0 && r.closed {
			r.mu.Unlock()
			return
		}
		e := r.queue[0]
		r.queue = r.queue[1:]
		handlers := r.handlersForLocked(e.Record)
		r.mu.Unlock()

		for _, fn := range handlers {
			fn(e)
		}
	}
}

// handlersForLocked snapshots the handlers interested in the record: direct
// subscribers on its id plus, for atoms and links, subscribers on the
// owning entity. Caller must hold r.mu.
func (r *Registry) handlersForLocked(rec model.Record) []Handler {
	var out []Handler
	for _, fn := range r.subs[rec.ID] {
		out = append(out, fn)
	}
	if rec.Kind != model.KindEntity && rec.Owner != rec.ID {
		for _, fn := range r.subs[rec.Owner] {
			out = append(out, fn)
		}
	}
	return out
}
