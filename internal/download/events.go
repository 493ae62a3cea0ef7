package download

import (
	"sync"

	"github.com/handiism/dlmanager/internal/model"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventStateChanged reports a task entering a new state. A task that
	// was deleted reports model.StateNotInList.
	EventStateChanged EventKind = iota

	// EventProgress reports new byte counters for a downloading task.
	EventProgress

	// EventCompleted reports the end of a transfer attempt, successful or
	// not. Err is nil on success.
	EventCompleted

	// EventActiveChanged reports that the set of downloading tasks changed.
	EventActiveChanged

	// EventLimitChanged reports a new effective concurrency cap.
	EventLimitChanged

	// EventIdle reports that nothing is downloading or waiting anymore.
	EventIdle

	// EventAggregate is the periodic summary emitted by Run.
	EventAggregate
)

var eventKindNames = [...]string{
	EventStateChanged:  "state_changed",
	EventProgress:      "progress",
	EventCompleted:     "completed",
	EventActiveChanged: "active_changed",
	EventLimitChanged:  "limit_changed",
	EventIdle:          "idle",
	EventAggregate:     "aggregate",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event is a notification from the manager. Which fields are set depends
// on Kind.
type Event struct {
	Kind EventKind

	// Key and State are set for task events.
	Key   string
	State model.State

	// Received and Expected are byte counters. For EventAggregate they are
	// summed over all downloading tasks.
	Received int64
	Expected int64

	// Location and Err are set for EventCompleted.
	Location string
	Err      error

	// Active and Waiting count the downloading and queued tasks.
	Active  int
	Waiting int

	// Limit is the effective cap for EventLimitChanged and EventAggregate.
	Limit int

	// handler is the single-use handler of the task, if it had one.
	handler CompletionHandler
}

// Completion is passed to completion handlers.
type Completion struct {
	Key      string
	Location string
	Err      error
}

// CompletionHandler is called when a transfer attempt of a task ends.
type CompletionHandler func(Completion)

// Subscription is a registered callback. Unsubscribe stops deliveries.
type Subscription struct {
	d  *dispatcher
	id uint64
}

// Unsubscribe removes the callback. Events already being delivered may
// still reach it.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.d.remove(s.id)
}

// dispatcher delivers events in order from a single goroutine. Posting
// never blocks, so events can be posted while the store lock is held.
type dispatcher struct {
	mu          sync.Mutex
	cond        *sync.Cond
	pending     []Event
	busy        bool
	closed      bool
	nextID      uint64
	subscribers map[uint64]func(Event)
	fallbacks   map[uint64]CompletionHandler
	order       []uint64
	done        chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		subscribers: make(map[uint64]func(Event)),
		fallbacks:   make(map[uint64]CompletionHandler),
		done:        make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

func (d *dispatcher) subscribe(fn func(Event)) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.subscribers[d.nextID] = fn
	d.order = append(d.order, d.nextID)
	return &Subscription{d: d, id: d.nextID}
}

func (d *dispatcher) onCompletion(fn CompletionHandler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.fallbacks[d.nextID] = fn
	d.order = append(d.order, d.nextID)
	return &Subscription{d: d, id: d.nextID}
}

func (d *dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscribers, id)
	delete(d.fallbacks, id)
	for i, v := range d.order {
		if v == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

func (d *dispatcher) post(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending = append(d.pending, ev)
	d.cond.Broadcast()
}

// flush blocks until every event posted so far has been delivered.
func (d *dispatcher) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.pending) > 0 || d.busy {
		d.cond.Wait()
	}
}

// close delivers the remaining events and stops the loop.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.pending) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.pending) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.pending
		d.pending = nil
		d.busy = true
		var subs []func(Event)
		var fallbacks []CompletionHandler
		for _, id := range d.order {
			if fn, ok := d.subscribers[id]; ok {
				subs = append(subs, fn)
			} else if fn, ok := d.fallbacks[id]; ok {
				fallbacks = append(fallbacks, fn)
			}
		}
		d.mu.Unlock()

		for _, ev := range batch {
			d.deliver(ev, subs, fallbacks)
		}

		d.mu.Lock()
		d.busy = false
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

func (d *dispatcher) deliver(ev Event, subs []func(Event), fallbacks []CompletionHandler) {
	if ev.Kind == EventCompleted {
		c := Completion{Key: ev.Key, Location: ev.Location, Err: ev.Err}
		if ev.handler != nil {
			ev.handler(c)
		} else {
			for _, fn := range fallbacks {
				fn(c)
			}
		}
		ev.handler = nil
	}
	for _, fn := range subs {
		fn(ev)
	}
}
