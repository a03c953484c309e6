package events

import (
	"errors"
	"sync"

	"github.com/aaustin-1965/adapter-change-management/internal"
	"github.com/aaustin-1965/adapter-change-management/internal/metrics"
)

type Subscriber func(event internal.StatusEvent)

type subscription struct {
	id uint64
	fn Subscriber
}

// Dispatcher delivers every emitted status event to all subscribers, synchronously and in
// registration order.
type Dispatcher struct {
	mu   sync.RWMutex
	seq  uint64
	subs []subscription
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers fn and returns a func that removes it again.
func (d *Dispatcher) Subscribe(fn Subscriber) (func(), error) {
	if fn == nil {
		return nil, errors.New("nil subscriber supplied")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	id := d.seq
	d.subs = append(d.subs, subscription{id: id, fn: fn})

	return func() {
		d.unsubscribe(id)
	}, nil
}

func (d *Dispatcher) unsubscribe(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, sub := range d.subs {
		if sub.id == id {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) Emit(event internal.StatusEvent) {
	metrics.Events.WithLabelValues(event.Id, event.Status.String()).Inc()

	d.mu.RLock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(event)
	}
}
