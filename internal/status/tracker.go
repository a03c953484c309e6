package status

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aaustin-1965/adapter-change-management/internal"
	"github.com/aaustin-1965/adapter-change-management/internal/metrics"
)

type entry struct {
	status           internal.Status
	lastStatusChange time.Time
}

// Tracker remembers the last status each adapter emitted. It does not influence what adapters emit.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*entry),
	}
}

// Observe is meant to be registered as a Subscriber.
func (t *Tracker) Observe(event internal.StatusEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, found := t.entries[event.Id]
	if !found {
		current = &entry{status: internal.StatusUnknown}
		t.entries[event.Id] = current
	}

	for _, status := range internal.Statuses {
		var val float64 = 0
		if event.Status == status {
			val = 1
		}
		metrics.Status.WithLabelValues(event.Id, status.String()).Set(val)
	}

	if current.status == event.Status {
		return
	}

	metrics.StatusChangeTimestamp.WithLabelValues(event.Id).Set(float64(event.Time.Unix()))
	slog.Info("Status change", "id", event.Id, "old", current.status, "new", event.Status)
	current.status = event.Status
	current.lastStatusChange = event.Time
}

// Get returns the last observed status of the adapter, StatusUnknown if it never emitted one.
func (t *Tracker) Get(id string) internal.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	current, found := t.entries[id]
	if !found {
		return internal.StatusUnknown
	}
	return current.status
}

func (t *Tracker) LastStatusChange(id string) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	current, found := t.entries[id]
	if !found {
		return time.Time{}
	}
	return current.lastStatusChange
}
