package internal

import (
	"context"
	"errors"
	"time"

	"github.com/aaustin-1965/adapter-change-management/internal/connector"
)

const (
	HibernatingMessage = connector.HibernatingMessage
	AwakeMessage       = "Service Now instance is awake"
)

// ErrHibernating is returned by a healthcheck when the instance answered with its hibernation page.
var ErrHibernating = errors.New(HibernatingMessage)

// Connector performs the actual requests against the remote table.
type Connector interface {
	Get(ctx context.Context) (any, error)
	Post(ctx context.Context) (any, error)
}

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// EventSink receives every status event an adapter emits.
type EventSink interface {
	Emit(event StatusEvent)
}

// Reachability probes the network path to an instance. It never affects emitted status events.
type Reachability interface {
	Name() string
	IsReachable(ctx context.Context) (bool, error)
}

// Status is the availability of an instance as reported by its adapter.
type Status int

const (
	StatusUnknown Status = iota
	StatusOnline
	StatusOffline
	StatusDegraded
)

var statusNames = map[Status]string{
	StatusUnknown:  "UNKNOWN",
	StatusOnline:   "ONLINE",
	StatusOffline:  "OFFLINE",
	StatusDegraded: "DEGRADED",
}

// Statuses lists every status an adapter can emit.
var Statuses = []Status{StatusOnline, StatusOffline, StatusDegraded}

func (s Status) String() string {
	name, found := statusNames[s]
	if !found {
		return statusNames[StatusUnknown]
	}
	return name
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return errors.New("unknown status " + string(text))
}

// StatusEvent tags an adapter id with the status it emitted.
type StatusEvent struct {
	Status Status    `json:"status"`
	Id     string    `json:"id"`
	Time   time.Time `json:"time"`
}

// NewStatusEvent returns an event stamped with the current time.
func NewStatusEvent(status Status, id string) StatusEvent {
	return StatusEvent{
		Status: status,
		Id:     id,
		Time:   time.Now(),
	}
}
