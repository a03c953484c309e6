package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aaustin-1965/adapter-change-management/internal/conf"
	"github.com/aaustin-1965/adapter-change-management/internal/connector"
	"github.com/aaustin-1965/adapter-change-management/internal/metrics"
)

const (
	operationGet  = "get"
	operationPost = "post"
)

// Adapter exposes the lifecycle and record operations of a single ServiceNow table.
type Adapter struct {
	id        string
	props     conf.AdapterConfig
	connector Connector
	sink      EventSink
	log       Logger
}

type AdapterOpt func(*Adapter) error

// WithConnector replaces the ServiceNow connector built from the adapter's properties.
func WithConnector(c Connector) AdapterOpt {
	return func(a *Adapter) error {
		if c == nil {
			return errors.New("nil connector supplied")
		}
		a.connector = c
		return nil
	}
}

func WithLogger(logger Logger) AdapterOpt {
	return func(a *Adapter) error {
		if logger == nil {
			return errors.New("nil logger supplied")
		}
		a.log = logger
		return nil
	}
}

func NewAdapter(id string, props conf.AdapterConfig, sink EventSink, opts ...AdapterOpt) (*Adapter, error) {
	if id == "" {
		return nil, errors.New("empty id supplied")
	}

	if sink == nil {
		return nil, errors.New("nil sink supplied")
	}

	a := &Adapter{
		id:    id,
		props: props,
		sink:  sink,
		log:   slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	if a.connector == nil {
		password, err := props.Auth.ResolvePassword()
		if err != nil {
			return nil, err
		}

		a.connector, err = connector.NewServiceNow(connector.Options{
			Url:             props.Url,
			Username:        props.Auth.Username,
			Password:        password,
			ServiceNowTable: props.ServiceNowTable,
			Timeout:         props.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("could not build connector: %w", err)
		}
	}

	return a, nil
}

func (a *Adapter) Id() string {
	return a.id
}

func (a *Adapter) Properties() conf.AdapterConfig {
	return a.props
}

// Connect runs a single healthcheck and discards its outcome, only the emitted status is observable.
func (a *Adapter) Connect(ctx context.Context) {
	_, _ = a.Healthcheck(ctx)
}

// Healthcheck reads from the remote table once and classifies the outcome. It returns AwakeMessage if the
// instance answered, the connector's error if the read failed or ErrHibernating if the instance is
// hibernating. Exactly one status event is emitted per invocation.
func (a *Adapter) Healthcheck(ctx context.Context) (string, error) {
	result, err := a.call(ctx, a.connector.Get)

	if err != nil {
		a.EmitOffline()
		a.log.Error("healthcheck failed, emitting OFFLINE", "id", a.id, "err", err)
		metrics.Healthchecks.WithLabelValues(a.id, "error").Inc()
		return "", err
	}

	if msg, ok := result.(string); ok && msg == HibernatingMessage {
		a.EmitOffline()
		a.log.Error("instance is hibernating, emitting OFFLINE", "id", a.id)
		metrics.Healthchecks.WithLabelValues(a.id, "hibernating").Inc()
		return "", ErrHibernating
	}

	a.EmitOnline()
	a.log.Debug("healthcheck succeeded, emitting ONLINE", "id", a.id)
	metrics.Healthchecks.WithLabelValues(a.id, "awake").Inc()
	return AwakeMessage, nil
}

func (a *Adapter) EmitOnline() {
	a.emit(StatusOnline)
	a.log.Info("Emitting ONLINE", "id", a.id)
}

func (a *Adapter) EmitOffline() {
	a.emit(StatusOffline)
	a.log.Warn("Emitting OFFLINE", "id", a.id)
}

// EmitDegraded is never triggered by Healthcheck, hibernation is reported as OFFLINE.
func (a *Adapter) EmitDegraded() {
	a.emit(StatusDegraded)
	a.log.Info("Emitting DEGRADED", "id", a.id)
}

func (a *Adapter) emit(status Status) {
	a.sink.Emit(NewStatusEvent(status, a.id))
}

// GetRecord returns the connector's read result and error unchanged.
func (a *Adapter) GetRecord(ctx context.Context) (any, error) {
	result, err := a.call(ctx, a.connector.Get)
	a.countRecordRequest(operationGet, err)
	return result, err
}

// PostRecord returns the connector's create result and error unchanged.
func (a *Adapter) PostRecord(ctx context.Context) (any, error) {
	result, err := a.call(ctx, a.connector.Post)
	a.countRecordRequest(operationPost, err)
	return result, err
}

func (a *Adapter) countRecordRequest(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.RecordRequests.WithLabelValues(a.id, operation, result).Inc()
}

// call keeps panics of the connector from escaping the adapter.
func (a *Adapter) call(ctx context.Context, op func(context.Context) (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Errors.WithLabelValues(a.id, "connector_panic").Inc()
			result = nil
			err = fmt.Errorf("connector panicked: %v", r)
		}
	}()

	return op(ctx)
}
