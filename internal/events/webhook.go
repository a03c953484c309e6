package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aaustin-1965/adapter-change-management/internal"
	"github.com/aaustin-1965/adapter-change-management/internal/metrics"
)

const (
	defaultWebhookTimeout   = 5 * time.Second
	defaultWebhookQueueSize = 64
)

// Webhook forwards status events as json to the orchestration platform. Events are queued by Notify and
// delivered by the worker started with Start.
type Webhook struct {
	endpoint   string
	httpClient *http.Client
	queue      chan internal.StatusEvent
}

func NewWebhook(endpoint string) (*Webhook, error) {
	if endpoint == "" {
		return nil, errors.New("empty endpoint supplied")
	}

	return &Webhook{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: defaultWebhookTimeout,
		},
		queue: make(chan internal.StatusEvent, defaultWebhookQueueSize),
	}, nil
}

// Notify is meant to be registered as a Subscriber. It never blocks, events are dropped if the queue is full.
func (w *Webhook) Notify(event internal.StatusEvent) {
	select {
	case w.queue <- event:
	default:
		metrics.Errors.WithLabelValues(event.Id, "webhook_queue_full").Inc()
		slog.Warn("webhook queue is full, dropping event", "id", event.Id, "status", event.Status)
	}
}

// Start delivers queued events until ctx is done. Events still queued at that point are discarded.
func (w *Webhook) Start(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.queue:
			// events emitted while shutting down stem from cancelled requests
			if ctx.Err() != nil {
				return
			}
			w.deliver(ctx, event)
		}
	}
}

func (w *Webhook) deliver(ctx context.Context, event internal.StatusEvent) {
	ctx, cancel := context.WithTimeout(ctx, defaultWebhookTimeout)
	defer cancel()

	if err := w.send(ctx, event); err != nil {
		metrics.Errors.WithLabelValues(event.Id, "webhook").Inc()
		slog.Error("could not notify webhook", "id", event.Id, "status", event.Status, "err", err)
	}
}

func (w *Webhook) send(ctx context.Context, event internal.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook answered with status code %d", resp.StatusCode)
	}
	return nil
}
