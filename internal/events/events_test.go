package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aaustin-1965/adapter-change-management/internal"
	"github.com/aaustin-1965/adapter-change-management/internal/conf"
)

type awakeConnector struct{}

func (c awakeConnector) Get(_ context.Context) (any, error) {
	return []any{}, nil
}

func (c awakeConnector) Post(_ context.Context) (any, error) {
	return map[string]any{}, nil
}

func mustSubscribe(t *testing.T, d *Dispatcher, fn Subscriber) func() {
	t.Helper()
	unsubscribe, err := d.Subscribe(fn)
	if err != nil {
		t.Fatal(err)
	}
	return unsubscribe
}

func mustNewWebhook(t *testing.T, endpoint string) *Webhook {
	t.Helper()
	webhook, err := NewWebhook(endpoint)
	if err != nil {
		t.Fatal(err)
	}
	return webhook
}

func TestDispatcher_Emit(t *testing.T) {
	d := NewDispatcher()

	var first, second []internal.Status
	mustSubscribe(t, d, func(event internal.StatusEvent) {
		first = append(first, event.Status)
	})
	unsubscribe := mustSubscribe(t, d, func(event internal.StatusEvent) {
		second = append(second, event.Status)
	})

	d.Emit(internal.NewStatusEvent(internal.StatusOnline, "sn"))
	unsubscribe()
	d.Emit(internal.NewStatusEvent(internal.StatusOffline, "sn"))

	wantFirst := []internal.Status{internal.StatusOnline, internal.StatusOffline}
	if !reflect.DeepEqual(first, wantFirst) {
		t.Errorf("first subscriber got %v, want %v", first, wantFirst)
	}

	wantSecond := []internal.Status{internal.StatusOnline}
	if !reflect.DeepEqual(second, wantSecond) {
		t.Errorf("second subscriber got %v, want %v", second, wantSecond)
	}
}

func TestDispatcher_UnsubscribeTwice(t *testing.T) {
	d := NewDispatcher()

	var calls int
	unsubscribe := mustSubscribe(t, d, func(event internal.StatusEvent) {
		calls++
	})
	unsubscribe()
	unsubscribe()

	d.Emit(internal.NewStatusEvent(internal.StatusDegraded, "sn"))
	if calls != 0 {
		t.Errorf("expected no calls, got %d", calls)
	}
}

func TestDispatcher_SubscribeNil(t *testing.T) {
	d := NewDispatcher()
	if _, err := d.Subscribe(nil); err == nil {
		t.Error("expected error for nil subscriber")
	}

	// must not panic
	d.Emit(internal.NewStatusEvent(internal.StatusOnline, "sn"))
}

func TestWebhook_Notify(t *testing.T) {
	received := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("could not decode payload: %v", err)
		}
		received <- payload
	}))
	defer server.Close()

	webhook := mustNewWebhook(t, server.URL)

	ctx, cancel := context.WithCancel(t.Context())
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go webhook.Start(ctx, wg)
	defer func() {
		cancel()
		wg.Wait()
	}()

	webhook.Notify(internal.NewStatusEvent(internal.StatusOffline, "sn-dev"))

	var payload map[string]any
	select {
	case payload = <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not called")
	}

	if payload["status"] != "OFFLINE" {
		t.Errorf("status = %v, want OFFLINE", payload["status"])
	}
	if payload["id"] != "sn-dev" {
		t.Errorf("id = %v, want sn-dev", payload["id"])
	}
}

func TestWebhook_SlowEndpointDoesNotBlockHealthcheck(t *testing.T) {
	release := make(chan struct{})
	received := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		received <- struct{}{}
	}))
	defer server.Close()

	webhook := mustNewWebhook(t, server.URL)
	d := NewDispatcher()
	mustSubscribe(t, d, webhook.Notify)

	ctx, cancel := context.WithCancel(t.Context())
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go webhook.Start(ctx, wg)
	defer func() {
		cancel()
		wg.Wait()
	}()

	adapter, err := internal.NewAdapter("sn", conf.AdapterConfig{}, d, internal.WithConnector(awakeConnector{}))
	if err != nil {
		t.Fatal(err)
	}

	checkCtx, checkCancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer checkCancel()

	start := time.Now()
	got, err := adapter.Healthcheck(checkCtx)
	elapsed := time.Since(start)

	if err != nil || got != internal.AwakeMessage {
		t.Errorf("Healthcheck() = %q, %v, want %q, nil", got, err, internal.AwakeMessage)
	}
	if elapsed > time.Second {
		t.Errorf("Healthcheck() took %v while the webhook endpoint was stalled", elapsed)
	}

	close(release)
	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Error("event was not delivered once the endpoint recovered")
	}
}

func TestWebhook_NotifyFullQueue(t *testing.T) {
	webhook := mustNewWebhook(t, "http://127.0.0.1:1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultWebhookQueueSize+5; i++ {
			webhook.Notify(internal.NewStatusEvent(internal.StatusOnline, "sn"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Notify() blocked on a full queue")
	}

	if len(webhook.queue) != defaultWebhookQueueSize {
		t.Errorf("queue holds %d events, want %d", len(webhook.queue), defaultWebhookQueueSize)
	}
}

func TestWebhook_Start_Cancelled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	webhook := mustNewWebhook(t, server.URL)
	webhook.Notify(internal.NewStatusEvent(internal.StatusOffline, "sn"))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	wg := &sync.WaitGroup{}
	wg.Add(1)
	webhook.Start(ctx, wg)

	if calls.Load() != 0 {
		t.Errorf("expected no delivery after shutdown, got %d", calls.Load())
	}
}

func TestWebhook_send_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	webhook := mustNewWebhook(t, server.URL)

	if err := webhook.send(t.Context(), internal.NewStatusEvent(internal.StatusOnline, "sn")); err == nil {
		t.Error("expected error for non-2xx response")
	}
}

func TestNewWebhook(t *testing.T) {
	if _, err := NewWebhook(""); err == nil {
		t.Error("expected error for empty endpoint")
	}
}
