package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aaustin-1965/adapter-change-management/internal/metrics"
)

type ManagedAdapter struct {
	*Adapter
	probe Reachability
}

func NewManagedAdapter(adapter *Adapter, probe Reachability) (*ManagedAdapter, error) {
	if adapter == nil {
		return nil, errors.New("nil adapter supplied")
	}

	return &ManagedAdapter{
		Adapter: adapter,
		probe:   probe,
	}, nil
}

// Eval probes the instance host if a probe is configured and connects the adapter.
func (m *ManagedAdapter) Eval(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	if m.probe != nil {
		m.runProbe(ctx)
	}

	m.Connect(ctx)
}

func (m *ManagedAdapter) runProbe(ctx context.Context) {
	reachable, err := m.probe.IsReachable(ctx)
	if err != nil {
		metrics.Errors.WithLabelValues(m.Id(), "probe").Inc()
		slog.Debug("probe produced error", "id", m.Id(), "probe", m.probe.Name(), "err", err)
	}

	var val float64 = 0
	if reachable {
		val = 1
	}
	metrics.Reachable.WithLabelValues(m.Id(), m.probe.Name()).Set(val)
}

type AdapterManager struct {
	adapters map[string]*ManagedAdapter
}

func NewAdapterManager(adapters []*ManagedAdapter) (*AdapterManager, error) {
	if len(adapters) == 0 {
		return nil, errors.New("no adapters supplied")
	}

	managed := make(map[string]*ManagedAdapter, len(adapters))
	for _, adapter := range adapters {
		if adapter == nil || adapter.Adapter == nil {
			return nil, errors.New("nil adapter supplied")
		}
		if _, found := managed[adapter.Id()]; found {
			return nil, fmt.Errorf("duplicated adapter id %q", adapter.Id())
		}
		managed[adapter.Id()] = adapter
	}

	return &AdapterManager{adapters: managed}, nil
}

// CheckAll evaluates every adapter concurrently and returns once all of them are done.
func (h *AdapterManager) CheckAll(ctx context.Context) {
	wg := &sync.WaitGroup{}
	for _, adapter := range h.adapters {
		wg.Add(1)
		go adapter.Eval(ctx, wg)
	}

	wg.Wait()
}

func (h *AdapterManager) Adapter(id string) (*Adapter, bool) {
	adapter, found := h.adapters[id]
	if !found {
		return nil, false
	}
	return adapter.Adapter, true
}

func (h *AdapterManager) Ids() []string {
	ids := make([]string, 0, len(h.adapters))
	for id := range h.adapters {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
