package metrics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/multierr"
)

const (
	namespace                        = "change_management_adapter"
	defaultMetricsHeartbeatFrequency = 1 * time.Minute
)

var (
	ProcessStart = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_start_timestamp_seconds",
		Help:      "Timestamp of start of process",
	})

	Heartbeat = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Continuous heartbeat",
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Total amount of errors",
	}, []string{"id", "error"})

	Healthchecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "healthchecks_total",
		Help:      "Total amount of healthchecks by outcome",
	}, []string{"id", "result"})

	RecordRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "record_requests_total",
		Help:      "Total amount of record operations",
	}, []string{"id", "operation", "result"})

	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Total amount of emitted status events",
	}, []string{"id", "status"})

	Status = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "status",
		Help:      "Captures the current status",
	}, []string{"id", "status"})

	StatusChangeTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "status_change_timestamp_seconds",
		Help:      "Timestamp of the last status change",
	}, []string{"id"})

	Reachable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reachable",
		Help:      "Whether the instance host answered the last network probe",
	}, []string{"id", "probe"})
)

func init() {
	ProcessStart.SetToCurrentTime()
	Heartbeat.SetToCurrentTime()
}

type MetricsServer struct {
	address string
	path    string
}

type MetricsServerOpts func(*MetricsServer) error

func WithPath(path string) MetricsServerOpts {
	return func(s *MetricsServer) error {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("path %q must start with a slash", path)
		}
		s.path = path
		return nil
	}
}

func New(address string, opts ...MetricsServerOpts) (*MetricsServer, error) {
	if len(address) == 0 {
		return nil, errors.New("empty address provided")
	}

	w := &MetricsServer{
		address: address,
		path:    "/metrics",
	}

	var errs error
	for _, opt := range opts {
		if err := opt(w); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return w, errs
}

func (s *MetricsServer) StartServer(ctx context.Context, wg *sync.WaitGroup) error {
	defer wg.Done()

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	server := http.Server{
		Addr:              s.address,
		Handler:           mux,
		ReadTimeout:       1 * time.Second,
		ReadHeaderTimeout: 1 * time.Second,
		WriteTimeout:      1 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errChan := make(chan error)
	go func() {
		slog.Info("Starting server", "address", s.address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("can not start metrics server: %w", err)
		}
	}()

	heartbeatTimer := time.NewTicker(defaultMetricsHeartbeatFrequency)
	defer heartbeatTimer.Stop()

	for {
		select {
		case <-heartbeatTimer.C:
			Heartbeat.SetToCurrentTime()
		case <-ctx.Done():
			slog.Info("Stopping server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case err := <-errChan:
			return err
		}
	}
}

func StartMetricsWriter(ctx context.Context, wg *sync.WaitGroup, path string) {
	defer wg.Done()
	ticker := time.NewTicker(defaultMetricsHeartbeatFrequency)

	for {
		select {
		case <-ticker.C:
			Heartbeat.SetToCurrentTime()
			if err := WriteMetrics(path); err != nil {
				slog.Error("Error dumping metrics", "err", err)
			}
		case <-ctx.Done():
			ticker.Stop()
			return
		}
	}
}

// WriteMetrics atomically replaces metricsFile with the adapter's metrics in text exposition format.
func WriteMetrics(metricsFile string) error {
	metrics, err := dumpMetrics()
	if err != nil {
		return err
	}

	tmpFile := fmt.Sprintf("%s.tmp", metricsFile)
	if err := os.WriteFile(tmpFile, []byte(metrics), 0644); err != nil { //nolint G306
		return fmt.Errorf("error creating file: %w", err)
	}
	return os.Rename(tmpFile, metricsFile)
}

func dumpMetrics() (string, error) {
	var buf = &bytes.Buffer{}
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	enc := expfmt.NewEncoder(buf, format)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return "", err
	}

	for _, f := range families {
		// other tools writing to the textfile collector dir expose the process metrics already
		if strings.HasPrefix(f.GetName(), namespace) {
			if err := enc.Encode(f); err != nil {
				slog.Warn("could not encode metric", "err", err.Error())
			}
		}
	}

	return buf.String(), nil
}
