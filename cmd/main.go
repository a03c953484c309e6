package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aaustin-1965/adapter-change-management/internal"
	"github.com/aaustin-1965/adapter-change-management/internal/conf"
	"github.com/aaustin-1965/adapter-change-management/internal/events"
	"github.com/aaustin-1965/adapter-change-management/internal/logging"
	"github.com/aaustin-1965/adapter-change-management/internal/metrics"
	"github.com/aaustin-1965/adapter-change-management/internal/probe"
	"github.com/aaustin-1965/adapter-change-management/internal/status"
	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultConfigFile   = "/etc/change-management-adapter.yaml"
	oneShotTimeout      = 30 * time.Second
	gracefulExitTimeout = 30 * time.Second
)

var (
	flagConfigFile   string
	flagDebug        bool
	flagPrintVersion bool
	flagGetRecord    string
	flagPostRecord   string

	BuildVersion string
	CommitHash   string
)

func parseFlags() {
	flag.StringVar(&flagConfigFile, "config", defaultConfigFile, "Config file")
	flag.BoolVar(&flagDebug, "debug", false, "Print debug logs")
	flag.BoolVar(&flagPrintVersion, "version", false, "Print version and exit")
	flag.StringVar(&flagGetRecord, "get", "", "Read a record using the adapter with the given id and exit")
	flag.StringVar(&flagPostRecord, "post", "", "Create a record using the adapter with the given id and exit")
	flag.Parse()
}

func main() {
	parseFlags()

	if flagPrintVersion {
		//nolint forbidigo
		fmt.Printf("%s %s\n", BuildVersion, CommitHash)
		os.Exit(0)
	}

	setupLogging(nil)
	slog.Info("Starting change-management-adapter", "version", BuildVersion)

	conf, err := conf.ReadFromFile(flagConfigFile)
	if err != nil {
		log.Fatalf("could not read config: %v", err)
	}

	if err := conf.Validate(); err != nil {
		log.Fatalf("validating config failed: %v", err)
	}

	closeLogFile := func() {}
	if conf.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   conf.LogFile,
			MaxSize:    conf.LogMaxSizeMb,
			MaxBackups: conf.LogMaxBackups,
			MaxAge:     conf.LogMaxAgeDays,
			Compress:   true,
		}
		closeLogFile = func() {
			_ = rotator.Close()
		}
		setupLogging(rotator)
	}

	dispatcher := events.NewDispatcher()
	tracker := status.NewTracker()
	if _, err := dispatcher.Subscribe(tracker.Observe); err != nil {
		log.Fatalf("could not subscribe status tracker: %v", err)
	}

	var webhook *events.Webhook
	if conf.NotifyUrl != "" {
		webhook, err = events.NewWebhook(conf.NotifyUrl)
		if err != nil {
			log.Fatalf("could not create webhook: %v", err)
		}
		if _, err := dispatcher.Subscribe(webhook.Notify); err != nil {
			log.Fatalf("could not subscribe webhook: %v", err)
		}
	}

	managedAdapters, err := getManagedAdapters(conf.Adapters, dispatcher)
	if err != nil {
		log.Fatal(err)
	}

	manager, err := internal.NewAdapterManager(managedAdapters)
	if err != nil {
		log.Fatal(err)
	}

	var exitCode int
	switch {
	case flagGetRecord != "":
		exitCode = runRecordOperation(manager, flagGetRecord, (*internal.Adapter).GetRecord)
	case flagPostRecord != "":
		exitCode = runRecordOperation(manager, flagPostRecord, (*internal.Adapter).PostRecord)
	default:
		exitCode = run(manager, webhook, conf)
	}

	closeLogFile()
	os.Exit(exitCode)
}

func run(manager *internal.AdapterManager, webhook *events.Webhook, conf *conf.Config) int {
	ctx, cancel := context.WithCancel(context.Background())

	wg := &sync.WaitGroup{}
	metricsErrChan := make(chan error, 1)
	if conf.MetricsAddr != "" {
		metricsServer, err := metrics.New(conf.MetricsAddr)
		if err != nil {
			metricsErrChan <- err
		} else {
			wg.Add(1)
			go func() {
				if err := metricsServer.StartServer(ctx, wg); err != nil {
					metricsErrChan <- err
				}
			}()
		}
	} else if conf.MetricsFile != "" {
		wg.Add(1)
		go metrics.StartMetricsWriter(ctx, wg, conf.MetricsFile)
	}

	if webhook != nil {
		wg.Add(1)
		go webhook.Start(ctx, wg)
	}

	slog.Info("Checking adapters", "ids", manager.Ids(), "interval", conf.CheckInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(conf.CheckInterval)
		defer ticker.Stop()
		manager.CheckAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				manager.CheckAll(ctx)
			}
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	var exitCode int
	select {
	case <-sigc:
		slog.Info("Received signal")
		exitCode = 0
	case err := <-metricsErrChan:
		slog.Error("could not start metrics subsystem", "err", err)
		exitCode = 1
	}

	cancel()
	gracefulExitDone := make(chan struct{})

	go func() {
		slog.Info("Waiting for components to shut down gracefully")
		wg.Wait()
		close(gracefulExitDone)
	}()

	select {
	case <-gracefulExitDone:
		slog.Debug("All components shut down gracefully within the timeout")
	case <-time.After(gracefulExitTimeout):
		slog.Error("Killing process forcefully")
	}

	if conf.MetricsFile != "" {
		if err := metrics.WriteMetrics(conf.MetricsFile); err != nil {
			slog.Error("Error dumping metrics", "err", err)
		}
	}

	return exitCode
}

func runRecordOperation(manager *internal.AdapterManager, id string, op func(*internal.Adapter, context.Context) (any, error)) int {
	adapter, found := manager.Adapter(id)
	if !found {
		slog.Error("no adapter configured", "id", id, "available", manager.Ids())
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout)
	defer cancel()

	result, err := op(adapter, ctx)
	if err != nil {
		slog.Error("record operation failed", "id", id, "err", err)
		return 1
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		slog.Error("could not encode result", "id", id, "err", err)
		return 1
	}

	//nolint forbidigo
	fmt.Println(string(out))
	return 0
}

func getManagedAdapters(c map[string]conf.AdapterConfig, sink internal.EventSink) ([]*internal.ManagedAdapter, error) {
	ret := make([]*internal.ManagedAdapter, 0, len(c))
	var errs error

	for id, adapterConf := range c {
		adapter, err := internal.NewAdapter(id, adapterConf, sink, internal.WithLogger(slog.Default()))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("could not build adapter %q: %w", id, err))
			continue
		}

		var reachability internal.Reachability
		if adapterConf.ProbeConfig != nil {
			reachability, err = probe.Build(adapterConf.Url, adapterConf.ProbeConfig)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("could not build probe for %q: %w", id, err))
				continue
			}
		}

		managed, err := internal.NewManagedAdapter(adapter, reachability)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("could not build managed adapter %q: %w", id, err))
			continue
		}

		ret = append(ret, managed)
	}

	if errs != nil {
		return nil, errs
	}
	return ret, nil
}

// setupLogging logs text to stdout and, if logFile is not nil, json to logFile.
func setupLogging(logFile io.Writer) {
	var level slog.Leveler = slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}

	logger := slog.New(logging.NewHandler(os.Stdout, logFile, level))
	slog.SetDefault(logger)
}
