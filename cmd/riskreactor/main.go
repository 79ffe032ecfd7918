// Package main implements the riskreactor service: the risk model
// reactor workers, the trigger ingress, the clustering engine, and the
// HTTP surface (vector tiles, health, metrics, ops feed) in one binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fieldsafe/riskreactor/catalog"
	"github.com/fieldsafe/riskreactor/clustering"
	"github.com/fieldsafe/riskreactor/configstore"
	"github.com/fieldsafe/riskreactor/health"
	"github.com/fieldsafe/riskreactor/ingress"
	"github.com/fieldsafe/riskreactor/metricstore"
	"github.com/fieldsafe/riskreactor/natsclient"
	"github.com/fieldsafe/riskreactor/opsfeed"
	"github.com/fieldsafe/riskreactor/reactor"
	"github.com/fieldsafe/riskreactor/reactorqueue"
	"github.com/fieldsafe/riskreactor/sitecondition"
	"github.com/fieldsafe/riskreactor/telemetry"
	"github.com/fieldsafe/riskreactor/tileserver"
	"github.com/fieldsafe/riskreactor/trigger"
)

const (
	Version = "0.1.0"
	appName = "riskreactor"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

// fanoutSink publishes alerts to every registered sink.
type fanoutSink struct {
	mu    sync.RWMutex
	sinks []reactor.AlertSink
}

func (f *fanoutSink) add(s reactor.AlertSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

func (f *fanoutSink) Publish(ctx context.Context, alert reactor.Alert) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sinks {
		s.Publish(ctx, alert)
	}
}

func run() error {
	cli := parseFlags()
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting", "http_port", cli.HTTPPort, "workers", cli.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := telemetry.NewRegistry()
	monitor := health.NewMonitor()

	// Backing stores: Postgres when configured, in-process otherwise.
	var (
		metrics      metricstore.Store
		configStore  configstore.Store
		source       catalog.SourceReader
		clusterStore clustering.Store
	)
	if cli.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cli.PostgresURL)
		if err != nil {
			return fmt.Errorf("open postgres pool: %w", err)
		}
		defer pool.Close()
		metrics = metricstore.NewPostgres(pool)
		cached := configstore.NewCached(configstore.NewPostgres(pool), 30*time.Second,
			configstore.WithCacheTelemetry(registry.Metrics))
		defer cached.Close()
		configStore = cached
		source = catalog.NewPostgresSource(pool)
		clusterStore = clustering.NewPostgres(pool)
		monitor.RegisterCheck("postgres", health.PingCheck("postgres", pool.Ping))
	} else {
		logger.Warn("no postgres url, using in-memory stores")
		metrics = metricstore.NewMemory()
		configStore = configstore.NewMemory()
		source = catalog.NewStaticSource()
		clusterStore = clustering.NewMemory()
	}
	configs := configstore.NewLoader(configStore)

	// Queue: Redis when configured, in-process otherwise.
	var queue reactorqueue.Queue
	if cli.RedisURL != "" {
		opt, err := redis.ParseURL(cli.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		defer client.Close()
		queue = reactorqueue.NewRedis(client)
		monitor.RegisterCheck("redis", health.PingCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	} else {
		logger.Warn("no redis url, using in-process queue")
		queue = reactorqueue.NewMemory()
	}
	monitor.RegisterCheck("queue", health.QueueCheck(queue))

	env := &catalog.Env{
		Metrics:    metrics,
		Source:     source,
		Configs:    configs,
		Conditions: sitecondition.NewEvaluator(),
	}
	cat, err := catalog.New()
	if err != nil {
		return fmt.Errorf("build metric catalog: %w", err)
	}

	// Reactor with alerts fanned out to the log and the ops feed.
	sink := &fanoutSink{}
	sink.add(reactor.LogSink{Log: logger})
	rx := reactor.New(queue, cat, env, reactor.Config{Workers: cli.Workers}, logger,
		reactor.WithTelemetry(registry.Metrics),
		reactor.WithAlertSink(sink))
	feed := opsfeed.NewFeed(logger, rx.Drops())
	defer feed.Close()
	sink.add(feed)

	// Trigger ingress from the bus.
	bus, err := natsclient.NewClient(cli.NATSURL,
		natsclient.WithLogger(logger),
		natsclient.WithName(appName),
		natsclient.WithTelemetry(registry.Metrics))
	if err != nil {
		return fmt.Errorf("build nats client: %w", err)
	}
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
		defer cancel()
		_ = bus.Close(closeCtx)
	}()
	monitor.RegisterCheck("bus", health.BusCheck(bus))

	expander := trigger.NewExpander(env, cli.HorizonDays)
	notifier := trigger.NewNotifier(expander, queue, logger)
	subscriber := ingress.NewSubscriber(bus, notifier, logger,
		ingress.WithTelemetry(registry.Metrics))
	if err := subscriber.Start(ctx); err != nil {
		return fmt.Errorf("start ingress: %w", err)
	}
	defer func() {
		if err := subscriber.Stop(); err != nil {
			logger.Warn("ingress stop", "error", err)
		}
	}()

	// Location mutations from the bus keep the cluster pyramid current.
	engine := clustering.NewEngine(clusterStore, logger,
		clustering.WithTelemetry(registry.Metrics))
	locations := ingress.NewLocationSubscriber(bus, engine, logger,
		ingress.WithLocationTelemetry(registry.Metrics))
	if err := locations.Start(ctx); err != nil {
		return fmt.Errorf("start location ingress: %w", err)
	}
	defer func() {
		if err := locations.Stop(); err != nil {
			logger.Warn("location ingress stop", "error", err)
		}
	}()

	tiles := tileserver.NewServer(clusterStore, metrics, configs, logger,
		tileserver.WithTelemetry(registry.Metrics))

	mux := http.NewServeMux()
	mux.Handle("/tiles/", tiles.Routes())
	mux.Handle("/healthz", monitor.Handler(appName))
	mux.Handle("/metrics", registry.Handler())
	mux.Handle("/ws/ops", feed.Handler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cli.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	// Reactor workers run until shutdown.
	reactorDone := make(chan struct{})
	go func() {
		rx.Run(ctx)
		close(reactorDone)
	}()

	select {
	case err := <-httpErr:
		stop()
		<-reactorDone
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cli.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	select {
	case <-reactorDone:
	case <-shutdownCtx.Done():
		logger.Warn("reactor workers did not stop before the deadline")
	}
	logger.Info("stopped")
	return nil
}
