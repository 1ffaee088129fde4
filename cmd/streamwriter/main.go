// ohmage stream writer
//
// This is the main entry point for the stream point submission service.
// It accepts stream points over HTTP and WebSocket and delivers them to
// one sink:
//   - the local SQLite stream store (direct, async or batch)
//   - a persistent connection writer bound to the local store, MQTT,
//     InfluxDB, Kafka or Redis
//
// Configuration is read from configs/config.yaml unless OHMAGE_CONFIG
// names another file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/ohmage/streamwriter/migrations"

	"github.com/ohmage/streamwriter/internal/api"
	"github.com/ohmage/streamwriter/internal/delivery"
	"github.com/ohmage/streamwriter/internal/infrastructure/config"
	"github.com/ohmage/streamwriter/internal/infrastructure/database"
	"github.com/ohmage/streamwriter/internal/infrastructure/influxdb"
	"github.com/ohmage/streamwriter/internal/infrastructure/kafka"
	"github.com/ohmage/streamwriter/internal/infrastructure/logging"
	"github.com/ohmage/streamwriter/internal/infrastructure/mqtt"
	"github.com/ohmage/streamwriter/internal/infrastructure/redis"
	"github.com/ohmage/streamwriter/internal/store"
	"github.com/ohmage/streamwriter/internal/writer"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// transport is a writer binder that can also report its health.
type transport interface {
	writer.Binder
	api.HealthChecker
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting ohmage stream writer",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"transport", cfg.Writer.Transport,
		"mode", cfg.Delivery.Mode,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("local store ready", "path", cfg.Database.Path)

	st := store.New(db,
		store.WithUsername(cfg.Client.Username),
		store.WithLogger(log.With("component", "store")),
	)

	hub := api.NewHub(cfg.WebSocket, log)
	checks := map[string]api.HealthChecker{"store": st}

	deps := delivery.Deps{
		Store:  st,
		Logger: log.With("component", "delivery"),
	}

	switch cfg.Delivery.Mode {
	case config.DeliveryAsync:
		async := store.NewAsyncInserter(st, cfg.Delivery.AsyncQueue)
		defer closeLogged(log, "async inserter", async.Close)
		deps.Async = async
	case config.DeliveryBatch:
		bulk := store.NewBulkInserter(st, store.BulkConfig{
			BatchSize:  cfg.Delivery.BatchSize,
			FlushDelay: cfg.GetFlushDelay(),
			OnComplete: func(inserted int, err error) {
				if err != nil {
					log.Error("bulk insert failed", "points", inserted, "error", err)
				}
			},
		})
		defer closeLogged(log, "bulk inserter", bulk.Close)
		deps.Bulk = bulk
	case config.DeliveryConnection:
		binder, binderErr := newTransport(cfg, st, log)
		if binderErr != nil {
			return binderErr
		}
		checks[cfg.Writer.Transport] = binder

		w, writerErr := writer.New(binder,
			writer.WithAction(cfg.Writer.Action),
			writer.WithMaxPending(cfg.Writer.MaxPending, writer.ParseOverflowPolicy(cfg.Writer.Overflow)),
			writer.WithLogger(log.With("component", "writer")),
			writer.WithMetrics(prometheus.DefaultRegisterer, cfg.Writer.Transport),
			writer.WithListener(hub.WriterListener()),
		)
		if writerErr != nil {
			return fmt.Errorf("creating writer: %w", writerErr)
		}
		defer closeWriter(log, w, cfg.GetCloseTimeout())
		deps.Writer = w
	}

	submitter, err := delivery.New(cfg.Delivery.Mode, deps)
	if err != nil {
		return fmt.Errorf("creating submitter: %w", err)
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Metrics:   cfg.Metrics,
		Logger:    log,
		Submitter: submitter,
		Writer:    deps.Writer,
		Store:     st,
		DB:        db,
		Checks:    checks,
		Hub:       hub,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer closeLogged(log, "API server", server.Close)
	log.Info("initialisation complete, waiting for shutdown signal", "addr", server.Addr())

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. WebSocket hub
	// 3. Writer, async or bulk inserter
	// 4. Database
	return nil
}

// newTransport builds the binder named by writer.transport.
func newTransport(cfg *config.Config, st *store.Store, log *logging.Logger) (transport, error) {
	tlog := log.With("component", "transport", "transport", cfg.Writer.Transport)

	switch cfg.Writer.Transport {
	case config.TransportLocal:
		return localTransport{LocalBinder: store.NewLocalBinder(st), store: st}, nil
	case config.TransportMQTT:
		return mqtt.NewBinder(cfg.MQTT, mqtt.WithLogger(tlog)), nil
	case config.TransportInfluxDB:
		return influxdb.NewBinder(cfg.InfluxDB, influxdb.WithLogger(tlog)), nil
	case config.TransportKafka:
		return kafka.NewBinder(cfg.Kafka,
			kafka.WithLogger(tlog),
			kafka.WithClientID(cfg.Client.ID),
		), nil
	case config.TransportRedis:
		return redis.NewBinder(cfg.Redis, redis.WithLogger(tlog)), nil
	default:
		return nil, fmt.Errorf("unknown writer transport %q", cfg.Writer.Transport)
	}
}

// localTransport reports the store's health for the local binder.
type localTransport struct {
	*store.LocalBinder
	store *store.Store
}

func (t localTransport) HealthCheck(ctx context.Context) error {
	return t.store.HealthCheck(ctx)
}

// closeWriter requests a close and waits for a deferred close to finish.
// After the timeout the writer is aborted: pending points are discarded
// and the transport is unbound.
func closeWriter(log *logging.Logger, w *writer.Writer, timeout time.Duration) {
	if err := w.Close(); err != nil {
		log.Error("error closing writer", "error", err)
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.Done():
		log.Info("writer closed", "sent", w.Stats().Sent)
	case <-timer.C:
		log.Warn("writer close timed out, aborting", "pending", w.Pending())
		w.Abort()
	}
}

func closeLogged(log *logging.Logger, name string, closeFn func() error) {
	log.Info("closing " + name)
	if err := closeFn(); err != nil {
		log.Error("error closing "+name, "error", err)
	}
}

// getConfigPath returns the configuration file path.
// Uses OHMAGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("OHMAGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
