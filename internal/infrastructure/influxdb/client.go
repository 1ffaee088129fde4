package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/ohmage/streamwriter/internal/infrastructure/config"
	"github.com/ohmage/streamwriter/internal/stream"
	"github.com/ohmage/streamwriter/internal/writer"
)

// Default timeouts for InfluxDB operations.
const (
	defaultPingTimeout = 5 * time.Second
	defaultRetryDelay  = 5 * time.Second

	defaultBatchSize     = 500
	defaultFlushInterval = 1

	// millisecondsPerSecond converts seconds to milliseconds for the InfluxDB API.
	millisecondsPerSecond = 1000
)

// Logger defines the logging interface for the InfluxDB transport.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Binder connects a writer to an InfluxDB bucket.
//
// Bind pings the server in the background, retrying until it answers or the
// writer unbinds. Points are then handed to the non-blocking write API,
// which batches them according to batch_size and flush_interval. Batch
// failures arrive asynchronously and are logged and counted; they are not
// reported to the writer.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Binder struct {
	cfg        config.InfluxDBConfig
	logger     Logger
	retryDelay time.Duration
	newClient  func(serverURL, token string, opts *influxdb2.Options) influxdb2.Client

	mu      sync.Mutex
	session *session

	connected   atomic.Bool
	writeErrors atomic.Uint64
}

// session is one bound writer and the client serving it.
type session struct {
	conn     writer.Connection
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cancel   context.CancelFunc
	closed   atomic.Bool
}

// Option configures a Binder.
type Option func(*Binder)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l Logger) Option {
	return func(b *Binder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRetryDelay sets the pause between failed pings.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Binder) {
		if d > 0 {
			b.retryDelay = d
		}
	}
}

// NewBinder creates an unbound InfluxDB binder.
func NewBinder(cfg config.InfluxDBConfig, opts ...Option) *Binder {
	if cfg.Measurement == "" {
		cfg.Measurement = DefaultMeasurement
	}
	b := &Binder{
		cfg:        cfg,
		logger:     noopLogger{},
		retryDelay: defaultRetryDelay,
		newClient:  influxdb2.NewClientWithOptions,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// clientOptions converts batch settings, falling back to defaults for
// non-positive values.
func (b *Binder) clientOptions() *influxdb2.Options {
	batchSize := b.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := b.cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- values validated above to be positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushInterval) * millisecondsPerSecond)
}

// Bind starts connecting conn to the bucket. Only stream.ActionWrite is
// accepted, and only one writer may hold the binder at a time.
func (b *Binder) Bind(action string, conn writer.Connection) bool {
	if action != stream.ActionWrite {
		b.logger.Warn("influxdb bind rejected: unsupported action", "action", action)
		return false
	}

	b.mu.Lock()
	if b.session != nil {
		same := b.session.conn == conn
		b.mu.Unlock()
		return same
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:   conn,
		client: b.newClient(b.cfg.URL, b.cfg.Token, b.clientOptions()),
		cancel: cancel,
	}
	b.session = s
	b.mu.Unlock()

	b.logger.Info("influxdb bind requested", "url", b.cfg.URL, "bucket", b.cfg.Bucket)
	go b.connect(ctx, s)
	return true
}

// connect pings until the server is healthy, then hands the writer a sink.
func (b *Binder) connect(ctx context.Context, s *session) {
	for {
		err := b.ping(ctx, s.client)
		if err == nil {
			break
		}
		b.logger.Warn("influxdb not reachable, retrying", "error", err, "retry_in", b.retryDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.retryDelay):
		}
	}

	b.mu.Lock()
	if b.session != s {
		b.mu.Unlock()
		return
	}
	s.writeAPI = s.client.WriteAPI(b.cfg.Org, b.cfg.Bucket)
	errorsCh := s.writeAPI.Errors()
	b.connected.Store(true)
	b.mu.Unlock()

	go b.handleWriteErrors(errorsCh)
	b.logger.Info("influxdb connected", "bucket", b.cfg.Bucket)
	s.conn.OnConnected(&sink{binder: b, session: s})
}

func (b *Binder) ping(ctx context.Context, client influxdb2.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		return fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		return fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}
	return nil
}

// handleWriteErrors drains async batch failures from the write API. The
// channel closes when the client is closed.
func (b *Binder) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		b.writeErrors.Add(1)
		b.logger.Error("influxdb batch write failed", "error", err)
	}
}

// Unbind flushes pending batches and closes the client. It does not wait
// for an in-flight ping; that goroutine exits on its own.
func (b *Binder) Unbind(conn writer.Connection) {
	b.mu.Lock()
	s := b.session
	if s == nil || s.conn != conn {
		b.mu.Unlock()
		return
	}
	b.session = nil
	writeAPI := s.writeAPI
	b.connected.Store(false)
	b.mu.Unlock()

	s.closed.Store(true)
	s.cancel()

	if writeAPI != nil {
		writeAPI.Flush()
	}
	s.client.Close()

	b.logger.Info("influxdb unbound")
}

// HealthCheck pings the server of the bound session.
func (b *Binder) HealthCheck(ctx context.Context) error {
	b.mu.Lock()
	s := b.session
	b.mu.Unlock()

	if s == nil || !b.IsConnected() {
		return ErrNotConnected
	}
	if err := b.ping(ctx, s.client); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// IsConnected returns the last known connection state.
func (b *Binder) IsConnected() bool {
	return b.connected.Load()
}

// WriteErrors returns the number of batches the server rejected.
func (b *Binder) WriteErrors() uint64 {
	return b.writeErrors.Load()
}
