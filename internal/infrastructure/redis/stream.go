package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ohmage/streamwriter/internal/infrastructure/config"
	"github.com/ohmage/streamwriter/internal/stream"
	"github.com/ohmage/streamwriter/internal/writer"
)

const (
	defaultPingTimeout = 5 * time.Second
	defaultAddTimeout  = 5 * time.Second
	defaultRetryDelay  = 5 * time.Second
)

// Logger defines the logging interface for the Redis transport.
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

// streamClient is the subset of *goredis.Client the transport uses.
type streamClient interface {
	Ping(ctx context.Context) *goredis.StatusCmd
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
	Close() error
}

// Binder connects a writer to a Redis stream.
//
// Each point is appended with XADD. When max_len is set the stream is
// trimmed approximately, so the oldest entries are evicted first.
type Binder struct {
	cfg        config.RedisConfig
	logger     Logger
	retryDelay time.Duration
	newClient  func(cfg config.RedisConfig) streamClient

	mu      sync.Mutex
	session *session

	connected atomic.Bool
}

type session struct {
	conn   writer.Connection
	client streamClient
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
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

// NewBinder creates an unbound Redis binder.
func NewBinder(cfg config.RedisConfig, opts ...Option) *Binder {
	b := &Binder{
		cfg:        cfg,
		logger:     noopLogger{},
		retryDelay: defaultRetryDelay,
		newClient: func(cfg config.RedisConfig) streamClient {
			return goredis.NewClient(&goredis.Options{
				Addr:     cfg.Addr,
				Password: cfg.Password,
				DB:       cfg.DB,
			})
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind starts connecting conn to the stream. Only stream.ActionWrite is
// accepted, and only one writer may hold the binder at a time.
func (b *Binder) Bind(action string, conn writer.Connection) bool {
	if action != stream.ActionWrite {
		b.logger.Warn("redis bind rejected: unsupported action", "action", action)
		return false
	}
	if b.cfg.Stream == "" {
		b.logger.Warn("redis bind rejected", "error", ErrNoStream)
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
		client: b.newClient(b.cfg),
		ctx:    ctx,
		cancel: cancel,
	}
	b.session = s
	b.mu.Unlock()

	b.logger.Info("redis bind requested", "addr", b.cfg.Addr, "stream", b.cfg.Stream)
	go b.connect(s)
	return true
}

// connect pings until the server answers, then hands the writer a sink.
// It runs on Bind and again after a failed append.
func (b *Binder) connect(s *session) {
	ctx := s.ctx
	for {
		err := b.ping(ctx, s.client)
		if err == nil {
			break
		}
		b.logger.Warn("redis not reachable, retrying", "error", err, "retry_in", b.retryDelay)

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
	b.connected.Store(true)
	b.mu.Unlock()

	b.logger.Info("redis connected", "stream", b.cfg.Stream)
	s.conn.OnConnected(&sink{binder: b, session: s})
}

func (b *Binder) ping(ctx context.Context, client streamClient) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// reconnect reports the connection lost after a failed append and goes
// back to pinging. The go-redis pool redials on its own once the server
// answers again.
func (b *Binder) reconnect(s *session) {
	b.mu.Lock()
	if b.session != s {
		b.mu.Unlock()
		return
	}
	b.connected.Store(false)
	b.mu.Unlock()

	b.logger.Warn("redis append failed, reconnecting", "stream", b.cfg.Stream)
	s.conn.OnDisconnected()
	b.connect(s)
}

// Unbind closes the client.
func (b *Binder) Unbind(conn writer.Connection) {
	b.mu.Lock()
	s := b.session
	if s == nil || s.conn != conn {
		b.mu.Unlock()
		return
	}
	b.session = nil
	b.connected.Store(false)
	b.mu.Unlock()

	s.closed.Store(true)
	s.cancel()
	if err := s.client.Close(); err != nil {
		b.logger.Warn("redis close failed", "error", err)
	}
	b.logger.Info("redis unbound")
}

// HealthCheck pings the bound server.
func (b *Binder) HealthCheck(ctx context.Context) error {
	b.mu.Lock()
	s := b.session
	b.mu.Unlock()

	if s == nil || !b.IsConnected() {
		return ErrNotConnected
	}
	return b.ping(ctx, s.client)
}

// IsConnected returns the last known connection state.
func (b *Binder) IsConnected() bool {
	return b.connected.Load()
}

type sink struct {
	binder  *Binder
	session *session

	// lost is set by the first failed append; the sink is not reused.
	lost atomic.Bool
}

// SendPoint appends the point as one stream entry. The first failure
// reports the connection lost to the writer and restarts the ping loop.
func (s *sink) SendPoint(streamID string, streamVersion int, metadata, data string) error {
	if s.session.closed.Load() || s.lost.Load() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultAddTimeout)
	defer cancel()

	args := addArgs(s.binder.cfg, stream.Point{
		StreamID:      streamID,
		StreamVersion: streamVersion,
		Metadata:      metadata,
		Data:          data,
	})
	if err := s.session.client.XAdd(ctx, args).Err(); err != nil {
		// The writer holds its send lock here, so the disconnect is reported
		// from another goroutine.
		if s.lost.CompareAndSwap(false, true) {
			go s.binder.reconnect(s.session)
		}
		return fmt.Errorf("%w: %w", ErrAddFailed, err)
	}
	return nil
}

// addArgs builds the XADD for p. Entry fields use the store's column names.
func addArgs(cfg config.RedisConfig, p stream.Point) *goredis.XAddArgs {
	values := []any{
		stream.ColumnStreamID, p.StreamID,
		stream.ColumnStreamVersion, strconv.Itoa(p.StreamVersion),
		stream.ColumnStreamData, p.Data,
	}
	if p.HasMetadata() {
		values = append(values, stream.ColumnStreamMetadata, p.Metadata)
	}

	args := &goredis.XAddArgs{
		Stream: cfg.Stream,
		Values: values,
	}
	if cfg.MaxLen > 0 {
		args.MaxLen = cfg.MaxLen
		args.Approx = true
	}
	return args
}
