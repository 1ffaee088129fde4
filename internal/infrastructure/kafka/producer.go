package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ohmage/streamwriter/internal/infrastructure/config"
	"github.com/ohmage/streamwriter/internal/stream"
	"github.com/ohmage/streamwriter/internal/writer"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultRetryDelay   = 5 * time.Second

	// headerStreamVersion carries the version so consumers can route
	// without decoding the value.
	headerStreamVersion = "stream_version"
)

// Logger defines the logging interface for the Kafka transport.
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

// messageWriter is the subset of *kafkago.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Binder connects a writer to a Kafka topic.
//
// Bind dials the brokers in the background until one answers, then hands the
// writer a sink backed by a kafka-go Writer. Messages are keyed by stream id
// and balanced with a hash, so all points of one stream land on one
// partition in order.
type Binder struct {
	cfg        config.KafkaConfig
	clientID   string
	logger     Logger
	retryDelay time.Duration

	dial      func(ctx context.Context, brokers []string) error
	newWriter func(cfg config.KafkaConfig, clientID string) messageWriter

	mu      sync.Mutex
	session *session

	connected atomic.Bool
}

type session struct {
	conn   writer.Connection
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	out    messageWriter
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

// WithClientID sets the client id reported to the brokers.
func WithClientID(id string) Option {
	return func(b *Binder) {
		b.clientID = id
	}
}

// WithRetryDelay sets the pause between failed broker dials.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Binder) {
		if d > 0 {
			b.retryDelay = d
		}
	}
}

// NewBinder creates an unbound Kafka binder.
func NewBinder(cfg config.KafkaConfig, opts ...Option) *Binder {
	b := &Binder{
		cfg:        cfg,
		logger:     noopLogger{},
		retryDelay: defaultRetryDelay,
		dial:       dialAny,
		newWriter:  newKafkaWriter,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// newKafkaWriter builds the synchronous producer from config.
func newKafkaWriter(cfg config.KafkaConfig, clientID string) messageWriter {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           time.Duration(cfg.BatchTimeoutMS) * time.Millisecond,
		RequiredAcks:           kafkago.RequiredAcks(cfg.RequiredAcks),
		AllowAutoTopicCreation: true,
	}
	if clientID != "" {
		w.Transport = &kafkago.Transport{ClientID: clientID}
	}
	return w
}

// dialAny succeeds as soon as one broker accepts a connection.
func dialAny(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return ErrNoBrokers
	}
	var errs []error
	for _, addr := range brokers {
		dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
		conn, err := kafkago.DialContext(dialCtx, "tcp", addr)
		cancel()
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return fmt.Errorf("%w: %w", ErrBrokerUnreachable, errors.Join(errs...))
}

// Bind starts connecting conn to the topic. Only stream.ActionWrite is
// accepted, and only one writer may hold the binder at a time.
func (b *Binder) Bind(action string, conn writer.Connection) bool {
	if action != stream.ActionWrite {
		b.logger.Warn("kafka bind rejected: unsupported action", "action", action)
		return false
	}
	if len(b.cfg.Brokers) == 0 || b.cfg.Topic == "" {
		b.logger.Warn("kafka bind rejected: brokers and topic are required")
		return false
	}

	b.mu.Lock()
	if b.session != nil {
		same := b.session.conn == conn
		b.mu.Unlock()
		return same
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{conn: conn, ctx: ctx, cancel: cancel}
	b.session = s
	b.mu.Unlock()

	b.logger.Info("kafka bind requested", "brokers", b.cfg.Brokers, "topic", b.cfg.Topic)
	go b.connect(s)
	return true
}

// connect dials until a broker answers, then hands the writer a sink over
// a fresh producer. It runs on Bind and again after a failed produce.
func (b *Binder) connect(s *session) {
	ctx := s.ctx
	for {
		err := b.dial(ctx, b.cfg.Brokers)
		if err == nil {
			break
		}
		b.logger.Warn("kafka brokers not reachable, retrying", "error", err, "retry_in", b.retryDelay)

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
	out := b.newWriter(b.cfg, b.clientID)
	s.out = out
	b.connected.Store(true)
	b.mu.Unlock()

	b.logger.Info("kafka connected", "topic", b.cfg.Topic)
	s.conn.OnConnected(&sink{binder: b, session: s, out: out})
}

// reconnect drops the producer that failed, reports the connection lost
// and dials again.
func (b *Binder) reconnect(s *session, out messageWriter) {
	b.mu.Lock()
	if b.session != s || s.out != out {
		b.mu.Unlock()
		return
	}
	s.out = nil
	b.connected.Store(false)
	b.mu.Unlock()

	if err := out.Close(); err != nil {
		b.logger.Warn("kafka writer close failed", "error", err)
	}
	b.logger.Warn("kafka produce failed, reconnecting", "topic", b.cfg.Topic)
	s.conn.OnDisconnected()
	b.connect(s)
}

// Unbind closes the producer, flushing any batch in progress.
func (b *Binder) Unbind(conn writer.Connection) {
	b.mu.Lock()
	s := b.session
	if s == nil || s.conn != conn {
		b.mu.Unlock()
		return
	}
	b.session = nil
	out := s.out
	b.connected.Store(false)
	b.mu.Unlock()

	s.closed.Store(true)
	s.cancel()

	if out != nil {
		if err := out.Close(); err != nil {
			b.logger.Warn("kafka writer close failed", "error", err)
		}
	}
	b.logger.Info("kafka unbound")
}

// HealthCheck dials the brokers.
func (b *Binder) HealthCheck(ctx context.Context) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}
	if err := b.dial(ctx, b.cfg.Brokers); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// IsConnected returns the last known connection state.
func (b *Binder) IsConnected() bool {
	return b.connected.Load()
}

// sink produces one message per point.
type sink struct {
	binder  *Binder
	session *session
	out     messageWriter

	// lost is set by the first failed produce; the sink is not reused.
	lost atomic.Bool
}

// SendPoint writes the JSON envelope keyed by stream id and waits for the
// configured acknowledgements. The first failure reports the connection
// lost to the writer and restarts the dial loop.
func (s *sink) SendPoint(streamID string, streamVersion int, metadata, data string) error {
	if s.session.closed.Load() || s.lost.Load() {
		return ErrNotConnected
	}
	msg, err := newMessage(stream.Point{
		StreamID:      streamID,
		StreamVersion: streamVersion,
		Metadata:      metadata,
		Data:          data,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	if err := s.out.WriteMessages(ctx, msg); err != nil {
		// The writer holds its send lock here, so the disconnect is reported
		// from another goroutine.
		if s.lost.CompareAndSwap(false, true) {
			go s.binder.reconnect(s.session, s.out)
		}
		return fmt.Errorf("%w: %w", ErrProduceFailed, err)
	}
	return nil
}

func newMessage(p stream.Point) (kafkago.Message, error) {
	value, err := p.Encode()
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Key:   []byte(p.StreamID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: headerStreamVersion, Value: []byte(strconv.Itoa(p.StreamVersion))},
		},
	}, nil
}
