package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ohmage/streamwriter/internal/infrastructure/config"
	"github.com/ohmage/streamwriter/internal/stream"
	"github.com/ohmage/streamwriter/internal/writer"
)

// Logger defines the logging interface for the MQTT transport.
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

// Binder connects a writer to an MQTT broker.
//
// Bind creates a paho client and starts connecting in the background; the
// writer hears about the session through OnConnected and OnDisconnected as
// paho connects, loses and re-establishes it.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Binder struct {
	cfg       config.MQTTConfig
	topics    Topics
	logger    Logger
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu     sync.Mutex
	client pahomqtt.Client
	conn   writer.Connection

	connected atomic.Bool
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

// NewBinder creates an unbound MQTT binder.
func NewBinder(cfg config.MQTTConfig, opts ...Option) *Binder {
	b := &Binder{
		cfg:       cfg,
		topics:    Topics{Prefix: cfg.TopicPrefix},
		logger:    noopLogger{},
		newClient: pahomqtt.NewClient,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind requests a broker session for conn.
//
// It returns false for any action other than stream.ActionWrite, for an
// invalid QoS, or when another connection already holds the binder. A
// repeated Bind for the same connection is accepted without reconnecting.
func (b *Binder) Bind(action string, conn writer.Connection) bool {
	if action != stream.ActionWrite {
		b.logger.Warn("mqtt bind rejected: unsupported action", "action", action)
		return false
	}
	if b.cfg.QoS < 0 || b.cfg.QoS > maxQoS {
		b.logger.Warn("mqtt bind rejected", "error", ErrInvalidQoS)
		return false
	}

	b.mu.Lock()
	if b.client != nil {
		same := b.conn == conn
		b.mu.Unlock()
		return same
	}

	opts := buildClientOptions(b.cfg)
	configureLWT(opts, b.topics, b.cfg.Broker.ClientID)
	opts.SetOnConnectHandler(b.handleConnect)
	opts.SetConnectionLostHandler(b.handleConnectionLost)

	client := b.newClient(opts)
	b.client = client
	b.conn = conn
	b.mu.Unlock()

	b.logger.Info("mqtt bind requested",
		"broker", fmt.Sprintf("%s:%d", b.cfg.Broker.Host, b.cfg.Broker.Port),
		"client_id", b.cfg.Broker.ClientID,
	)

	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			b.logger.Error("mqtt connect failed", "error", err)
		}
	}()
	return true
}

// Unbind publishes a graceful offline status and disconnects. It is a
// no-op for a connection that is not bound.
func (b *Binder) Unbind(conn writer.Connection) {
	b.mu.Lock()
	if b.client == nil || b.conn != conn {
		b.mu.Unlock()
		return
	}
	client := b.client
	b.client = nil
	b.conn = nil
	b.mu.Unlock()

	if client.IsConnectionOpen() {
		token := client.Publish(b.topics.Status(b.cfg.Broker.ClientID), byte(b.cfg.QoS), true,
			statusPayload(b.cfg.Broker.ClientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}
	client.Disconnect(defaultDisconnectQuiesce)
	b.connected.Store(false)

	b.logger.Info("mqtt unbound")
}

// handleConnect runs on paho's goroutine for the first connect and every
// reconnect.
func (b *Binder) handleConnect(c pahomqtt.Client) {
	b.mu.Lock()
	if c != b.client || b.conn == nil {
		b.mu.Unlock()
		return
	}
	conn := b.conn
	b.mu.Unlock()

	b.connected.Store(true)
	c.Publish(b.topics.Status(b.cfg.Broker.ClientID), byte(b.cfg.QoS), true,
		statusPayload(b.cfg.Broker.ClientID, "online", ""))

	b.logger.Info("mqtt connected", "client_id", b.cfg.Broker.ClientID)
	conn.OnConnected(&sink{binder: b, client: c})
}

func (b *Binder) handleConnectionLost(c pahomqtt.Client, err error) {
	b.mu.Lock()
	if c != b.client || b.conn == nil {
		b.mu.Unlock()
		return
	}
	conn := b.conn
	b.mu.Unlock()

	b.connected.Store(false)
	b.logger.Warn("mqtt connection lost", "error", err)
	conn.OnDisconnected()
}

// HealthCheck reports whether a broker session is currently open.
func (b *Binder) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}
	if !b.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known session state.
func (b *Binder) IsConnected() bool {
	return b.connected.Load()
}
