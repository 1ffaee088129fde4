package writer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ohmage/streamwriter/internal/stream"
)

// OverflowPolicy defines what happens when the pending buffer is at capacity.
type OverflowPolicy int

const (
	// OverflowRejectNewest refuses the new point with ErrBufferFull.
	OverflowRejectNewest OverflowPolicy = iota

	// OverflowDropOldest discards the oldest buffered point to make room.
	OverflowDropOldest
)

// String returns the config name of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case OverflowRejectNewest:
		return "reject_newest"
	case OverflowDropOldest:
		return "drop_oldest"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy converts a config value to an OverflowPolicy.
// Unknown or empty values map to OverflowRejectNewest.
func ParseOverflowPolicy(s string) OverflowPolicy {
	if s == "drop_oldest" {
		return OverflowDropOldest
	}
	return OverflowRejectNewest
}

// Logger defines the logging interface for the writer.
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

// Option configures a Writer.
type Option func(*options)

type options struct {
	action     string
	listener   Listener
	logger     Logger
	maxPending int
	overflow   OverflowPolicy
	onDrop     func(stream.Point)
	registerer prometheus.Registerer
	name       string
}

// WithAction overrides the bind action (default stream.ActionWrite).
func WithAction(action string) Option {
	return func(o *options) {
		if action != "" {
			o.action = action
		}
	}
}

// WithListener registers the single connection listener.
//
// The listener is invoked outside the writer's locks, so it may call back
// into the writer. EventConnected arrives before the pending buffer is
// drained; EventDisconnected follows a lost connection, a rejected bind, or
// the teardown of a live connection by Close. It should not perform heavy
// work.
func WithListener(l Listener) Option {
	return func(o *options) {
		o.listener = l
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxPending bounds the pending buffer. A max of 0 (the default) leaves
// the buffer unbounded and ignores the policy.
func WithMaxPending(max int, policy OverflowPolicy) Option {
	return func(o *options) {
		if max < 0 {
			max = 0
		}
		o.maxPending = max
		o.overflow = policy
	}
}

// WithDropCallback is called with each point discarded by OverflowDropOldest.
func WithDropCallback(fn func(stream.Point)) Option {
	return func(o *options) {
		o.onDrop = fn
	}
}

// WithMetrics exports writer counters to the given Prometheus registerer.
// The name becomes the "writer" const label.
func WithMetrics(reg prometheus.Registerer, name string) Option {
	return func(o *options) {
		if reg != nil {
			o.registerer = reg
			o.name = name
		}
	}
}
