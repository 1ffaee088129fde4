package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ohmage/streamwriter/internal/infrastructure/config"
	"github.com/ohmage/streamwriter/internal/store"
	"github.com/ohmage/streamwriter/internal/stream"
	"github.com/ohmage/streamwriter/internal/writer"
)

// Logger defines the logging interface for submitters.
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

// Submitter hands a point to one delivery path.
//
// A nil error means the path accepted the point. Only the direct path
// guarantees it has been stored by the time Submit returns.
type Submitter interface {
	Submit(ctx context.Context, p stream.Point) error
	Mode() string
}

// Deps holds the components a submitter may need. Only the fields used by
// the selected mode must be set.
type Deps struct {
	Store  *store.Store
	Async  *store.AsyncInserter
	Bulk   *store.BulkInserter
	Writer *writer.Writer
	Logger Logger
}

// New returns the submitter for mode.
//
// Returns:
//   - Submitter: ready for use
//   - error: ErrUnknownMode, or ErrMissingDependency when deps lacks the
//     component mode needs
func New(mode string, deps Deps) (Submitter, error) {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	switch mode {
	case config.DeliveryDirect:
		if deps.Store == nil {
			return nil, fmt.Errorf("%w: direct mode needs a store", ErrMissingDependency)
		}
		return &Direct{store: deps.Store}, nil

	case config.DeliveryAsync:
		if deps.Async == nil {
			return nil, fmt.Errorf("%w: async mode needs an async inserter", ErrMissingDependency)
		}
		return &Async{inserter: deps.Async, logger: logger}, nil

	case config.DeliveryBatch:
		if deps.Bulk == nil {
			return nil, fmt.Errorf("%w: batch mode needs a bulk inserter", ErrMissingDependency)
		}
		return &Batch{inserter: deps.Bulk}, nil

	case config.DeliveryConnection:
		if deps.Writer == nil {
			return nil, fmt.Errorf("%w: connection mode needs a writer", ErrMissingDependency)
		}
		return &Connection{writer: deps.Writer, fallback: deps.Store, logger: logger}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Direct writes synchronously to the local store.
type Direct struct {
	store *store.Store
}

// Submit stores p before returning.
func (d *Direct) Submit(ctx context.Context, p stream.Point) error {
	return store.WriteDirect(ctx, d.store, p)
}

// Mode returns config.DeliveryDirect.
func (d *Direct) Mode() string { return config.DeliveryDirect }

// Async queues single-point inserts on the store's background worker.
type Async struct {
	inserter *store.AsyncInserter
	logger   Logger

	// OnComplete, when set, receives the submission id and insert result.
	OnComplete func(id string, err error)
}

// Submit queues p and returns. Failures surface through OnComplete and
// the log.
func (a *Async) Submit(_ context.Context, p stream.Point) error {
	id := uuid.NewString()
	return a.inserter.Insert(p, id, func(token any, err error) {
		if err != nil {
			a.logger.Warn("async submission failed", "submission_id", token, "error", err)
		}
		if a.OnComplete != nil {
			a.OnComplete(token.(string), err)
		}
	})
}

// Mode returns config.DeliveryAsync.
func (a *Async) Mode() string { return config.DeliveryAsync }

// Batch adds points to the bulk inserter's current batch.
type Batch struct {
	inserter *store.BulkInserter
}

// Submit appends p to the batch. It is stored on the next flush.
func (b *Batch) Submit(_ context.Context, p stream.Point) error {
	return b.inserter.Add(p)
}

// Mode returns config.DeliveryBatch.
func (b *Batch) Mode() string { return config.DeliveryBatch }

// Connection writes through the persistent connection writer.
//
// When the writer can no longer deliver, because the bind was rejected or
// the writer has closed, the point is written directly to the local store
// instead, if one is configured.
type Connection struct {
	writer   *writer.Writer
	fallback *store.Store
	logger   Logger
}

// Submit writes p through the writer, falling back to the store.
func (c *Connection) Submit(ctx context.Context, p stream.Point) error {
	err := c.writer.Write(p)
	if err == nil {
		return nil
	}
	if c.fallback == nil || !(errors.Is(err, writer.ErrBindRejected) || errors.Is(err, writer.ErrClosed)) {
		return err
	}

	c.logger.Warn("writer unavailable, writing directly to store",
		"stream_id", p.StreamID,
		"error", err,
	)
	if ferr := store.WriteDirect(ctx, c.fallback, p); ferr != nil {
		return fmt.Errorf("%w: %w", ErrFallbackFailed, errors.Join(err, ferr))
	}
	return nil
}

// Mode returns config.DeliveryConnection.
func (c *Connection) Mode() string { return config.DeliveryConnection }
