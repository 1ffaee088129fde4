package store

import (
	"context"
	"sync"
	"time"

	"github.com/ohmage/streamwriter/internal/stream"
)

const (
	defaultAsyncQueue    = 256
	defaultInsertTimeout = 5 * time.Second
)

// InsertCallback reports the outcome of an asynchronous insert. The token
// is whatever the caller passed to Insert.
type InsertCallback func(token any, err error)

type insertJob struct {
	point      stream.Point
	token      any
	onComplete InsertCallback
}

// AsyncInserter performs single-point inserts on a background goroutine,
// in submission order.
//
// Thread Safety: All methods are safe for concurrent use.
type AsyncInserter struct {
	store  *Store
	logger Logger

	jobs chan insertJob
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsyncInserter starts the background worker. queueSize bounds how many
// inserts may wait; Insert blocks when the queue is full.
func NewAsyncInserter(s *Store, queueSize int) *AsyncInserter {
	if queueSize <= 0 {
		queueSize = defaultAsyncQueue
	}
	a := &AsyncInserter{
		store:  s,
		logger: noopLogger{},
		jobs:   make(chan insertJob, queueSize),
	}
	if s != nil && s.logger != nil {
		a.logger = s.logger
	}

	a.wg.Add(1)
	go a.run()
	return a
}

// Insert queues p and returns immediately. onComplete (optional) is called
// from the worker goroutine once the insert finishes.
//
// Invalid points are rejected synchronously and never reach the queue.
//
// Returns:
//   - error: a stream validation error or ErrInserterClosed
func (a *AsyncInserter) Insert(p stream.Point, token any, onComplete InsertCallback) error {
	if err := p.Validate(); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrInserterClosed
	}

	a.jobs <- insertJob{point: p, token: token, onComplete: onComplete}
	return nil
}

// Close stops accepting inserts and waits for queued ones to finish.
// Close is idempotent.
func (a *AsyncInserter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.jobs)
	a.mu.Unlock()

	a.wg.Wait()
	return nil
}

func (a *AsyncInserter) run() {
	defer a.wg.Done()
	for job := range a.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), defaultInsertTimeout)
		err := WriteDirect(ctx, a.store, job.point)
		cancel()

		if err != nil {
			a.logger.Warn("async insert failed",
				"stream_id", job.point.StreamID,
				"error", err,
			)
		}
		if job.onComplete != nil {
			job.onComplete(job.token, err)
		}
	}
}
