package store

import (
	"context"
	"sync"
	"time"

	"github.com/ohmage/streamwriter/internal/stream"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = time.Second
	bulkWriteTimeout  = 10 * time.Second
)

// BulkCallback reports the result of one bulk insert: how many points were
// written and the error, if any. On error no point in the batch was stored.
type BulkCallback func(inserted int, err error)

// BulkConfig configures a BulkInserter.
type BulkConfig struct {
	// BatchSize triggers a flush when this many points are queued.
	BatchSize int

	// FlushDelay flushes a partial batch after it has waited this long.
	FlushDelay time.Duration

	// OnComplete is called after every flush that had points to write.
	OnComplete BulkCallback
}

// BulkInserter accumulates points and writes them in one transaction when
// the batch fills or the flush ticker fires.
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines. Only one flush writes at a time.
type BulkInserter struct {
	store      *Store
	logger     Logger
	onComplete BulkCallback

	batchMu   sync.Mutex
	batch     []stream.Point
	batchSize int

	flushMu   sync.Mutex
	flushTick *time.Ticker
	done      chan struct{}
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewBulkInserter starts the background flush loop.
func NewBulkInserter(s *Store, cfg BulkConfig) *BulkInserter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = defaultFlushDelay
	}

	b := &BulkInserter{
		store:      s,
		logger:     noopLogger{},
		onComplete: cfg.OnComplete,
		batch:      make([]stream.Point, 0, cfg.BatchSize),
		batchSize:  cfg.BatchSize,
		flushTick:  time.NewTicker(cfg.FlushDelay),
		done:       make(chan struct{}),
	}
	if s != nil && s.logger != nil {
		b.logger = s.logger
	}

	b.wg.Add(1)
	go b.flushLoop()
	return b
}

func (b *BulkInserter) flushLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.flushTick.C:
			b.Flush()
		case <-b.done:
			return
		}
	}
}

// Add validates p and appends it to the current batch, flushing when the
// batch is full.
//
// Returns:
//   - error: a stream validation error or ErrInserterClosed
func (b *BulkInserter) Add(p stream.Point) error {
	if err := p.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrInserterClosed
	}
	b.batchMu.Lock()
	b.batch = append(b.batch, p)
	full := len(b.batch) >= b.batchSize
	b.batchMu.Unlock()
	b.mu.RUnlock()

	if full {
		b.Flush()
	}
	return nil
}

// Pending returns the number of points waiting for the next flush.
func (b *BulkInserter) Pending() int {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	return len(b.batch)
}

// Flush writes the current batch now. Errors are delivered to OnComplete.
func (b *BulkInserter) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.batchMu.Lock()
	if len(b.batch) == 0 {
		b.batchMu.Unlock()
		return
	}
	points := b.batch
	b.batch = make([]stream.Point, 0, b.batchSize)
	b.batchMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), bulkWriteTimeout)
	defer cancel()

	var (
		n   int
		err error
	)
	if !b.store.Exists(ctx) {
		err = ErrStoreUnavailable
	} else {
		n, err = b.store.BulkInsert(ctx, points)
	}

	if err != nil {
		b.logger.Warn("bulk insert failed", "points", len(points), "error", err)
	} else {
		b.logger.Debug("bulk insert complete", "points", n)
	}
	if b.onComplete != nil {
		b.onComplete(n, err)
	}
}

// Close stops the flush loop and writes any remaining points.
// Close is idempotent.
func (b *BulkInserter) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.flushTick.Stop()
	close(b.done)
	b.wg.Wait()

	b.Flush()
	return nil
}
