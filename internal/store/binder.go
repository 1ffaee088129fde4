package store

import (
	"context"
	"sync"
	"time"

	"github.com/ohmage/streamwriter/internal/stream"
	"github.com/ohmage/streamwriter/internal/writer"
)

// bindCheckTimeout bounds the Exists check made for each bind.
const bindCheckTimeout = 5 * time.Second

// LocalBinder binds writers directly to the local store.
//
// Bind checks the store and reports OnConnected from a separate goroutine,
// so a writer sees the same asynchronous connect it would get from a remote
// transport. When the store is missing the request is accepted but never
// connects, and the writer keeps buffering.
type LocalBinder struct {
	store  *Store
	logger Logger
	exists func(context.Context) bool

	mu    sync.Mutex
	bound map[writer.Connection]struct{}
	wg    sync.WaitGroup
}

// NewLocalBinder creates a binder over s.
func NewLocalBinder(s *Store) *LocalBinder {
	logger := Logger(noopLogger{})
	if s != nil {
		logger = s.logger
	}
	return &LocalBinder{
		store:  s,
		logger: logger,
		exists: s.Exists,
		bound:  make(map[writer.Connection]struct{}),
	}
}

// Bind accepts write and configure requests.
func (b *LocalBinder) Bind(action string, conn writer.Connection) bool {
	if action != stream.ActionWrite && action != stream.ActionConfigure {
		b.logger.Warn("local bind rejected: unsupported action", "action", action)
		return false
	}

	b.mu.Lock()
	b.bound[conn] = struct{}{}
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), bindCheckTimeout)
		defer cancel()
		if !b.exists(ctx) {
			b.logger.Warn("local store unavailable, bind pending")
			return
		}

		b.mu.Lock()
		_, ok := b.bound[conn]
		b.mu.Unlock()
		if !ok {
			return
		}
		conn.OnConnected(&localSink{store: b.store})
	}()
	return true
}

// Unbind forgets conn. A check still in flight will not connect it.
func (b *LocalBinder) Unbind(conn writer.Connection) {
	b.mu.Lock()
	delete(b.bound, conn)
	b.mu.Unlock()
}

// Wait blocks until all in-flight bind checks have finished.
func (b *LocalBinder) Wait() {
	b.wg.Wait()
}

// localSink inserts each point synchronously.
type localSink struct {
	store *Store
}

func (s *localSink) SendPoint(streamID string, streamVersion int, metadata, data string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultInsertTimeout)
	defer cancel()
	return s.store.Insert(ctx, stream.Point{
		StreamID:      streamID,
		StreamVersion: streamVersion,
		Metadata:      metadata,
		Data:          data,
	})
}
