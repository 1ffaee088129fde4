package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ohmage/streamwriter/internal/infrastructure/database"
	"github.com/ohmage/streamwriter/internal/stream"
	"github.com/ohmage/streamwriter/internal/writer"
	_ "github.com/ohmage/streamwriter/migrations" // Registers the stream_points schema
)

// openTestStore returns a migrated store in a temporary directory.
func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "streams.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return New(db, opts...)
}

// openUnmigratedStore returns a store whose database has no schema.
func openUnmigratedStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "empty.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return New(db)
}

func testPoint(id string, n int) stream.Point {
	return stream.Point{StreamID: id, StreamVersion: 1, Data: fmt.Sprintf(`{"n":%d}`, n)}
}

// ============================================================
// Store
// ============================================================

func TestExists(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		store *Store
		want  bool
	}{
		{"migrated", openTestStore(t), true},
		{"no schema", openUnmigratedStore(t), false},
		{"nil database", New(nil), false},
		{"nil store", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.store.Exists(ctx); got != tt.want {
				t.Errorf("Exists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInsertAndRecent(t *testing.T) {
	s := openTestStore(t, WithUsername("alice"))
	ctx := context.Background()

	withMeta := stream.Point{StreamID: "mobility", StreamVersion: 2, Metadata: `{"id":"abc"}`, Data: `{"mode":"still"}`}
	if err := s.Insert(ctx, withMeta); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Insert(ctx, testPoint("mobility", 1)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	records, err := s.Recent(ctx, "mobility", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Recent() returned %d records, want 2", len(records))
	}

	// Newest first.
	if records[0].Point.Metadata != "" {
		t.Errorf("records[0] metadata = %q, want empty", records[0].Point.Metadata)
	}
	if records[1].Point != withMeta {
		t.Errorf("records[1].Point = %+v, want %+v", records[1].Point, withMeta)
	}
	if records[1].Username != "alice" {
		t.Errorf("Username = %q, want %q", records[1].Username, "alice")
	}
	if records[1].CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestInsert_Invalid(t *testing.T) {
	s := openTestStore(t)

	err := s.Insert(context.Background(), stream.Point{StreamID: "s", StreamVersion: 1, Data: "nope"})
	if !errors.Is(err, stream.ErrMalformedPayload) {
		t.Errorf("Insert() error = %v, want ErrMalformedPayload", err)
	}
}

func TestBulkInsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	points := []stream.Point{testPoint("a", 0), testPoint("a", 1), testPoint("b", 0)}
	n, err := s.BulkInsert(ctx, points)
	if err != nil {
		t.Fatalf("BulkInsert() error = %v", err)
	}
	if n != 3 {
		t.Errorf("BulkInsert() = %d, want 3", n)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	want := []StreamCount{
		{StreamID: "a", StreamVersion: 1, Count: 2},
		{StreamID: "b", StreamVersion: 1, Count: 1},
	}
	if len(counts) != len(want) {
		t.Fatalf("Counts() = %+v, want %+v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("Counts()[%d] = %+v, want %+v", i, counts[i], want[i])
		}
	}
}

func TestBulkInsert_AllOrNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	points := []stream.Point{testPoint("a", 0), {StreamID: "a", StreamVersion: 1, Data: "{"}}
	if _, err := s.BulkInsert(ctx, points); !errors.Is(err, stream.ErrMalformedPayload) {
		t.Fatalf("BulkInsert() error = %v, want ErrMalformedPayload", err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("Counts() = %+v, want none", counts)
	}
}

func TestStore_Unavailable(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if err := s.Insert(ctx, testPoint("a", 0)); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Insert() error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := s.Counts(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Counts() error = %v, want ErrStoreUnavailable", err)
	}
	if err := s.HealthCheck(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("HealthCheck() error = %v, want ErrStoreUnavailable", err)
	}
}

// ============================================================
// WriteDirect
// ============================================================

func TestWriteDirect(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		store *Store
		point stream.Point
		want  error
	}{
		{"stored", openTestStore(t), testPoint("a", 0), nil},
		{"missing store", New(nil), testPoint("a", 0), ErrStoreUnavailable},
		{"schema not applied", openUnmigratedStore(t), testPoint("a", 0), ErrStoreUnavailable},
		{"invalid before existence check", New(nil), stream.Point{StreamID: "a", StreamVersion: 1, Data: "x"}, stream.ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WriteDirect(ctx, tt.store, tt.point)
			if tt.want == nil && err != nil {
				t.Fatalf("WriteDirect() error = %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("WriteDirect() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// ============================================================
// AsyncInserter
// ============================================================

func TestAsyncInserter(t *testing.T) {
	s := openTestStore(t)
	a := NewAsyncInserter(s, 4)

	var (
		mu     sync.Mutex
		tokens []any
	)
	done := make(chan struct{}, 3)
	cb := func(token any, err error) {
		if err != nil {
			t.Errorf("insert %v error = %v", token, err)
		}
		mu.Lock()
		tokens = append(tokens, token)
		mu.Unlock()
		done <- struct{}{}
	}

	for i := 0; i < 3; i++ {
		if err := a.Insert(testPoint("async", i), i, cb); err != nil {
			t.Fatalf("Insert(%d) error = %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for async insert")
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, tok := range tokens {
		if tok != i {
			t.Errorf("token %d = %v, want %d (submission order)", i, tok, i)
		}
	}

	counts, err := s.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if len(counts) != 1 || counts[0].Count != 3 {
		t.Errorf("Counts() = %+v, want 3 async points", counts)
	}
}

func TestAsyncInserter_ReportsUnavailable(t *testing.T) {
	a := NewAsyncInserter(New(nil), 1)
	errCh := make(chan error, 1)

	if err := a.Insert(testPoint("a", 0), "tok", func(_ any, err error) { errCh <- err }); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStoreUnavailable) {
			t.Errorf("callback error = %v, want ErrStoreUnavailable", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	_ = a.Close()
}

func TestAsyncInserter_Closed(t *testing.T) {
	a := NewAsyncInserter(openTestStore(t), 1)
	_ = a.Close()
	_ = a.Close()

	if err := a.Insert(testPoint("a", 0), nil, nil); !errors.Is(err, ErrInserterClosed) {
		t.Errorf("Insert() after Close() error = %v, want ErrInserterClosed", err)
	}
}

func TestAsyncInserter_RejectsInvalid(t *testing.T) {
	a := NewAsyncInserter(openTestStore(t), 1)
	defer a.Close() //nolint:errcheck // Test cleanup

	called := false
	err := a.Insert(stream.Point{StreamID: "a", StreamVersion: 1, Data: "bad"}, nil, func(any, error) { called = true })
	if !errors.Is(err, stream.ErrMalformedPayload) {
		t.Errorf("Insert() error = %v, want ErrMalformedPayload", err)
	}
	if called {
		t.Error("callback invoked for a rejected point")
	}
}

// ============================================================
// BulkInserter
// ============================================================

func TestBulkInserter_FlushOnSize(t *testing.T) {
	s := openTestStore(t)
	results := make(chan int, 4)
	b := NewBulkInserter(s, BulkConfig{
		BatchSize:  2,
		FlushDelay: time.Hour,
		OnComplete: func(n int, err error) {
			if err != nil {
				t.Errorf("bulk insert error = %v", err)
			}
			results <- n
		},
	})
	defer b.Close() //nolint:errcheck // Test cleanup

	_ = b.Add(testPoint("bulk", 0))
	if got := b.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
	_ = b.Add(testPoint("bulk", 1))

	select {
	case n := <-results:
		if n != 2 {
			t.Errorf("flushed %d points, want 2", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("batch was not flushed on size")
	}
	if got := b.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
}

func TestBulkInserter_FlushOnDelay(t *testing.T) {
	s := openTestStore(t)
	results := make(chan int, 1)
	b := NewBulkInserter(s, BulkConfig{
		BatchSize:  100,
		FlushDelay: 20 * time.Millisecond,
		OnComplete: func(n int, _ error) { results <- n },
	})
	defer b.Close() //nolint:errcheck // Test cleanup

	_ = b.Add(testPoint("bulk", 0))

	select {
	case n := <-results:
		if n != 1 {
			t.Errorf("flushed %d points, want 1", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("batch was not flushed by the ticker")
	}
}

func TestBulkInserter_CloseFlushesRemainder(t *testing.T) {
	s := openTestStore(t)
	b := NewBulkInserter(s, BulkConfig{BatchSize: 100, FlushDelay: time.Hour})

	for i := 0; i < 5; i++ {
		if err := b.Add(testPoint("bulk", i)); err != nil {
			t.Fatalf("Add(%d) error = %v", i, err)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	counts, err := s.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if len(counts) != 1 || counts[0].Count != 5 {
		t.Errorf("Counts() = %+v, want 5 points", counts)
	}

	if err := b.Add(testPoint("bulk", 9)); !errors.Is(err, ErrInserterClosed) {
		t.Errorf("Add() after Close() error = %v, want ErrInserterClosed", err)
	}
}

func TestBulkInserter_ReportsUnavailable(t *testing.T) {
	var gotErr error
	b := NewBulkInserter(New(nil), BulkConfig{
		BatchSize:  10,
		FlushDelay: time.Hour,
		OnComplete: func(_ int, err error) { gotErr = err },
	})

	_ = b.Add(testPoint("a", 0))
	_ = b.Close()

	if !errors.Is(gotErr, ErrStoreUnavailable) {
		t.Errorf("OnComplete error = %v, want ErrStoreUnavailable", gotErr)
	}
}

// ============================================================
// LocalBinder
// ============================================================

func TestLocalBinder_WriterDrainsIntoStore(t *testing.T) {
	s := openTestStore(t)
	binder := NewLocalBinder(s)

	w, err := writer.New(binder)
	if err != nil {
		t.Fatalf("writer.New() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Write(testPoint("local", i)); err != nil {
			t.Fatalf("Write(%d) error = %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not finish deferred close")
	}

	recs, err := s.Recent(context.Background(), "local", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("Recent() returned %d records, want 3", len(recs))
	}
	// Newest first: the last write has the highest n.
	if recs[0].Point.Data != `{"n":2}` || recs[2].Point.Data != `{"n":0}` {
		t.Errorf("Recent() order = %s..%s, want {\"n\":2}..{\"n\":0}", recs[0].Point.Data, recs[2].Point.Data)
	}
}

func TestLocalBinder_RejectsUnknownAction(t *testing.T) {
	binder := NewLocalBinder(openTestStore(t))

	w, err := writer.New(binder, writer.WithAction(stream.ActionView))
	if err != nil {
		t.Fatalf("writer.New() error = %v", err)
	}
	if err := w.Connect(); !errors.Is(err, writer.ErrBindRejected) {
		t.Errorf("Connect() error = %v, want ErrBindRejected", err)
	}
}

func TestLocalBinder_MissingStoreKeepsBuffering(t *testing.T) {
	binder := NewLocalBinder(openUnmigratedStore(t))

	w, err := writer.New(binder)
	if err != nil {
		t.Fatalf("writer.New() error = %v", err)
	}
	if err := w.Write(testPoint("a", 1)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	binder.Wait()

	if got := w.State(); got != writer.StateConnecting {
		t.Errorf("State() = %v, want %v", got, writer.StateConnecting)
	}
	if got := w.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
}

func TestLocalBinder_UnbindBeforeCheck(t *testing.T) {
	binder := NewLocalBinder(openTestStore(t))
	release := make(chan struct{})
	binder.exists = func(context.Context) bool {
		<-release
		return true
	}
	conn := &countingConn{}

	if !binder.Bind(stream.ActionWrite, conn) {
		t.Fatal("Bind() = false, want true")
	}
	binder.Unbind(conn)
	close(release)
	binder.Wait()

	if got := conn.connects.Load(); got != 0 {
		t.Errorf("OnConnected calls = %d, want 0 after unbind", got)
	}
}

type countingConn struct {
	connects atomic.Int32
}

func (c *countingConn) OnConnected(writer.Sink) { c.connects.Add(1) }
func (c *countingConn) OnDisconnected()         {}
