package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ohmage/streamwriter/internal/infrastructure/database"
	"github.com/ohmage/streamwriter/internal/stream"
)

// pointsTable is created by the embedded migrations.
const pointsTable = "stream_points"

const insertSQL = `INSERT INTO stream_points
	(stream_id, stream_version, username, stream_metadata, stream_data, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

// Logger defines the logging interface for the store.
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

// StreamCount is one row of the counts view: points stored per stream
// version.
type StreamCount struct {
	StreamID      string `json:"stream_id"`
	StreamVersion int    `json:"stream_version"`
	Count         int64  `json:"count"`
}

// Record is a stored point with its row metadata.
type Record struct {
	ID        int64        `json:"id"`
	Username  string       `json:"username"`
	CreatedAt time.Time    `json:"created_at"`
	Point     stream.Point `json:"-"`
}

// Store is the SQLite-backed local stream store.
//
// Thread Safety: All methods are safe for concurrent use. SQLite serialises
// writers on the single pooled connection.
type Store struct {
	db       *database.DB
	username string
	logger   Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithUsername sets the username column written with every point.
func WithUsername(username string) Option {
	return func(s *Store) {
		s.username = username
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wraps an open database. A nil db yields a store whose Exists reports
// false and whose writes fail with ErrStoreUnavailable.
func New(db *database.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: noopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exists checks for the store: an open database with the points table.
func (s *Store) Exists(ctx context.Context) bool {
	if s == nil || s.db == nil {
		return false
	}
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", pointsTable,
	).Scan(&name)
	return err == nil
}

// Insert validates and stores a single point.
//
// Returns:
//   - error: wrapping a stream validation error, ErrStoreUnavailable, or
//     ErrInsertFailed
func (s *Store) Insert(ctx context.Context, p stream.Point) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}

	if _, err := s.db.ExecContext(ctx, insertSQL, s.args(p)...); err != nil {
		return fmt.Errorf("%w: %w", ErrInsertFailed, err)
	}
	return nil
}

// BulkInsert stores points in a single transaction. Either every point is
// stored or none is.
//
// Returns:
//   - int: number of points inserted
//   - error: the first validation or insert failure
func (s *Store) BulkInsert(ctx context.Context, points []stream.Point) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	for i, p := range points {
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("point %d: %w", i, err)
		}
	}
	if s == nil || s.db == nil {
		return 0, ErrStoreUnavailable
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInsertFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, fmt.Errorf("%w: preparing insert: %w", ErrInsertFailed, err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, s.args(p)...); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInsertFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: committing: %w", ErrInsertFailed, err)
	}
	return len(points), nil
}

// Counts returns the number of stored points per stream version.
func (s *Store) Counts(ctx context.Context) ([]StreamCount, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT stream_id, stream_version, COUNT(*)
		FROM stream_points
		GROUP BY stream_id, stream_version
		ORDER BY stream_id, stream_version`)
	if err != nil {
		return nil, fmt.Errorf("querying counts: %w", err)
	}
	defer rows.Close()

	var counts []StreamCount
	for rows.Next() {
		var c StreamCount
		if err := rows.Scan(&c.StreamID, &c.StreamVersion, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating counts: %w", err)
	}
	return counts, nil
}

// Recent returns up to limit points for a stream, newest first.
func (s *Store) Recent(ctx context.Context, streamID string, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 {
		limit = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream_id, stream_version, username, stream_metadata, stream_data, created_at
		FROM stream_points
		WHERE stream_id = ?
		ORDER BY id DESC
		LIMIT ?`, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent points: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r         Record
			metadata  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.Point.StreamID, &r.Point.StreamVersion, &r.Username,
			&metadata, &r.Point.Data, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning point row: %w", err)
		}
		r.Point.Metadata = metadata.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Written by args
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating points: %w", err)
	}
	return records, nil
}

// HealthCheck reports whether the underlying database answers.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	return s.db.HealthCheck(ctx)
}

// args maps a point onto the insert columns.
func (s *Store) args(p stream.Point) []any {
	v := p.Values()
	return []any{
		v[stream.ColumnStreamID],
		v[stream.ColumnStreamVersion],
		s.username,
		v[stream.ColumnStreamMetadata],
		v[stream.ColumnStreamData],
		s.now().UTC().Format(time.RFC3339Nano),
	}
}
