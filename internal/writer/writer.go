package writer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/ohmage/streamwriter/internal/stream"
)

// State is the lifecycle state of a Writer.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a connection transition reported to the listener.
type Event int

const (
	EventConnected Event = iota + 1
	EventDisconnected
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Listener receives connection transitions. It is notification-only.
type Listener func(w *Writer, ev Event)

// Sink is the live handle to the remote sink. SendPoint is one-way: a nil
// error means the point was dispatched, not that it was stored.
type Sink interface {
	SendPoint(streamID string, streamVersion int, metadata, data string) error
}

// Connection receives the binder's asynchronous connection events.
// Writer implements Connection.
type Connection interface {
	OnConnected(sink Sink)
	OnDisconnected()
}

// Binder establishes connections to the sink process.
//
// Bind only requests a connection and reports whether the request was
// accepted; the outcome arrives later through conn. Unbind is synchronous
// and idempotent.
type Binder interface {
	Bind(action string, conn Connection) bool
	Unbind(conn Connection)
}

// Stats is a point-in-time snapshot of a writer.
type Stats struct {
	State          State  `json:"-"`
	StateName      string `json:"state"`
	Pending        int    `json:"pending"`
	CloseRequested bool   `json:"close_requested"`
	Sent           uint64 `json:"sent"`
	Failed         uint64 `json:"failed"`
	Dropped        uint64 `json:"dropped"`
	Discarded      uint64 `json:"discarded"`
}

// Writer is the persistent connection writer.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - OnConnected and OnDisconnected may be called from any goroutine.
type Writer struct {
	binder   Binder
	action   string
	listener Listener
	logger   Logger
	metrics  *writerMetrics

	maxPending int
	overflow   OverflowPolicy
	onDrop     func(stream.Point)

	// sendMu serialises live writes, buffer drains and close teardown.
	// Lock order: sendMu before mu.
	sendMu sync.Mutex

	mu             sync.Mutex
	state          State
	sink           Sink
	pending        *queue.Queue
	closeRequested bool
	bound          bool
	closed         chan struct{}

	// epoch changes on every connect and disconnect event.
	epoch uint64

	sent      atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	discarded atomic.Uint64
}

// New creates an unconnected writer that binds through binder.
//
// Returns:
//   - *Writer: Writer in StateUnconnected
//   - error: ErrNilBinder, or a metrics registration failure
func New(binder Binder, opts ...Option) (*Writer, error) {
	if binder == nil {
		return nil, ErrNilBinder
	}

	o := options{
		action: stream.ActionWrite,
		logger: noopLogger{},
		name:   "default",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	w := &Writer{
		binder:     binder,
		action:     o.action,
		listener:   o.listener,
		logger:     o.logger,
		maxPending: o.maxPending,
		overflow:   o.overflow,
		onDrop:     o.onDrop,
		state:      StateUnconnected,
		pending:    queue.New(),
		closed:     make(chan struct{}),
	}

	if o.registerer != nil {
		m, err := newWriterMetrics(o.registerer, o.name)
		if err != nil {
			return nil, err
		}
		w.metrics = m
	}

	return w, nil
}

// Connect requests a connection to the sink.
//
// It does not wait for the connection; the binder reports the outcome via
// OnConnected. Connect is a no-op while connecting or connected.
//
// Returns:
//   - error: nil if the bind request was accepted (or already in progress),
//     ErrBindRejected if the platform refused it, ErrClosed after Close
func (w *Writer) Connect() error {
	w.mu.Lock()
	switch w.state {
	case StateClosed:
		w.mu.Unlock()
		return ErrClosed
	case StateConnecting, StateConnected:
		w.mu.Unlock()
		return nil
	}
	w.state = StateConnecting
	// Marked before Bind: the binder may deliver OnConnected before returning.
	w.bound = true
	w.mu.Unlock()

	w.logger.Debug("requesting sink connection", "action", w.action)
	if w.binder.Bind(w.action, w) {
		return nil
	}

	return w.bindRejected()
}

// bindRejected discards buffered points, completes a deferred close if one
// is pending, and notifies the listener.
func (w *Writer) bindRejected() error {
	w.mu.Lock()
	w.bound = false
	w.sink = nil
	discarded := w.pending.Length()
	w.pending = queue.New()
	if w.state != StateClosed {
		if w.closeRequested {
			w.markClosedLocked()
		} else {
			w.state = StateUnconnected
		}
	}
	w.mu.Unlock()

	w.discarded.Add(uint64(discarded))
	w.metrics.recordDiscarded(discarded)
	w.logger.Warn("sink bind rejected, buffered points discarded",
		"action", w.action,
		"discarded", discarded,
	)
	w.notify(EventDisconnected)

	return fmt.Errorf("%w: action %s, %d buffered points discarded", ErrBindRejected, w.action, discarded)
}

// OnConnected is called by the binder when the connection is ready.
//
// It stores the sink and notifies the listener, then drains the pending
// buffer in FIFO order through the live transmission path and performs a
// deferred close once the buffer is empty.
//
// The writer stays in StateConnecting while the listener runs, so a Write
// from the listener is buffered behind the points already pending and goes
// out with the drain.
func (w *Writer) OnConnected(sink Sink) {
	w.mu.Lock()
	if w.state == StateClosed {
		w.mu.Unlock()
		w.logger.Debug("ignoring connection after close")
		return
	}
	w.epoch++
	epoch := w.epoch
	w.sink = sink
	queued := w.pending.Length()
	w.mu.Unlock()

	w.logger.Info("sink connected", "action", w.action, "pending", queued)
	w.notify(EventConnected)

	w.sendMu.Lock()
	w.mu.Lock()
	// Closed, lost or replaced while the listener ran.
	if w.state == StateClosed || w.epoch != epoch {
		w.mu.Unlock()
		w.sendMu.Unlock()
		return
	}
	w.state = StateConnected
	w.mu.Unlock()

	w.drain()
	closed := w.finishDeferredClose()
	w.sendMu.Unlock()

	if closed {
		w.notify(EventDisconnected)
	}
}

// drain transmits buffered points one at a time until the buffer is empty
// or the connection is lost. Caller holds sendMu.
func (w *Writer) drain() {
	for {
		w.mu.Lock()
		if w.state != StateConnected || w.pending.Length() == 0 {
			w.metrics.setPending(w.pending.Length())
			w.mu.Unlock()
			return
		}
		p := w.pending.Remove().(stream.Point)
		sink := w.sink
		w.mu.Unlock()

		// Each buffered point is attempted once; a failure is not re-queued.
		if err := w.transmit(sink, p); err != nil {
			w.logger.Warn("buffered point not delivered",
				"stream_id", p.StreamID,
				"stream_version", p.StreamVersion,
				"error", err,
			)
		}
	}
}

// finishDeferredClose tears the connection down if Close was requested and
// the drain emptied the buffer. It reports whether it closed the writer.
// Caller holds sendMu.
func (w *Writer) finishDeferredClose() bool {
	w.mu.Lock()
	if !w.closeRequested || w.pending.Length() != 0 || w.state == StateClosed {
		w.mu.Unlock()
		return false
	}
	bound := w.teardownLocked()
	w.mu.Unlock()

	if bound {
		w.binder.Unbind(w)
	}
	w.logger.Info("deferred close completed", "action", w.action)
	return true
}

// OnDisconnected is called by the binder when the connection is lost.
// Buffered points are kept for a future connection.
func (w *Writer) OnDisconnected() {
	w.mu.Lock()
	if w.state == StateClosed {
		w.mu.Unlock()
		return
	}
	w.epoch++
	w.sink = nil
	if w.state == StateConnected {
		w.state = StateConnecting
	}
	pending := w.pending.Length()
	w.mu.Unlock()

	w.logger.Warn("sink disconnected", "action", w.action, "pending", pending)
	w.notify(EventDisconnected)
}

// Write submits a point.
//
// The point is validated first in every state. When connected it is sent
// immediately; otherwise it is appended to the pending buffer and, if no
// connection has been requested yet, Connect is called.
//
// Returns:
//   - error: wrapping stream.ErrMalformedPayload or stream.ErrInvalidStream
//     for invalid points, ErrTransportFailure when a live send fails (the
//     point is not re-queued), ErrBufferFull on overflow, ErrBindRejected
//     when the lazy connect is refused, ErrClosed after Close
func (w *Writer) Write(p stream.Point) error {
	if err := p.Validate(); err != nil {
		return err
	}

	w.sendMu.Lock()
	w.mu.Lock()

	switch w.state {
	case StateClosed:
		w.mu.Unlock()
		w.sendMu.Unlock()
		return ErrClosed

	case StateConnected:
		sink := w.sink
		w.mu.Unlock()
		err := w.transmit(sink, p)
		w.sendMu.Unlock()
		return err
	}

	dropped, err := w.enqueueLocked(p)
	needConnect := err == nil && w.state == StateUnconnected
	w.mu.Unlock()
	w.sendMu.Unlock()

	if err != nil {
		return err
	}
	if dropped != nil && w.onDrop != nil {
		w.onDrop(*dropped)
	}
	if needConnect {
		return w.Connect()
	}
	return nil
}

// enqueueLocked appends p to the pending buffer, applying the overflow
// policy. It returns the point evicted by OverflowDropOldest, if any.
// Caller holds mu.
func (w *Writer) enqueueLocked(p stream.Point) (*stream.Point, error) {
	var evicted *stream.Point
	if w.maxPending > 0 && w.pending.Length() >= w.maxPending {
		switch w.overflow {
		case OverflowDropOldest:
			oldest := w.pending.Remove().(stream.Point)
			w.dropped.Add(1)
			w.metrics.recordDropped()
			w.logger.Warn("pending buffer full, dropped oldest point",
				"stream_id", oldest.StreamID,
				"max_pending", w.maxPending,
			)
			evicted = &oldest
		default:
			return nil, fmt.Errorf("%w: %d points pending", ErrBufferFull, w.pending.Length())
		}
	}

	w.pending.Add(p)
	w.metrics.recordBuffered(w.pending.Length())
	return evicted, nil
}

// transmit forwards p to sink with the one-way call.
func (w *Writer) transmit(sink Sink, p stream.Point) error {
	if sink == nil {
		w.failed.Add(1)
		w.metrics.recordFailed()
		return fmt.Errorf("%w: no live connection", ErrTransportFailure)
	}

	if err := sink.SendPoint(p.StreamID, p.StreamVersion, p.Metadata, p.Data); err != nil {
		w.failed.Add(1)
		w.metrics.recordFailed()
		return fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}

	w.sent.Add(1)
	w.metrics.recordSent()
	return nil
}

// Close closes the writer.
//
// With an empty buffer the connection is torn down immediately. Otherwise
// the close is deferred until the buffer has been drained into a live
// connection; use Done to wait for it. Close is idempotent.
func (w *Writer) Close() error {
	w.sendMu.Lock()

	w.mu.Lock()
	if w.state == StateClosed {
		w.mu.Unlock()
		w.sendMu.Unlock()
		return nil
	}
	if pending := w.pending.Length(); pending > 0 {
		w.closeRequested = true
		w.mu.Unlock()
		w.sendMu.Unlock()
		w.logger.Info("close deferred until buffer drains", "pending", pending)
		return nil
	}
	live := w.sink != nil
	bound := w.teardownLocked()
	w.mu.Unlock()

	if bound {
		w.binder.Unbind(w)
	}
	w.sendMu.Unlock()

	w.logger.Info("writer closed", "action", w.action)
	if live {
		w.notify(EventDisconnected)
	}
	return nil
}

// Abort closes the writer immediately, discarding any pending points, and
// unbinds from the sink. It is meant for shutdown after a deferred close
// has waited long enough. Abort waits for a drain in progress to finish.
//
// Returns:
//   - int: number of pending points discarded
func (w *Writer) Abort() int {
	w.sendMu.Lock()

	w.mu.Lock()
	if w.state == StateClosed {
		w.mu.Unlock()
		w.sendMu.Unlock()
		return 0
	}
	discarded := w.pending.Length()
	w.pending = queue.New()
	live := w.sink != nil
	bound := w.teardownLocked()
	w.mu.Unlock()

	if bound {
		w.binder.Unbind(w)
	}
	w.sendMu.Unlock()

	w.discarded.Add(uint64(discarded))
	w.metrics.recordDiscarded(discarded)
	w.logger.Warn("writer aborted", "action", w.action, "discarded", discarded)
	if live {
		w.notify(EventDisconnected)
	}
	return discarded
}

// teardownLocked moves to StateClosed and reports whether Unbind is owed.
// Caller holds mu.
func (w *Writer) teardownLocked() bool {
	bound := w.bound
	w.bound = false
	w.sink = nil
	w.markClosedLocked()
	return bound
}

// markClosedLocked enters StateClosed once. Caller holds mu.
func (w *Writer) markClosedLocked() {
	if w.state == StateClosed {
		return
	}
	w.state = StateClosed
	close(w.closed)
}

// Done returns a channel that is closed once the writer reaches StateClosed.
func (w *Writer) Done() <-chan struct{} {
	return w.closed
}

// State returns the current lifecycle state.
func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Pending returns the number of buffered points.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending.Length()
}

// Stats returns a snapshot of the writer's state and counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	s := Stats{
		State:          w.state,
		StateName:      w.state.String(),
		Pending:        w.pending.Length(),
		CloseRequested: w.closeRequested,
	}
	w.mu.Unlock()

	s.Sent = w.sent.Load()
	s.Failed = w.failed.Load()
	s.Dropped = w.dropped.Load()
	s.Discarded = w.discarded.Load()
	return s
}

// notify invokes the listener with panic recovery. Never called with a
// writer lock held.
func (w *Writer) notify(ev Event) {
	if w.listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("writer listener panic recovered", "event", ev.String(), "panic", r)
		}
	}()
	w.listener(w, ev)
}
