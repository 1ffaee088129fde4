package writer

import (
	"errors"
	"sync"

	"github.com/ohmage/streamwriter/internal/stream"
)

// fakeBinder records bind requests and lets tests deliver connection events.
type fakeBinder struct {
	mu      sync.Mutex
	accept  bool
	binds   int
	unbinds int
	actions []string
	conn    Connection

	// connectSink, when set, is delivered synchronously from Bind.
	connectSink Sink
}

func newFakeBinder(accept bool) *fakeBinder {
	return &fakeBinder{accept: accept}
}

func (b *fakeBinder) Bind(action string, conn Connection) bool {
	b.mu.Lock()
	b.binds++
	b.actions = append(b.actions, action)
	b.conn = conn
	accept := b.accept
	sink := b.connectSink
	b.mu.Unlock()

	if accept && sink != nil {
		conn.OnConnected(sink)
	}
	return accept
}

func (b *fakeBinder) Unbind(_ Connection) {
	b.mu.Lock()
	b.unbinds++
	b.mu.Unlock()
}

func (b *fakeBinder) bindCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.binds
}

func (b *fakeBinder) unbindCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unbinds
}

// errSendFailed is returned by fakeSink when failing is set.
var errSendFailed = errors.New("remote process vanished")

// fakeSink records every point it receives, in order.
type fakeSink struct {
	mu      sync.Mutex
	points  []stream.Point
	failing bool

	// onSend, when set, runs inside SendPoint before recording.
	onSend func(p stream.Point)
}

func (s *fakeSink) SendPoint(streamID string, streamVersion int, metadata, data string) error {
	p := stream.Point{StreamID: streamID, StreamVersion: streamVersion, Metadata: metadata, Data: data}

	s.mu.Lock()
	hook := s.onSend
	s.mu.Unlock()

	if hook != nil {
		hook(p)
	}

	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return errSendFailed
	}

	s.mu.Lock()
	s.points = append(s.points, p)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) received() []stream.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stream.Point, len(s.points))
	copy(out, s.points)
	return out
}

func (s *fakeSink) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

// recordingListener captures listener events.
type recordingListener struct {
	mu     sync.Mutex
	events []Event
}

func (l *recordingListener) listen(_ *Writer, ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *recordingListener) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
