// Package writer provides the persistent connection writer for stream points.
//
// A Writer owns a one-way connection to a remote sink process. Points written
// before the connection is ready are buffered in submission order and drained
// through the same transmission path as live writes once the binder reports
// the connection. Closing a writer that still holds buffered points is
// deferred until the buffer has been drained, so nothing the caller believes
// was submitted is silently dropped while the process is alive.
//
// # State machine
//
//	UNCONNECTED --Connect--> CONNECTING --OnConnected--> CONNECTED
//	     ^                    |    ^                        |
//	     +---bind rejected----+    +-----OnDisconnected-----+
//
//	any state --Close (buffer empty, or after drain)--> CLOSED
//
// # Concurrency
//
// Live writes, buffer drains and close teardowns are mutually exclusive; a
// drain is atomic with respect to new writes. A separate state lock guards
// the buffer and connection handle and is never held across a call into the
// binder, the sink or the listener, so a slow or failing transport cannot
// deadlock the buffer.
//
// # Usage
//
//	w, err := writer.New(binder,
//	    writer.WithLogger(log),
//	    writer.WithMaxPending(10000, writer.OverflowDropOldest),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := w.Connect(); err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	// No need to wait for the connection; early writes are buffered.
//	err = w.Write(point)
package writer
