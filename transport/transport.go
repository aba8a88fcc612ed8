// Package transport defines the byte-stream transport adapter the channel
// package's fill and send loops drive, and provides the one concrete
// variant named in the spec: a stream-shaped adapter over net.Conn (Conn),
// plus DeadlineConn, which sets a deadline before each operation. It has no
// in-memory loopback adapter of its own.
//
// Other adapters (datagram, TLS, WebSocket) substitute a different
// transport without the parser driver changing at all — the same design
// intent behind the teacher's Protocol enum in
// code.hybscloud.com/framer/options.go, here expressed as an interface
// seam instead of a mode switch.
package transport

import (
	"io"
	"net"
	"time"
)

// Transport is the minimal byte-stream surface the channel package needs:
// a blocking reader, a blocking writer, an explicit flush, and a close that
// unblocks any reader/writer waiting on the underlying resource.
type Transport interface {
	io.Reader
	io.Writer
	// Flush pushes any writer-side buffering out to the wire. Adapters with
	// no internal buffering (e.g. a bare net.Conn) implement this as a no-op.
	Flush() error
	// Close unblocks any in-flight Read/Write and releases the resource.
	// Must be safe to call more than once.
	Close() error
}

// Conn adapts a net.Conn to Transport. Reads and writes pass straight
// through; Flush is a no-op since net.Conn has no internal buffering.
type Conn struct {
	net.Conn
}

// NewConn wraps c as a Transport.
func NewConn(c net.Conn) *Conn { return &Conn{Conn: c} }

// Flush is a no-op: net.Conn writes are not buffered by this adapter.
func (c *Conn) Flush() error { return nil }

// Close is safe to call more than once; a second call on most net.Conn
// implementations returns a benign "use of closed network connection"
// error, which callers of Transport.Close are expected to ignore.
func (c *Conn) Close() error { return c.Conn.Close() }

// DeadlineConn is a Conn that applies a fixed read/write deadline before
// every operation, letting a caller bound how long the fill/send loops can
// block on a misbehaving peer without the channel core needing to know
// about deadlines at all.
type DeadlineConn struct {
	net.Conn
	Timeout time.Duration
}

// NewDeadlineConn wraps c, applying timeout before every Read and Write.
func NewDeadlineConn(c net.Conn, timeout time.Duration) *DeadlineConn {
	return &DeadlineConn{Conn: c, Timeout: timeout}
}

func (c *DeadlineConn) Read(p []byte) (int, error) {
	if c.Timeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Timeout))
	}
	return c.Conn.Read(p)
}

func (c *DeadlineConn) Write(p []byte) (int, error) {
	if c.Timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Timeout))
	}
	return c.Conn.Write(p)
}

func (c *DeadlineConn) Flush() error { return nil }
