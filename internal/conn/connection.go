// Package conn wraps a net.Conn with the buffering and framing needed to
// read and write protocol.Frame values over the wire.
package conn

import (
	"errors"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/segmentdb/segment/internal/protocol"
)

// ErrReset is returned by ReadFrame when the peer closed the connection
// mid-frame, leaving unparseable bytes buffered.
var ErrReset = errors.New("connection reset by peer")

// Connection reads and writes protocol.Frame values over a net.Conn. It owns
// a single growable read buffer; only one goroutine may call ReadFrame (and,
// separately, only one may call WriteFrame/WriteError) on a Connection at a
// time.
type Connection struct {
	id      string
	nc      net.Conn
	buf     []byte
	scratch []byte
}

// New wraps nc. bufSize is the initial read buffer capacity; the buffer
// grows as needed for larger frames.
func New(nc net.Conn, bufSize int) *Connection {
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &Connection{
		id:      uuid.NewString(),
		nc:      nc,
		buf:     make([]byte, 0, bufSize),
		scratch: make([]byte, bufSize),
	}
}

// ID returns a unique identifier for this connection's lifetime, suitable
// for correlating log lines.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the underlying connection's remote address.
func (c *Connection) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the underlying connection.
func (c *Connection) Close() error { return c.nc.Close() }

// ReadFrame reads and parses one frame, blocking until a full frame is
// available, the peer closes cleanly, or an error occurs. A nil Frame and
// nil error together mean the peer closed the connection with no partial
// frame buffered.
func (c *Connection) ReadFrame() (*protocol.Frame, error) {
	for {
		if frame, n, err := protocol.Parse(c.buf); err == nil {
			c.buf = c.buf[n:]
			return &frame, nil
		} else if !errors.Is(err, protocol.ErrIncomplete) {
			return nil, err
		}

		n, err := c.nc.Read(c.scratch)
		if n > 0 {
			c.buf = append(c.buf, c.scratch[:n]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			if len(c.buf) == 0 {
				return nil, nil
			}
			return nil, ErrReset
		}
	}
}

// WriteFrame serializes and writes frame to the connection.
func (c *Connection) WriteFrame(frame protocol.Frame) error {
	out, err := protocol.Write(nil, frame)
	if err != nil {
		return err
	}
	_, err = c.nc.Write(out)
	return err
}

// WriteError writes err as an Error frame.
func (c *Connection) WriteError(err error) error {
	return c.WriteFrame(protocol.Err(err.Error()))
}
