package reactorhttp

import (
	"errors"
	"fmt"
	"net"
)

// State of a Conn in the event loop.
type State int

const (
	// StateOpen conns are registered and may be read and written.
	StateOpen State = iota
	// StateClosing conns are torn down at the end of the current tick.
	StateClosing
	// StateClosed conns are out of the registry.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrInboundOverflow  = errors.New("inbound buffer limit exceeded")
	ErrOutboundOverflow = errors.New("outbound buffer limit exceeded")
)

// Conn is one accepted connection with its input and output buffers.
//
// inbound only shrinks by the bytes a parse consumed, and outbound only
// shrinks by the bytes the socket accepted. Anything else stays buffered
// for a later tick.
type Conn struct {
	fd    int
	sock  socket
	peer  net.Addr
	state State

	inbound  []byte
	outbound []byte
	parser   Parser

	response    []byte
	closeAfter  bool // response declares Connection: close
	responses   int  // responses queued so far
	maxInbound  int
	maxOutbound int

	readClosed  bool // peer sent FIN, only writing remains
	closeReason string
}

// newConn wraps an accepted socket. resp is queued once per request.
func newConn(fd int, sock socket, peer net.Addr, resp *Response, maxInbound, maxOutbound int) *Conn {
	return &Conn{
		fd:          fd,
		sock:        sock,
		peer:        peer,
		state:       StateOpen,
		response:    resp.Bytes(),
		closeAfter:  resp.ClosesConnection(),
		maxInbound:  maxInbound,
		maxOutbound: maxOutbound,
	}
}

func (c *Conn) Fd() int              { return c.fd }
func (c *Conn) RemoteAddr() net.Addr { return c.peer }
func (c *Conn) State() State         { return c.state }

// Inbound returns the unparsed input. The slice is only valid until the
// next call that changes the buffer.
func (c *Conn) Inbound() []byte { return c.inbound }

// Outbound returns the unsent output, valid like Inbound.
func (c *Conn) Outbound() []byte { return c.outbound }

// Receive appends data to the input buffer. It returns false for an empty
// read, which on a readable socket means the peer closed its side.
func (c *Conn) Receive(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	c.inbound = append(c.inbound, data...)
	return true
}

// Fill does one non-blocking read from the socket into the input buffer.
// It returns false once the peer has closed. A read that would block is
// not an error.
func (c *Conn) Fill() (bool, error) {
	var buf [readChunk]byte
	n, err := c.sock.Read(buf[:])
	if err != nil {
		if errors.Is(err, errWouldBlock) {
			return true, nil
		}
		return false, fmt.Errorf("read: %w", err)
	}
	return c.Receive(buf[:n]), nil
}

// DrainRequests parses every complete request buffered so far, removes
// exactly the bytes they occupied, and queues one response per request.
//
// A *DecodeError, ErrMalformedRequest or an overflow means the connection
// has to be closed. Requests parsed before a malformed block are still
// returned.
func (c *Conn) DrainRequests() ([]*Request, error) {
	requests, consumed, err := c.parser.Parse(c.inbound)
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return nil, err
	}

	c.consume(consumed)
	for range requests {
		if err := c.Enqueue(c.response); err != nil {
			return requests, err
		}
		c.responses++
	}
	if err != nil {
		return requests, err
	}

	if len(c.inbound) > c.maxInbound {
		return requests, fmt.Errorf("%w: %d bytes without a complete request", ErrInboundOverflow, len(c.inbound))
	}
	return requests, nil
}

// consume drops n bytes from the front of the input buffer.
func (c *Conn) consume(n int) {
	if n == 0 {
		return
	}
	rest := copy(c.inbound, c.inbound[n:])
	c.inbound = c.inbound[:rest]
}

// Enqueue appends b to the output buffer.
func (c *Conn) Enqueue(b []byte) error {
	if len(c.outbound)+len(b) > c.maxOutbound {
		return fmt.Errorf("%w: %d bytes pending", ErrOutboundOverflow, len(c.outbound))
	}
	c.outbound = append(c.outbound, b...)
	return nil
}

func (c *Conn) HasPendingOutput() bool {
	return len(c.outbound) > 0
}

// Flush writes as much of the output buffer as the socket takes without
// blocking, in chunks of at most writeChunk bytes, and returns the number
// of bytes sent. Only the sent prefix leaves the buffer.
func (c *Conn) Flush() (int, error) {
	sent := 0
	for len(c.outbound) > 0 {
		chunk := c.outbound
		if len(chunk) > writeChunk {
			chunk = chunk[:writeChunk]
		}

		n, err := c.sock.Write(chunk)
		if n > 0 {
			c.outbound = c.outbound[n:]
			sent += n
		}
		if err != nil {
			if errors.Is(err, errWouldBlock) {
				break
			}
			return sent, fmt.Errorf("write: %w", err)
		}
		if n == 0 {
			break
		}
	}
	if len(c.outbound) == 0 {
		c.outbound = nil
	}
	return sent, nil
}

// Done reports whether the exchange is over: everything queued has been
// sent, and either a response that closes the connection was queued or
// the peer will send nothing more.
func (c *Conn) Done() bool {
	if c.HasPendingOutput() {
		return false
	}
	return c.readClosed || (c.closeAfter && c.responses > 0)
}

// ReadClosed reports whether the peer closed its sending side.
func (c *Conn) ReadClosed() bool { return c.readClosed }

// closeRead stops reading after the peer's FIN. Output still pending is
// flushed on later ticks.
func (c *Conn) closeRead() {
	c.readClosed = true
}

// markClosing schedules the conn for teardown. The first reason is kept.
func (c *Conn) markClosing(reason string) {
	if c.state != StateOpen {
		return
	}
	c.state = StateClosing
	c.closeReason = reason
}

// Close shuts down both directions of the socket and releases it along
// with both buffers. Only the first call does anything.
func (c *Conn) Close() error {
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	c.inbound = nil
	c.outbound = nil
	c.parser.Reset()

	shutdownErr := c.sock.Shutdown()
	if err := c.sock.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	return nil
}
