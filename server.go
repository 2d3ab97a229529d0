package reactorhttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrServerClosed = errors.New("server closed")

// Server is a single goroutine reactor: it polls the listener and every
// registered connection, and answers each complete request with the ack
// response.
//
// A Server is not safe for concurrent use. Listen, Tick, Serve and Close
// must all be called from the same goroutine.
type Server struct {
	// Handler observes parsed requests. nil means Logger(config.Logger).
	Handler Handler

	config   Config
	log      *logrus.Logger
	mux      Multiplexer
	listener *listener
	registry *Registry
	response *Response
	closed   bool

	// after an accept error the listener is not polled until acceptRetry
	acceptDelay time.Duration
	acceptRetry time.Time
}

// NewServer makes a server that answers with NewAckResponse.
// Zero fields of config, except Port, take their defaults.
func NewServer(config Config) *Server {
	config = config.withDefaults()
	return &Server{
		config:   config,
		log:      config.Logger,
		mux:      NewPoller(),
		registry: NewRegistry(),
		response: NewAckResponse(),
	}
}

// Listen binds the listening socket. A failure here is fatal to the server.
func (s *Server) Listen() error {
	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return errors.New("already listening")
	}
	l, err := listen(s.config.Port, s.config.Backlog)
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}
	s.listener = l
	s.log.WithField("addr", l.addr.String()).Info("listening")
	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.addr
}

// Conns is the number of registered connections.
func (s *Server) Conns() int {
	return s.registry.Len()
}

// ListenAndServe binds the port and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the loop until ctx is done, then closes every connection and
// the listener. ctx is checked once per tick, so shutdown takes at most
// one poll timeout.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("serve: not listening")
	}
	defer s.Close()

	for {
		if err := ctx.Err(); err != nil {
			s.log.Info("shutting down")
			return nil
		}
		if err := s.Tick(); err != nil {
			return err
		}
	}
}

// Tick runs one iteration of the loop: poll, accept, read and parse,
// flush, then reap connections marked for closing.
// It only fails when the multiplexer does; connection faults close the
// connection involved and nothing else.
func (s *Server) Tick() error {
	if s.closed {
		return ErrServerClosed
	}
	if s.listener == nil {
		return errors.New("tick: not listening")
	}

	now := time.Now()
	ready, err := s.mux.Poll(s.candidates(now), s.pollTimeout(now))
	if err != nil {
		return err
	}

	for _, fd := range ready.Readable {
		if fd == s.listener.fd {
			s.acceptAll()
			continue
		}
		if c, ok := s.openConn(fd); ok && !c.ReadClosed() {
			s.read(c)
		}
	}

	for _, fd := range ready.Writable {
		if c, ok := s.openConn(fd); ok {
			s.write(c)
		}
	}

	for _, fd := range ready.Errored {
		if fd == s.listener.fd {
			s.log.Warn("listener reported an error")
			continue
		}
		if c, ok := s.openConn(fd); ok {
			c.markClosing("socket error")
		}
	}

	s.reap()
	return nil
}

// candidates is the listener plus every registered conn. Conns are only
// watched for writing while they have output, and for reading until the
// peer's FIN, otherwise poll would return at once on every tick. The
// listener sits out while accept is backing off.
func (s *Server) candidates(now time.Time) []Candidate {
	fds := s.registry.Handles()
	cs := make([]Candidate, 0, len(fds)+1)
	if !now.Before(s.acceptRetry) {
		cs = append(cs, Candidate{Fd: s.listener.fd})
	}
	for _, fd := range fds {
		c, _ := s.registry.Get(fd)
		cs = append(cs, Candidate{Fd: fd, Write: c.HasPendingOutput(), NoRead: c.ReadClosed()})
	}
	return cs
}

// pollTimeout is the configured timeout, cut short so a paused listener
// is polled again once its backoff ends.
func (s *Server) pollTimeout(now time.Time) time.Duration {
	timeout := s.config.PollTimeout
	if wait := s.acceptRetry.Sub(now); wait > 0 && wait < timeout {
		timeout = wait
	}
	return timeout
}

// acceptFailed pauses accepting, doubling the pause on each failure in a
// row up to acceptDelayMax.
func (s *Server) acceptFailed(now time.Time) {
	if s.acceptDelay == 0 {
		s.acceptDelay = acceptDelayMin
	} else {
		s.acceptDelay *= 2
	}
	if s.acceptDelay > acceptDelayMax {
		s.acceptDelay = acceptDelayMax
	}
	s.acceptRetry = now.Add(s.acceptDelay)
}

func (s *Server) openConn(fd int) (*Conn, bool) {
	c, ok := s.registry.Get(fd)
	if !ok || c.State() != StateOpen {
		return nil, false
	}
	return c, true
}

// acceptAll drains the accept queue.
func (s *Server) acceptAll() {
	for {
		fd, peer, ok, err := s.listener.accept()
		if err != nil {
			s.acceptFailed(time.Now())
			s.log.WithError(err).WithField("retry_in", s.acceptDelay).Warn("accept")
			return
		}
		if !ok {
			return
		}
		s.acceptDelay = 0

		c := newConn(fd, fdSocket(fd), peer, s.response, s.config.MaxInbound, s.config.MaxOutbound)
		if err := s.registry.Add(c); err != nil {
			// the kernel never hands out a live fd twice
			s.log.WithError(err).Error("accept")
			_ = c.Close()
			continue
		}
		s.connLog(c).Info("connected")
	}
}

func (s *Server) read(c *Conn) {
	open, err := c.Fill()
	if err != nil {
		s.connLog(c).WithError(err).Debug("read failed")
		c.markClosing(err.Error())
		return
	}
	if !open {
		if c.HasPendingOutput() {
			c.closeRead()
			return
		}
		c.markClosing("closed by peer")
		return
	}

	requests, err := c.DrainRequests()
	for _, r := range requests {
		if !s.dispatch(c, r) {
			return
		}
	}
	if err != nil {
		s.connLog(c).WithError(err).Debug("bad input")
		c.markClosing(err.Error())
	}
}

// dispatch hands r to the handler. A panicking handler costs only its
// own connection.
func (s *Server) dispatch(c *Conn, r *Request) (ok bool) {
	defer func() {
		if err := recover(); err != nil {
			s.connLog(c).WithField("panic", err).Errorf("handler panic\n%s", debug.Stack())
			c.markClosing(fmt.Sprintf("handler panic: %v", err))
			ok = false
		}
	}()

	h := s.Handler
	if h == nil {
		h = Logger(s.log)
	}
	h.ServeRequest(c, r)
	return true
}

func (s *Server) write(c *Conn) {
	if c.HasPendingOutput() {
		if _, err := c.Flush(); err != nil {
			s.connLog(c).WithError(err).Debug("write failed")
			c.markClosing(err.Error())
			return
		}
	}
	if c.Done() {
		c.markClosing("response sent")
	}
}

// reap closes and unregisters every conn marked for closing.
func (s *Server) reap() {
	for _, fd := range s.registry.Handles() {
		c, _ := s.registry.Get(fd)
		if c.State() != StateClosing {
			continue
		}
		s.closeConn(c, c.closeReason)
	}
}

func (s *Server) closeConn(c *Conn, reason string) {
	if err := c.Close(); err != nil {
		s.connLog(c).WithError(err).Debug("close")
	}
	if err := s.registry.Remove(c.Fd()); err != nil {
		s.log.WithError(err).Error("reap")
	}
	s.connLog(c).WithField("reason", reason).Info("closed")
}

// Close closes every live connection and the listener.
// The server cannot be used afterwards.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	for _, fd := range s.registry.Handles() {
		c, _ := s.registry.Get(fd)
		s.closeConn(c, "server shutdown")
	}
	if s.listener == nil {
		return nil
	}
	return s.listener.close()
}

func (s *Server) connLog(c *Conn) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{
		"fd":   c.Fd(),
		"peer": c.RemoteAddr().String(),
	})
}
