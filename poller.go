package reactorhttp

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Candidate is a descriptor to watch. Read readiness is watched unless
// NoRead is set; Write adds write readiness. Errors and hangups are
// always reported.
type Candidate struct {
	Fd     int
	Write  bool
	NoRead bool
}

// Readiness is the result of one poll. Each set keeps candidate order.
type Readiness struct {
	Readable []int
	Writable []int
	Errored  []int
}

func (r Readiness) Empty() bool {
	return len(r.Readable) == 0 && len(r.Writable) == 0 && len(r.Errored) == 0
}

// Multiplexer waits until some candidates are ready or timeout elapses.
type Multiplexer interface {
	Poll(candidates []Candidate, timeout time.Duration) (Readiness, error)
}

// Poller is a Multiplexer on top of poll(2).
type Poller struct {
	fds []unix.PollFd // reused between calls
}

func NewPoller() *Poller {
	return &Poller{}
}

func (p *Poller) Poll(candidates []Candidate, timeout time.Duration) (Readiness, error) {
	p.fds = p.fds[:0]
	for _, c := range candidates {
		var events int16
		if !c.NoRead {
			events |= unix.POLLIN
		}
		if c.Write {
			events |= unix.POLLOUT
		}
		p.fds = append(p.fds, unix.PollFd{Fd: int32(c.Fd), Events: events})
	}

	n, err := unix.Poll(p.fds, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return Readiness{}, nil
		}
		return Readiness{}, fmt.Errorf("poll: %w", err)
	}

	var r Readiness
	if n == 0 {
		return r, nil
	}
	for _, pfd := range p.fds {
		fd := int(pfd.Fd)
		if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			r.Errored = append(r.Errored, fd)
		}
		if pfd.Revents&unix.POLLIN != 0 {
			r.Readable = append(r.Readable, fd)
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			r.Writable = append(r.Writable, fd)
		}
	}
	return r, nil
}
