package reactorhttp

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// socket is the non-blocking byte stream under a Conn.
// Read and Write return errWouldBlock instead of suspending.
type socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Shutdown() error
	Close() error
}

var errWouldBlock = errors.New("operation would block")

// fdSocket is a connected, non-blocking socket file descriptor.
type fdSocket int

func (s fdSocket) Read(p []byte) (int, error) {
	n, err := unix.Read(int(s), p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (s fdSocket) Write(p []byte) (int, error) {
	n, err := unix.Write(int(s), p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (s fdSocket) Shutdown() error {
	err := unix.Shutdown(int(s), unix.SHUT_RDWR)
	if err == unix.ENOTCONN { // peer already gone
		return nil
	}
	return err
}

func (s fdSocket) Close() error {
	return unix.Close(int(s))
}

// listener is a bound, listening, non-blocking IPv4 TCP socket.
type listener struct {
	fd   int
	addr *net.TCPAddr
}

// listen binds 0.0.0.0:port. port 0 picks an ephemeral port.
func listen(port, backlog int) (*listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	fail := func(op string, err error) (*listener, error) {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt SO_REUSEADDR", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("set nonblock", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		return fail(fmt.Sprintf("bind :%d", port), err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	return &listener{fd: fd, addr: sockaddrToTCPAddr(sa)}, nil
}

// accept takes one pending connection. ok is false when the queue is empty.
func (l *listener) accept() (fd int, peer *net.TCPAddr, ok bool, err error) {
	for {
		fd, sa, err := unix.Accept(l.fd)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return -1, nil, false, nil
			}
			return -1, nil, false, err
		}
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fd)
			return -1, nil, false, fmt.Errorf("set nonblock: %w", err)
		}
		return fd, sockaddrToTCPAddr(sa), true, nil
	}
}

func (l *listener) close() error {
	return unix.Close(l.fd)
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3]), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	}
	return &net.TCPAddr{}
}
