package reactorhttp

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultPort is the well-known HTTP port.
	DefaultPort = 80

	// DefaultPollTimeout bounds each wait for readiness, so the loop
	// regains control at least once a second even when idle.
	DefaultPollTimeout = 1 * time.Second

	// DefaultMaxInbound is the largest unparsed input a connection may
	// hold. A peer that goes past it without completing a request is
	// disconnected.
	DefaultMaxInbound = 64 << 10

	// DefaultMaxOutbound is the largest unsent output a connection may
	// hold before it is disconnected.
	DefaultMaxOutbound = 1 << 20

	DefaultBacklog = 128

	// acceptDelayMin and acceptDelayMax bound the pause after a failed
	// accept, e.g. EMFILE, while the listener is left out of the poll.
	acceptDelayMin = 5 * time.Millisecond
	acceptDelayMax = 1 * time.Second

	// readChunk and writeChunk bound a single read or write syscall.
	readChunk  = 4096
	writeChunk = 4096
)

// Config of a Server.
type Config struct {
	// Port to listen on. 0 picks an ephemeral port, see Server.Addr.
	Port int

	PollTimeout time.Duration
	MaxInbound  int
	MaxOutbound int
	Backlog     int

	// Logger receives the connect, request and close diagnostics.
	// nil means logrus.StandardLogger().
	Logger *logrus.Logger
}

// DefaultConfig listens on port 80 with the default limits.
func DefaultConfig() Config {
	return Config{
		Port:        DefaultPort,
		PollTimeout: DefaultPollTimeout,
		MaxInbound:  DefaultMaxInbound,
		MaxOutbound: DefaultMaxOutbound,
		Backlog:     DefaultBacklog,
		Logger:      logrus.StandardLogger(),
	}
}

// withDefaults fills every zero field but Port.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.MaxInbound <= 0 {
		c.MaxInbound = d.MaxInbound
	}
	if c.MaxOutbound <= 0 {
		c.MaxOutbound = d.MaxOutbound
	}
	if c.Backlog <= 0 {
		c.Backlog = d.Backlog
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}
