package reactorhttp

import (
	"fmt"
	"sort"
)

// Registry maps socket descriptors to live connections.
// It belongs to one Server and is only touched by its loop.
type Registry struct {
	conns map[int]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[int]*Conn)}
}

// Add registers c under its descriptor.
func (r *Registry) Add(c *Conn) error {
	if _, ok := r.conns[c.fd]; ok {
		return fmt.Errorf("registry: fd %d already registered", c.fd)
	}
	r.conns[c.fd] = c
	return nil
}

// Remove drops the entry for fd. Removing twice is an error.
func (r *Registry) Remove(fd int) error {
	if _, ok := r.conns[fd]; !ok {
		return fmt.Errorf("registry: fd %d not registered", fd)
	}
	delete(r.conns, fd)
	return nil
}

func (r *Registry) Get(fd int) (*Conn, bool) {
	c, ok := r.conns[fd]
	return c, ok
}

func (r *Registry) Len() int {
	return len(r.conns)
}

// Handles returns the registered descriptors in ascending order.
func (r *Registry) Handles() []int {
	fds := make([]int, 0, len(r.conns))
	for fd := range r.conns {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}
