package reactorhttp

import (
	"github.com/sirupsen/logrus"
)

// region Handler

// Handler observes each request the server parses. It cannot change the
// response, which is fixed; it is where requests are logged or counted.
type Handler interface {
	ServeRequest(c *Conn, r *Request)
}

// The HandlerFunc type is an adapter to allow the use of
// ordinary functions as request handlers.
type HandlerFunc func(c *Conn, r *Request)

func (f HandlerFunc) ServeRequest(c *Conn, r *Request) {
	f(c, r)
}

// Chain makes a handler that calls handlers in order.
func Chain(handlers ...Handler) Handler {
	return HandlerFunc(func(c *Conn, r *Request) {
		for _, h := range handlers {
			h.ServeRequest(c, r)
		}
	})
}

// endregion Handler

// region Handler: Logger

// Logger is a handler that logs every request at info level.
func Logger(log *logrus.Logger) Handler {
	return HandlerFunc(func(c *Conn, r *Request) {
		log.WithFields(logrus.Fields{
			"fd":      c.Fd(),
			"peer":    c.RemoteAddr().String(),
			"method":  r.Method,
			"url":     r.Url,
			"version": r.Version,
			"headers": r.Headers,
		}).Info("request")
	})
}

// endregion Handler: Logger
