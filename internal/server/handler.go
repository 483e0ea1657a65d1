package server

import (
	"fmt"
	"net"
)

// Handler serves a single accepted connection.
//
// Serve must close conn before returning, whether it succeeds or fails.
// A Handler instance is shared by every connection on its port, so Serve
// may run concurrently with itself; state kept across calls needs its own
// locking.
type Handler interface {
	Serve(conn net.Conn) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(conn net.Conn) error

// Serve calls f(conn).
func (f HandlerFunc) Serve(conn net.Conn) error {
	return f(conn)
}

// Namer is implemented by handlers that report a short type name for logs
// and status output.
type Namer interface {
	Name() string
}

// HandlerName returns the display name of h.
func HandlerName(h Handler) string {
	if n, ok := h.(Namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}
