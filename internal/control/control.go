// Package control implements the password-protected command session that
// reconfigures a running server.
//
// Only one session may be open at a time across every transport sharing a
// Control. A session starts unauthorized; "password <secret>" unlocks the
// privileged commands (add, remove, max, status) until the session ends.
package control

import (
	"errors"
	"io"
	"net"
	"sync"

	"svchost/internal/server"
)

// ErrParse marks a malformed command line.
var ErrParse = errors.New("parse error")

// Registry is the part of the server a control session manipulates.
type Registry interface {
	AddService(h server.Handler, port int) error
	RemoveService(port int)
	SetMaxConnections(n int)
	DisplayStatus(w io.Writer) error
}

// Builder creates handlers by service name.
type Builder interface {
	New(name string) (server.Handler, error)
	Names() []string
}

// Control is a server.Handler running the control protocol.
type Control struct {
	registry Registry
	builder  Builder
	secret   *Secret

	mu        sync.Mutex
	connected bool
}

// New returns a Control managing registry, building services with builder
// and accepting password.
func New(registry Registry, builder Builder, password string) (*Control, error) {
	secret, err := NewSecret(password)
	if err != nil {
		return nil, err
	}
	return &Control{
		registry: registry,
		builder:  builder,
		secret:   secret,
	}, nil
}

func (c *Control) Name() string { return "control" }

// Serve runs one control session on conn.
func (c *Control) Serve(conn net.Conn) error {
	defer conn.Close()
	return c.Session(conn)
}

// Session runs the command loop on rw until quit or end of input. If
// another session is already open, it writes a refusal and returns.
// The caller owns rw and closes it afterwards.
func (c *Control) Session(rw io.ReadWriter) error {
	return c.session(rw, false)
}

// AuthorizedSession is Session for transports that already verified the
// control password, such as SSH. The session starts unlocked.
func (c *Control) AuthorizedSession(rw io.ReadWriter) error {
	return c.session(rw, true)
}

func (c *Control) session(rw io.ReadWriter, authorized bool) error {
	if !c.acquire() {
		_, err := io.WriteString(rw, ReplySingleSession+"\n")
		return err
	}
	defer c.release()
	s := newSession(c, rw)
	s.authorized = authorized
	return s.run()
}

// Attempts returns a fresh password throttle for one transport-level
// login, such as an SSH handshake.
func (c *Control) Attempts() *Attempts {
	return c.secret.Attempts()
}

// acquire atomically claims the single session slot.
func (c *Control) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return false
	}
	c.connected = true
	return true
}

func (c *Control) release() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// Busy reports whether a session is currently open.
func (c *Control) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
