package server

import (
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"svchost/internal/logger"
)

// Connection is one admitted client socket and the worker serving it.
type Connection struct {
	ID      uuid.UUID
	conn    net.Conn
	handler Handler
	port    int
	server  *Server
	started time.Time
	endOnce sync.Once
}

func newConnection(s *Server, conn net.Conn, h Handler, port int) *Connection {
	return &Connection{
		ID:      uuid.New(),
		conn:    conn,
		handler: h,
		port:    port,
		server:  s,
		started: time.Now(),
	}
}

// run invokes the handler once and always deregisters the connection,
// even if the handler fails or panics.
func (c *Connection) run() {
	log := logger.With("conn", c.ID, "service", HandlerName(c.handler), "remote_addr", c.conn.RemoteAddr())
	defer c.end()
	defer func() {
		if err := recover(); err != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			log.Error("panic serving connection", "panic", err, "stack", string(buf))
			c.server.logf("connection to %s failed: panic: %v", c.conn.RemoteAddr(), err)
		}
		c.conn.Close()
	}()

	if err := c.handler.Serve(c.conn); err != nil && !IsIgnorableError(err) {
		log.Warn("handler error", "error", err)
		c.server.logf("connection to %s failed: %v", c.conn.RemoteAddr(), err)
	}
	log.Debug("connection finished", "duration", time.Since(c.started))
}

func (c *Connection) end() {
	c.endOnce.Do(func() {
		c.server.endConnection(c)
	})
}

func (c *Connection) info() ConnInfo {
	host, port := splitAddr(c.conn.RemoteAddr())
	return ConnInfo{
		ID:         c.ID.String(),
		RemoteHost: host,
		RemotePort: port,
		LocalPort:  c.port,
		Handler:    HandlerName(c.handler),
	}
}

func splitAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
