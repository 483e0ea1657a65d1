package server

import (
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultAcceptTimeout bounds each accept wait so a stop request is
	// observed even when no client connects.
	DefaultAcceptTimeout = 2 * time.Second

	// RejectMessage is written to a connection refused because the server is full.
	RejectMessage = "Connection refused; the server is busy, please try again later.\n"

	// rejectWriteTimeout caps how long a refusal may block the registry.
	rejectWriteTimeout = time.Second

	logTimeFormat = "2006-01-02 15:04:05"
)

// Server is the registry of running services and live connections.
//
// Every method that reads or changes registry state holds mu, so they are
// totally ordered with respect to each other. Handlers run outside mu.
type Server struct {
	mu          sync.Mutex
	services    map[int]*listener
	connections map[*Connection]struct{}
	maxConns    int

	host          string
	acceptTimeout time.Duration
	retry         Retry

	logMu sync.Mutex
	logW  io.Writer
	now   func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithBindAddress sets the host every service listens on. Empty means all interfaces.
func WithBindAddress(host string) Option {
	return func(s *Server) {
		s.host = host
	}
}

// WithAcceptTimeout sets the bounded wait of each accept call.
func WithAcceptTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.acceptTimeout = d
		}
	}
}

// WithRetry sets the backoff used after transient accept errors.
func WithRetry(r Retry) Option {
	return func(s *Server) {
		if r != nil {
			s.retry = r
		}
	}
}

// WithClock overrides the time source used for log timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Server that admits at most maxConnections concurrent
// connections and writes its event log to logW. A nil logW disables logging.
//
// Parameters:
//   - logW: Destination of the "[timestamp] message" event log, or nil.
//   - maxConnections: Admission limit over all services together.
//   - opts: Bind address, accept timeout, retry policy and clock overrides.
//
// Example:
//
//	srv := server.New(os.Stdout, 10, server.WithBindAddress("127.0.0.1"))
func New(logW io.Writer, maxConnections int, opts ...Option) *Server {
	s := &Server{
		services:      make(map[int]*listener),
		connections:   make(map[*Connection]struct{}),
		maxConns:      maxConnections,
		acceptTimeout: DefaultAcceptTimeout,
		retry:         DefaultRetry,
		logW:          logW,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logf("server started")
	return s
}

// SetLogWriter replaces the event log destination. Nil disables logging.
func (s *Server) SetLogWriter(w io.Writer) {
	s.logMu.Lock()
	s.logW = w
	s.logMu.Unlock()
}

// logf writes one "[timestamp] message" line to the event log.
func (s *Server) logf(format string, args ...any) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if s.logW == nil {
		return
	}
	fmt.Fprintf(s.logW, "[%s] %s\n", s.now().Format(logTimeFormat), fmt.Sprintf(format, args...))
}

// AddService starts serving h on port. It fails with ErrPortInUse if a
// service is already registered there, leaving that service untouched.
//
// Parameters:
//   - h: The handler invoked once per admitted connection.
//   - port: The TCP port to bind on the configured host, 1..65535.
//
// Returns:
//   - error: ErrInvalidPort, ErrPortInUse, or the bind error.
//
// Example:
//
//	if err := srv.AddService(&services.Clock{}, 7000); err != nil { ... }
func (s *Server) AddService(h Handler, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[port]; exists {
		return fmt.Errorf("port %d: %w", port, ErrPortInUse)
	}
	addr := net.JoinHostPort(s.host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.startListener(newListener(s, h, port, ln))
	return nil
}

// startListener registers l and starts its accept loop. Callers hold mu.
func (s *Server) startListener(l *listener) {
	s.services[l.port] = l
	s.logf("service %s started on port %d", HandlerName(l.handler), l.port)
	go l.run()
}

// RemoveService stops accepting on port. Connections already admitted
// through that port run to completion. Unknown ports are ignored.
func (s *Server) RemoveService(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.services[port]
	if !exists {
		return
	}
	l.pleaseStop()
	delete(s.services, port)
	s.logf("service %s stopped on port %d", HandlerName(l.handler), port)
}

// listenerFailed drops a listener whose socket died without being asked to stop.
func (s *Server) listenerFailed(l *listener, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.services[l.port] != l {
		return
	}
	delete(s.services, l.port)
	s.logf("service %s failed on port %d: %v", HandlerName(l.handler), l.port, err)
}

// addConnection admits or refuses a freshly accepted connection.
func (s *Server) addConnection(conn net.Conn, l *listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.stopped() {
		// Accepted in the window between the stop request and the socket close.
		conn.Close()
		return
	}

	if len(s.connections) >= s.maxConns {
		conn.SetWriteDeadline(s.now().Add(rejectWriteTimeout))
		io.WriteString(conn, RejectMessage)
		conn.Close()
		s.logf("connection refused to %s: %v", conn.RemoteAddr(), ErrConnectionLimit)
		return
	}

	c := newConnection(s, conn, l.handler, l.port)
	s.connections[c] = struct{}{}
	s.logf("connected to %s on port %d for service %s (conn %s)",
		conn.RemoteAddr(), l.port, HandlerName(l.handler), c.ID)
	go c.run()
}

// endConnection removes c from the live set. Connection.run guarantees it
// is called exactly once per connection.
func (s *Server) endConnection(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.connections, c)
	s.logf("connection to %s closed (conn %s)", c.conn.RemoteAddr(), c.ID)
}

// SetMaxConnections replaces the connection limit. It applies to the next
// admission decision and never evicts existing connections.
func (s *Server) SetMaxConnections(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxConns = n
	s.logf("connection limit set to %d", n)
}

// MaxConnections returns the current connection limit.
func (s *Server) MaxConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConns
}

// ServiceInfo describes a registered service.
type ServiceInfo struct {
	Port    int
	Handler string
}

// ConnInfo describes a live connection.
type ConnInfo struct {
	ID         string
	RemoteHost string
	RemotePort int
	LocalPort  int
	Handler    string
}

// Status is a consistent snapshot of the registry.
type Status struct {
	Services       []ServiceInfo
	MaxConnections int
	Connections    []ConnInfo
}

// Status returns a snapshot taken under the registry lock. Services are
// ordered by port, connections by remote address.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Services:       make([]ServiceInfo, 0, len(s.services)),
		MaxConnections: s.maxConns,
		Connections:    make([]ConnInfo, 0, len(s.connections)),
	}
	for port, l := range s.services {
		st.Services = append(st.Services, ServiceInfo{Port: port, Handler: HandlerName(l.handler)})
	}
	for c := range s.connections {
		st.Connections = append(st.Connections, c.info())
	}
	sort.Slice(st.Services, func(i, j int) bool { return st.Services[i].Port < st.Services[j].Port })
	sort.Slice(st.Connections, func(i, j int) bool {
		a, b := st.Connections[i], st.Connections[j]
		if a.RemoteHost != b.RemoteHost {
			return a.RemoteHost < b.RemoteHost
		}
		if a.RemotePort != b.RemotePort {
			return a.RemotePort < b.RemotePort
		}
		return a.ID < b.ID
	})
	return st
}

// DisplayStatus writes every registered service, the connection limit and
// every live connection to w.
//
// Output, one record per line:
//
//	SERVICE time ON PORT 7000
//	MAX CONNECTIONS: 10
//	CONNECTED TO 127.0.0.1:50312 ON PORT 7000 FOR SERVICE time
func (s *Server) DisplayStatus(w io.Writer) error {
	st := s.Status()
	for _, svc := range st.Services {
		if _, err := fmt.Fprintf(w, "SERVICE %s ON PORT %d\n", svc.Handler, svc.Port); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "MAX CONNECTIONS: %d\n", st.MaxConnections); err != nil {
		return err
	}
	for _, c := range st.Connections {
		if _, err := fmt.Fprintf(w, "CONNECTED TO %s:%d ON PORT %d FOR SERVICE %s\n",
			c.RemoteHost, c.RemotePort, c.LocalPort, c.Handler); err != nil {
			return err
		}
	}
	return nil
}
