package server

import (
	"context"
	"errors"
	"net"
	"time"
)

// listener owns the listening socket of one service port and feeds
// accepted connections to the registry.
type listener struct {
	server  *Server
	handler Handler
	port    int
	ln      net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// deadliner is implemented by listeners whose Accept can be bounded in
// time, such as *net.TCPListener.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// newListener wraps a bound socket. The accept loop starts with run.
func newListener(s *Server, h Handler, port int, ln net.Listener) *listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &listener{
		server:  s,
		handler: h,
		port:    port,
		ln:      ln,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// pleaseStop asks the accept loop to exit and closes the socket so a
// pending accept returns immediately. Admitted connections are unaffected.
func (l *listener) pleaseStop() {
	l.cancel()
	l.ln.Close()
}

func (l *listener) stopped() bool {
	return l.ctx.Err() != nil
}

// run accepts until pleaseStop is called or the socket fails for good.
func (l *listener) run() {
	defer close(l.done)
	defer l.ln.Close()

	var retry uint64
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}
		// Short deadline so the stop flag is re-checked without traffic.
		if d, ok := l.ln.(deadliner); ok {
			d.SetDeadline(time.Now().Add(l.server.acceptTimeout))
		}
		conn, err := l.ln.Accept()
		if err != nil {
			if l.stopped() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				l.server.listenerFailed(l, err)
				return
			}
			delay := l.server.retry.Backoff(retry)
			l.server.logf("accept error on port %d: %v; retrying in %v", l.port, err, delay)
			retry++
			select {
			case <-l.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		retry = 0
		l.server.addConnection(conn, l)
	}
}
