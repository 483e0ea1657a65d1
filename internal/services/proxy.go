package services

import (
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"svchost/internal/server"
)

// DefaultDialTimeout bounds the connection attempt to the proxied target.
const DefaultDialTimeout = 10 * time.Second

// Proxy relays bytes in both directions between each client and a fixed
// target host and port.
type Proxy struct {
	Host        string
	Port        int
	DialTimeout time.Duration
}

// NewProxy returns a Proxy forwarding to host:port.
func NewProxy(host string, port int) *Proxy {
	return &Proxy{Host: host, Port: port, DialTimeout: DefaultDialTimeout}
}

// Name identifies the relay in status output.
func (p *Proxy) Name() string { return "proxy" }

func (p *Proxy) addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Serve connects to the target and relays until either side closes.
// If the target is unreachable, the client gets one error line.
//
// Parameters:
//   - client: The admitted connection; closed before Serve returns.
//
// Returns:
//   - error: The dial error when the target cannot be reached, nil otherwise.
func (p *Proxy) Serve(client net.Conn) error {
	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	target, err := net.DialTimeout("tcp", p.addr(), timeout)
	if err != nil {
		fmt.Fprintf(client, "Proxy server could not connect to %s\n", p.addr())
		client.Close()
		return fmt.Errorf("dial %s: %w", p.addr(), err)
	}
	p.relay(client, target)
	return nil
}

// relayBufferSize is the size of each pooled copy buffer.
const relayBufferSize = 32 * 1024

var relayBuffers = sync.Pool{
	New: func() any {
		buf := make([]byte, relayBufferSize)
		return &buf
	},
}

// pipe copies src to dst through a pooled buffer and returns the bytes moved.
func pipe(dst io.Writer, src io.Reader) (int64, error) {
	buf := relayBuffers.Get().(*[]byte)
	defer relayBuffers.Put(buf)
	return io.CopyBuffer(dst, src, *buf)
}

// relay copies client→target and target→client concurrently. Whichever
// direction finishes first closes both sockets to unblock the other copy.
// It returns the bytes sent upstream and downstream.
func (p *Proxy) relay(client, target net.Conn) (up, down int64) {
	id := client.RemoteAddr().String()
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			client.Close()
			target.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer closeBoth()
		var err error
		if up, err = pipe(target, client); err != nil && !server.IsIgnorableError(err) {
			log.Printf("[proxy %s] Error copying client to %s: %v", id, p.addr(), err)
		}
	}()

	go func() {
		defer wg.Done()
		defer closeBoth()
		var err error
		if down, err = pipe(client, target); err != nil && !server.IsIgnorableError(err) {
			log.Printf("[proxy %s] Error copying %s to client: %v", id, p.addr(), err)
		}
	}()

	wg.Wait()
	log.Printf("[proxy %s] Closed relay to %s: %d bytes up, %d bytes down", id, p.addr(), up, down)
	return up, down
}
