package services_test

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"svchost/internal/server"
	"svchost/internal/services"
)

// serve runs h on one end of a pipe and returns the other end plus a
// channel that yields Serve's result.
func serve(t *testing.T, h server.Handler) (net.Conn, <-chan error) {
	t.Helper()
	client, srv := net.Pipe()
	client.SetDeadline(time.Now().Add(5 * time.Second))
	done := make(chan error, 1)
	go func() { done <- h.Serve(srv) }()
	t.Cleanup(func() { client.Close() })
	return client, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("services_test: Serve did not return")
		return nil
	}
}

func TestClock(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	client, done := serve(t, &services.Clock{Now: func() time.Time { return fixed }})
	data, err := io.ReadAll(client)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := fixed.Format(time.RFC1123) + "\n"; string(data) != want {
		t.Errorf("expected %q, actual %q", want, data)
	}
	if err := wait(t, done); err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func TestReverse(t *testing.T) {
	t.Parallel()
	client, done := serve(t, &services.Reverse{})
	r := bufio.NewReader(client)

	readUntilPrompt := func() string {
		var sb strings.Builder
		for !strings.HasSuffix(sb.String(), "> ") {
			b, err := r.ReadByte()
			if err != nil {
				t.Fatalf("read: %v (so far %q)", err, sb.String())
			}
			sb.WriteByte(b)
		}
		return sb.String()
	}

	banner := readUntilPrompt()
	if !strings.HasPrefix(banner, "Welcome to the line reversal server.") {
		t.Errorf("unexpected banner %q", banner)
	}
	io.WriteString(client, "hello\n")
	if got := readUntilPrompt(); got != "olleh\n> " {
		t.Errorf("expected reversed line, actual %q", got)
	}
	io.WriteString(client, "héllo wörld\r\n")
	if got := readUntilPrompt(); got != "dlröw olléh\n> " {
		t.Errorf("expected rune-wise reversal, actual %q", got)
	}
	io.WriteString(client, ".\n")
	rest, _ := io.ReadAll(r)
	if len(rest) != 0 {
		t.Errorf("expected nothing after '.', actual %q", rest)
	}
	if err := wait(t, done); err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func TestReverseEOF(t *testing.T) {
	t.Parallel()
	client, done := serve(t, &services.Reverse{})
	go io.Copy(io.Discard, client)
	client.Close()
	if err := wait(t, done); err != nil && !server.IsIgnorableError(err) {
		t.Errorf("Serve after client close: %v", err)
	}
}

func TestHTTPMirror(t *testing.T) {
	t.Parallel()
	client, done := serve(t, &services.HTTPMirror{})
	go io.WriteString(client, "GET /index.html HTTP/1.0\r\nHost: example.com\r\n\r\nbody is ignored")
	data, err := io.ReadAll(client)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "HTTP/1.0 200 OK\r\nContent-Type: text/plain\r\n\r\nGET /index.html HTTP/1.0\nHost: example.com\n"
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
	if err := wait(t, done); err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func TestUniqueIDConcurrent(t *testing.T) {
	t.Parallel()
	h := &services.UniqueID{}
	const n = 20
	var wg sync.WaitGroup
	seen := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client, srv := net.Pipe()
			go h.Serve(srv)
			data, _ := io.ReadAll(client)
			seen <- string(data)
		}()
	}
	wg.Wait()
	close(seen)

	got := make(map[string]bool)
	for line := range seen {
		if got[line] {
			t.Errorf("duplicate id line %q", line)
		}
		got[line] = true
	}
	for i := 0; i < n; i++ {
		if want := fmt.Sprintf("You are client #%d\n", i); !got[want] {
			t.Errorf("missing %q", want)
		}
	}
	if next := h.NextID(); next != n {
		t.Errorf("expected counter %d, actual %d", n, next)
	}
}

func echoTarget(t *testing.T) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr)
}

func TestProxyRelay(t *testing.T) {
	t.Parallel()
	addr := echoTarget(t)
	client, done := serve(t, services.NewProxy("127.0.0.1", addr.Port))

	r := bufio.NewReader(client)
	for _, msg := range []string{"ping\n", "pong\n"} {
		io.WriteString(client, msg)
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read relayed line: %v", err)
		}
		if line != msg {
			t.Errorf("expected %q, actual %q", msg, line)
		}
	}
	client.Close()
	if err := wait(t, done); err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func TestProxyDialFailure(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	p := services.NewProxy("127.0.0.1", port)
	p.DialTimeout = time.Second
	client, done := serve(t, p)
	data, _ := io.ReadAll(client)
	if !strings.HasPrefix(string(data), "Proxy server could not connect to 127.0.0.1:") {
		t.Errorf("unexpected reply %q", data)
	}
	if err := wait(t, done); err == nil {
		t.Errorf("expected dial error")
	}
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	c := services.DefaultCatalog()
	if diff := cmp.Diff([]string{"httpmirror", "reverse", "time", "uniqueid"}, c.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	h, err := c.New("Reverse")
	if err != nil {
		t.Fatalf("New(Reverse): %v", err)
	}
	if got := server.HandlerName(h); got != "reverse" {
		t.Errorf("expected reverse, actual %q", got)
	}

	a, _ := c.New("uniqueid")
	b, _ := c.New("uniqueid")
	if a == b {
		t.Errorf("each New call must build a fresh handler")
	}

	if _, err := c.New("nosuch"); !errors.Is(err, services.ErrUnknownHandler) {
		t.Errorf("expected ErrUnknownHandler, actual %v", err)
	}
}

func TestCatalogRegister(t *testing.T) {
	t.Parallel()
	c := services.NewCatalog()
	if err := c.Register("echo", func() server.Handler { return &services.Reverse{} }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := c.Register("ECHO", func() server.Handler { return &services.Reverse{} }); err == nil {
		t.Errorf("duplicate name must fail")
	}
	if err := c.Register("", func() server.Handler { return nil }); err == nil {
		t.Errorf("empty name must fail")
	}
	if err := c.Register("nilfactory", nil); err == nil {
		t.Errorf("nil factory must fail")
	}

	c.MustRegister("broken", func() server.Handler { panic("no") })
	if _, err := c.New("broken"); err == nil {
		t.Errorf("panicking factory must be reported as an error")
	}
	c.MustRegister("empty", func() server.Handler { return nil })
	if _, err := c.New("empty"); err == nil {
		t.Errorf("nil handler must be reported as an error")
	}
}
