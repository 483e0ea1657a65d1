package services

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// ClientReadTimeout bounds how long HTTPMirror waits for request headers.
const ClientReadTimeout = 60 * time.Second

// Clock writes the current time and hangs up.
type Clock struct {
	// Now overrides the time source; nil means time.Now.
	Now func() time.Time
}

// Name returns "time", the catalog name of the service.
func (c *Clock) Name() string { return "time" }

// Serve writes one RFC 1123 timestamp line and closes conn.
//
// Example:
//
//	$ nc localhost 7000
//	Mon, 02 Jan 2006 15:04:05 MST
func (c *Clock) Serve(conn net.Conn) error {
	defer conn.Close()
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	_, err := fmt.Fprintf(conn, "%s\n", now().Format(time.RFC1123))
	return err
}

// Reverse echoes every line back reversed until the client sends "." alone
// on a line or disconnects.
type Reverse struct{}

// Name returns "reverse", the catalog name of the service.
func (r *Reverse) Name() string { return "reverse" }

// Serve greets the client, then prompts with "> " and answers each line
// with its runes in reverse order.
//
// Parameters:
//   - conn: The client connection; closed before Serve returns.
//
// Returns:
//   - error: A read or write failure. A client that hangs up between
//     lines ends the session without error.
func (r *Reverse) Serve(conn net.Conn) error {
	defer conn.Close()
	in := bufio.NewReader(conn)
	out := bufio.NewWriter(conn)

	out.WriteString("Welcome to the line reversal server.\n")
	out.WriteString("Enter lines. End with a '.' on a line by itself.\n")
	for {
		out.WriteString("> ")
		if err := out.Flush(); err != nil {
			return err
		}
		line, err := in.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if err != nil && line == "" {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if line == "." {
			break
		}
		out.WriteString(reverseString(line))
		out.WriteString("\n")
		if err != nil {
			break
		}
	}
	return out.Flush()
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

// HTTPMirror answers an HTTP request with the request line and headers it
// received, as plain text.
type HTTPMirror struct{}

func (m *HTTPMirror) Name() string { return "httpmirror" }

// Serve writes an HTTP/1.0 200 text/plain response whose body is the
// request line and headers, one per line, up to the blank line. Reading
// the request is bounded by ClientReadTimeout.
func (m *HTTPMirror) Serve(conn net.Conn) error {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(ClientReadTimeout))
	in := bufio.NewReader(conn)
	out := bufio.NewWriter(conn)

	out.WriteString("HTTP/1.0 200 OK\r\n")
	out.WriteString("Content-Type: text/plain\r\n\r\n")
	for {
		line, err := in.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			// Blank line ends the headers; EOF ends a truncated request.
			if err != nil && err != io.EOF {
				return err
			}
			break
		}
		out.WriteString(line)
		out.WriteString("\n")
		if err != nil {
			break
		}
	}
	return out.Flush()
}

// UniqueID hands every client the next number of a counter shared by all
// connections on the port.
type UniqueID struct {
	mu   sync.Mutex
	next int
}

// Name returns "uniqueid", the catalog name of the service.
func (u *UniqueID) Name() string { return "uniqueid" }

// NextID returns the current counter value and advances it.
func (u *UniqueID) NextID() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := u.next
	u.next++
	return id
}

// Serve tells the client its number and closes conn.
func (u *UniqueID) Serve(conn net.Conn) error {
	defer conn.Close()
	_, err := fmt.Fprintf(conn, "You are client #%d\n", u.NextID())
	return err
}
