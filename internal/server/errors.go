package server

import (
	"errors"
	"io"
	"net"
	"strings"
)

var (
	// ErrPortInUse is returned by AddService when a service already occupies the port.
	ErrPortInUse = errors.New("port already in use")

	// ErrConnectionLimit is recorded when a connection is refused at admission time.
	ErrConnectionLimit = errors.New("connection limit exceeded")

	// ErrInvalidPort is returned for port numbers outside 1..65535.
	ErrInvalidPort = errors.New("invalid port")
)

// IsIgnorableError reports whether err is EOF or a benign network error
// caused by the peer or by a deliberate close.
//
// Used to suppress logging for expected connection closure errors.
func IsIgnorableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "broken pipe")
}
