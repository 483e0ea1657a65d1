package sshctl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"svchost/internal/control"
	"svchost/internal/logger"
)

const (
	serverVersion    = "SSH-2.0-svchost_1.0"
	handshakeTimeout = 30 * time.Second
)

var errWrongPassword = errors.New("wrong control password")

// Handler is a server.Handler that speaks SSH and runs control sessions.
type Handler struct {
	ctl    *control.Control
	signer ssh.Signer
}

// NewHandler returns a Handler authenticating against ctl's password and
// presenting signer as its host key.
func NewHandler(ctl *control.Control, signer ssh.Signer) *Handler {
	return &Handler{ctl: ctl, signer: signer}
}

// serverConfig builds the configuration of one connection. Password tries
// are throttled per connection and give up when ctx ends.
func (h *Handler) serverConfig(ctx context.Context) *ssh.ServerConfig {
	attempts := h.ctl.Attempts()
	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if attempts.Check(ctx, string(password)) {
				return nil, nil
			}
			logger.Warn("ssh control login rejected", "user", meta.User(), "remote_addr", meta.RemoteAddr())
			return nil, errWrongPassword
		},
		ServerVersion: serverVersion,
	}
	config.AddHostKey(h.signer)
	return config
}

// Name identifies the service in status output and logs.
func (h *Handler) Name() string { return "sshcontrol" }

// Serve performs the SSH handshake on conn and runs the first shell
// session opened on it. Further channels are refused.
func (h *Handler) Serve(conn net.Conn) error {
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, h.serverConfig(ctx))
	cancel()
	if err != nil {
		return fmt.Errorf("ssh handshake: %w", err)
	}
	conn.SetDeadline(time.Time{})
	defer sshConn.Close()

	logger.Debug("ssh control login", "user", sshConn.User(), "remote_addr", sshConn.RemoteAddr())
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		ch, requests, err := newChannel.Accept()
		if err != nil {
			return fmt.Errorf("accept channel: %w", err)
		}
		return h.serveChannel(ch, requests)
	}
	return nil
}

// serveChannel waits for a shell request and runs the control session on ch.
func (h *Handler) serveChannel(ch ssh.Channel, requests <-chan *ssh.Request) error {
	defer ch.Close()

	start := make(chan bool, 1)
	go func() {
		pty, started := false, false
		for req := range requests {
			switch req.Type {
			case "pty-req":
				pty = true
				req.Reply(true, nil)
			case "env", "window-change":
				req.Reply(true, nil)
			case "shell":
				if started {
					req.Reply(false, nil)
					continue
				}
				started = true
				req.Reply(true, nil)
				start <- pty
			default:
				req.Reply(false, nil)
			}
		}
		if !started {
			close(start)
		}
	}()

	pty, ok := <-start
	if !ok {
		return nil
	}

	var err error
	if pty {
		err = h.ctl.AuthorizedSession(newLineTerminal(ch))
	} else {
		err = h.ctl.AuthorizedSession(ch)
	}

	var status uint32
	if err != nil {
		status = 1
	}
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	return err
}
