package sshctl_test

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"svchost/internal/control"
	"svchost/internal/server"
	"svchost/internal/services"
	"svchost/internal/sshctl"
)

const testPassword = "s3cret"

func newTestKey(t *testing.T) ssh.Signer {
	t.Helper()
	signer, err := sshctl.LoadOrCreateHostKey(filepath.Join(t.TempDir(), "host_key"), 2048)
	if err != nil {
		t.Fatalf("LoadOrCreateHostKey: %v", err)
	}
	return signer
}

// startServer hosts an SSH control handler on a free loopback port.
func startServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	srv := server.New(nil, 10,
		server.WithBindAddress("127.0.0.1"),
		server.WithAcceptTimeout(50*time.Millisecond))
	ctl, err := control.New(srv, services.DefaultCatalog(), testPassword)
	if err != nil {
		t.Fatalf("control.New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	if err := srv.AddService(sshctl.NewHandler(ctl, newTestKey(t)), port); err != nil {
		t.Fatalf("AddService: %v", err)
	}
	t.Cleanup(func() { srv.RemoveService(port) })
	return srv, net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

func dial(addr, password string) (*ssh.Client, error) {
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "admin",
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	})
}

func TestShellSession(t *testing.T) {
	t.Parallel()
	srv, addr := startServer(t)

	client, err := dial(addr, testPassword)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()
	sess.Stdin = strings.NewReader("max 3\nquit\n")
	var out bytes.Buffer
	sess.Stdout = &out
	if err := sess.Shell(); err != nil {
		t.Fatalf("Shell: %v", err)
	}
	if err := sess.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// The password was checked during the SSH login.
	want := control.Prompt + control.ReplyLimitChanged + "\n" + control.Prompt
	if out.String() != want {
		t.Errorf("expected %q, actual %q", want, out.String())
	}
	if got := srv.MaxConnections(); got != 3 {
		t.Errorf("expected max 3, actual %d", got)
	}
}

func TestPtySession(t *testing.T) {
	t.Parallel()
	srv, addr := startServer(t)

	client, err := dial(addr, testPassword)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()
	if err := sess.RequestPty("xterm", 40, 80, ssh.TerminalModes{}); err != nil {
		t.Fatalf("RequestPty: %v", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		t.Fatalf("StdinPipe: %v", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe: %v", err)
	}
	if err := sess.Shell(); err != nil {
		t.Fatalf("Shell: %v", err)
	}

	io.WriteString(stdin, "max 2\r")
	io.WriteString(stdin, "quit\r")
	out, _ := io.ReadAll(stdout)
	if !strings.Contains(string(out), control.ReplyLimitChanged+"\r\n") {
		t.Errorf("expected CRLF terminated reply in %q", out)
	}
	if got := srv.MaxConnections(); got != 2 {
		t.Errorf("expected max 2, actual %d", got)
	}
}

func TestWrongPasswordRejected(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t)

	client, err := dial(addr, "nope")
	if err == nil {
		client.Close()
		t.Fatalf("login with a wrong password succeeded")
	}
}

func TestBadLoginsDoNotDelayOperator(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if client, err := dial(addr, "guess"); err == nil {
				client.Close()
			}
		}()
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	client, err := dial(addr, testPassword)
	if err != nil {
		t.Fatalf("operator login: %v", err)
	}
	client.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("operator login took %v while others were guessing", elapsed)
	}
	wg.Wait()
}

func TestLoadOrCreateHostKey(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "host_key")

	first, err := sshctl.LoadOrCreateHostKey(path, 2048)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected mode 0600, actual %o", perm)
	}

	second, err := sshctl.LoadOrCreateHostKey(path, 2048)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(first.PublicKey().Marshal(), second.PublicKey().Marshal()) {
		t.Errorf("reloading must return the saved key")
	}
}

func TestLoadOrCreateHostKeyCorrupt(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "host_key")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := sshctl.LoadOrCreateHostKey(path, 2048); err == nil {
		t.Errorf("expected parse error for a corrupt key file")
	}
}
