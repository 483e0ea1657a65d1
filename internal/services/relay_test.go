package services

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestRelayCountsBytesPerDirection(t *testing.T) {
	t.Parallel()
	clientPeer, client := net.Pipe()
	targetPeer, target := net.Pipe()
	defer clientPeer.Close()
	defer targetPeer.Close()

	type counts struct{ up, down int64 }
	result := make(chan counts, 1)
	p := NewProxy("example.invalid", 80)
	go func() {
		up, down := p.relay(client, target)
		result <- counts{up, down}
	}()

	go io.WriteString(clientPeer, "hello")
	buf := make([]byte, 5)
	if _, err := io.ReadFull(targetPeer, buf); err != nil || string(buf) != "hello" {
		t.Fatalf("upstream: %q, %v", buf, err)
	}
	go io.WriteString(targetPeer, "world!")
	buf = make([]byte, 6)
	if _, err := io.ReadFull(clientPeer, buf); err != nil || string(buf) != "world!" {
		t.Fatalf("downstream: %q, %v", buf, err)
	}
	clientPeer.Close()

	select {
	case got := <-result:
		if got.up != 5 || got.down != 6 {
			t.Errorf("expected 5 up / 6 down, actual %d / %d", got.up, got.down)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("relay did not end after the client closed")
	}
}
