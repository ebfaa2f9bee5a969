package udp

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

func listenLoopback(t *testing.T, maxDatagram int) *Listener {
	t.Helper()
	l, err := Listen("127.0.0.1:0", maxDatagram)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func dial(t *testing.T, l *Listener) *net.UDPConn {
	t.Helper()
	raddr := l.Addr().(*net.UDPAddr)
	c, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServe_DispatchesAndReplies(t *testing.T) {
	l := listenLoopback(t, 64)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var got []string
	served := make(chan error, 1)
	go func() {
		served <- l.Serve(ctx, func(ctx context.Context, payload []byte, from net.Addr) []byte {
			mu.Lock()
			got = append(got, string(payload))
			mu.Unlock()
			return []byte("OK " + string(payload))
		})
	}()

	c := dial(t, l)
	if _, err := c.Write([]byte("0:90")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("Read reply: %v", err)
	}
	if string(buf[:n]) != "OK 0:90" {
		t.Fatalf("reply=%q want %q", buf[:n], "OK 0:90")
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "0:90" {
		t.Fatalf("handled=%v", got)
	}
}

func TestServe_DropsOversizedDatagrams(t *testing.T) {
	l := listenLoopback(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan string, 4)
	go func() {
		_ = l.Serve(ctx, func(ctx context.Context, payload []byte, from net.Addr) []byte {
			seen <- string(payload)
			return nil
		})
	}()

	c := dial(t, l)
	_, _ = c.Write([]byte(strings.Repeat("x", 9)))
	_, _ = c.Write([]byte("1:45"))

	select {
	case p := <-seen:
		if p != "1:45" {
			t.Fatalf("handled %q want only the small datagram", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no datagram handled")
	}
}

func TestServe_ConcurrentHandlers(t *testing.T) {
	l := listenLoopback(t, 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	go func() {
		_ = l.Serve(ctx, func(ctx context.Context, payload []byte, from net.Addr) []byte {
			entered <- struct{}{}
			<-release
			return nil
		})
	}()

	c := dial(t, l)
	_, _ = c.Write([]byte("a"))
	_, _ = c.Write([]byte("b"))
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			close(release)
			t.Fatalf("handler %d not started while first is blocked", i)
		}
	}
	close(release)
}

func TestListenerClose_Idempotent(t *testing.T) {
	l := listenLoopback(t, 0)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := l.Serve(context.Background(), func(context.Context, []byte, net.Addr) []byte { return nil }); err != nil {
		t.Fatalf("Serve on closed listener: %v", err)
	}
}
