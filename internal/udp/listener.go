package udp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
)

// HandlerFunc processes one datagram. A non-empty return value is sent back
// to from.
type HandlerFunc func(ctx context.Context, payload []byte, from net.Addr) []byte

type packetConn interface {
	ReadFrom(p []byte) (int, net.Addr, error)
	WriteTo(p []byte, addr net.Addr) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// Listener receives command datagrams. Each datagram is handled on its own
// goroutine.
type Listener struct {
	conn   packetConn
	maxLen int

	closeOnce sync.Once
	closeErr  error
}

func Listen(addr string, maxDatagram int) (*Listener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp: listen %s: %w", addr, err)
	}
	return newListener(conn, maxDatagram), nil
}

func newListener(conn packetConn, maxDatagram int) *Listener {
	if maxDatagram <= 0 {
		maxDatagram = 1024
	}
	return &Listener{conn: conn, maxLen: maxDatagram}
}

func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

// Serve reads until ctx is cancelled or the listener is closed, then waits
// for in-flight handlers. It returns nil on a clean shutdown.
func (l *Listener) Serve(ctx context.Context, handle HandlerFunc) error {
	if handle == nil {
		return fmt.Errorf("udp: handler is nil")
	}

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	buf := make([]byte, l.maxLen+1)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("udp: read: %w", err)
		}
		if n > l.maxLen {
			log.Printf("udp dropping oversized datagram from=%s len>%d", from, l.maxLen)
			continue
		}
		payload := append([]byte(nil), buf[:n]...)

		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := handle(ctx, payload, from)
			if len(reply) == 0 || from == nil {
				return
			}
			if _, err := l.conn.WriteTo(reply, from); err != nil && ctx.Err() == nil {
				log.Printf("udp reply to %s failed: %v", from, err)
			}
		}()
	}
}

func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}
