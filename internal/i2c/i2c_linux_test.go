//go:build linux

package i2c

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func openDevNull(t *testing.T) *Bus {
	t.Helper()
	f, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile /dev/null: %v", err)
	}
	b := &Bus{f: f, path: "/dev/null"}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestDevTx_InvalidAddr(t *testing.T) {
	b := openDevNull(t)

	for _, addr := range []uint16{0, 0x80} {
		err := b.Dev(addr).Write([]byte{0x00})
		if err == nil || !strings.Contains(err.Error(), "invalid addr") {
			t.Fatalf("addr=0x%X err=%v want invalid addr", addr, err)
		}
	}
}

func TestDevTx_EmptyIsNoop(t *testing.T) {
	b := openDevNull(t)
	d := b.Dev(0x40)

	n, err := d.tx(nil, nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if n != 0 {
		t.Fatalf("n=%d want 0", n)
	}
}

func TestBusClose_IsIdempotentAndRejectsTransfers(t *testing.T) {
	b := openDevNull(t)
	d := b.Dev(0x40)

	if err := b.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := d.WriteReg(0x00, 0x20); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}

func TestOpen_MissingPath(t *testing.T) {
	_, err := Open("/nonexistent/i2c-99")
	if err == nil || !strings.Contains(err.Error(), "/nonexistent/i2c-99") {
		t.Fatalf("err=%v want error naming path", err)
	}
}

func TestBusPath(t *testing.T) {
	if got := BusPath(1); got != "/dev/i2c-1" {
		t.Fatalf("BusPath(1)=%q", got)
	}
}
