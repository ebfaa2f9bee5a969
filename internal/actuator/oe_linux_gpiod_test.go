//go:build linux && (arm || arm64)

package actuator

import "testing"

func TestOpenOutputEnable_RejectsInvalidPin(t *testing.T) {
	if _, err := openOutputEnable(0); err == nil {
		t.Fatalf("expected error for pin 0")
	}
}

func TestGpiodOE_ClosedLine(t *testing.T) {
	g := &gpiodOE{}
	if err := g.Enable(); err == nil {
		t.Fatalf("expected Enable error without a line")
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
