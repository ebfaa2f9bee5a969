//go:build linux && (arm || arm64)

package actuator

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// openOutputEnable requests the BCM GPIO wired to /OE as an output, starting
// high (outputs disabled) until the gateway has programmed the chip.
func openOutputEnable(pin int) (outputEnable, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("actuator: invalid output-enable gpio %d", pin)
	}
	name := fmt.Sprintf("GPIO%d", pin)

	// Pi 5 moved the header lines to gpiochip4; the name lookup covers both.
	chip, offset, err := gpiocdev.FindLine(name)
	if err != nil {
		return nil, fmt.Errorf("actuator: output-enable line %q: %w", name, err)
	}
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(1), gpiocdev.WithConsumer("servolink-oe"))
	if err != nil {
		return nil, fmt.Errorf("actuator: request %s on %s: %w", name, chip, err)
	}
	return &gpiodOE{line: line}, nil
}

var openOutputEnableFn = openOutputEnable

type gpiodOE struct {
	line *gpiocdev.Line
}

func (g *gpiodOE) Enable() error {
	if g == nil || g.line == nil {
		return fmt.Errorf("actuator: output-enable line not initialized")
	}
	return g.line.SetValue(0)
}

func (g *gpiodOE) Disable() error {
	if g == nil || g.line == nil {
		return fmt.Errorf("actuator: output-enable line not initialized")
	}
	return g.line.SetValue(1)
}

// Close leaves /OE high so the outputs float once the line is released.
func (g *gpiodOE) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	_ = g.line.SetValue(1)
	err := g.line.Close()
	g.line = nil
	return err
}
