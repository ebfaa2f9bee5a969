//go:build !linux || (!arm && !arm64)

package actuator

import "fmt"

func openOutputEnable(pin int) (outputEnable, error) {
	return nil, fmt.Errorf("actuator: output-enable gpio unsupported on this platform")
}

var openOutputEnableFn = openOutputEnable
