package i2c

import "fmt"

// BusPath returns the character device for adapter n, e.g. /dev/i2c-1.
func BusPath(n int) string {
	return fmt.Sprintf("/dev/i2c-%d", n)
}
