package actuator

import (
	"errors"
	"fmt"

	"servolink/internal/i2c"
	"servolink/internal/pca9685"
)

// Driver is the hardware interface the gateway owns. Duty is a fraction of
// the PWM period (0..1).
//
// Implementations are not expected to be safe for concurrent use; the
// gateway serializes every call.
type Driver interface {
	SetFrequencyHz(hz float64) error
	SetDutyCycle(channel int, fraction float64) error
	Close() error
}

var openDriverFn = openPCA9685

// pcaDriver owns both the bus file descriptor and the chip on it.
type pcaDriver struct {
	bus *i2c.Bus
	dev *pca9685.Device
}

func openPCA9685(busNum int, addr uint16) (Driver, error) {
	bus, err := i2c.Open(i2c.BusPath(busNum))
	if err != nil {
		return nil, err
	}
	dev, err := pca9685.New(bus.Dev(addr))
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("%s addr=0x%02X: %w", bus.Path(), addr, err)
	}
	return &pcaDriver{bus: bus, dev: dev}, nil
}

func (d *pcaDriver) SetFrequencyHz(hz float64) error {
	return d.dev.SetFrequencyHz(hz)
}

func (d *pcaDriver) SetDutyCycle(channel int, fraction float64) error {
	return d.dev.SetDutyCycle(channel, fraction)
}

func (d *pcaDriver) Close() error {
	return errors.Join(d.dev.Close(), d.bus.Close())
}
