package actuator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

var (
	ErrConnection   = errors.New("actuator: connection failed")
	ErrNotConnected = errors.New("actuator: not connected")
	ErrHardware     = errors.New("actuator: hardware write failed")
	ErrReleased     = errors.New("actuator: gateway released")
)

// Resetter recovers the physical bus after a failed connect.
type Resetter interface {
	Reset(ctx context.Context) error
}

type GatewayConfig struct {
	// I2CBus is the adapter number (/dev/i2c-N). Defaults to 1.
	I2CBus int
	// Address is the 7-bit PCA9685 address. Defaults to 0x40.
	Address uint16
	// FrequencyHz is the PWM base frequency. Defaults to 50.
	FrequencyHz float64
	// OutputEnablePin is the BCM GPIO wired to /OE; 0 means not wired.
	OutputEnablePin int
	// Open replaces the PCA9685-on-/dev/i2c driver when set.
	Open func(bus int, addr uint16) (Driver, error)
}

// Gateway is the only code that touches the PWM driver.
type Gateway struct {
	cfg      GatewayConfig
	resetter Resetter

	drvMu    sync.Mutex
	drv      Driver
	oe       outputEnable
	released bool
}

// NewGateway returns a disconnected gateway. resetter may be nil, in which
// case connect failures are only reported. I2CBus 0 is /dev/i2c-0.
func NewGateway(cfg GatewayConfig, resetter Resetter) *Gateway {
	if cfg.Address == 0 {
		cfg.Address = 0x40
	}
	if cfg.FrequencyHz == 0 {
		cfg.FrequencyHz = 50
	}
	return &Gateway{cfg: cfg, resetter: resetter}
}

func (g *Gateway) Connected() bool {
	g.drvMu.Lock()
	defer g.drvMu.Unlock()
	return g.drv != nil
}

// Connect acquires the driver and programs the PWM frequency. On failure the
// bus reset procedure runs once before Connect returns; Connect itself does
// not retry. Connecting an already connected gateway is a no-op.
func (g *Gateway) Connect(ctx context.Context) error {
	log.Printf("actuator connecting pca9685 bus=%d addr=0x%02X", g.cfg.I2CBus, g.cfg.Address)

	err := g.connect()
	if err == nil {
		log.Printf("actuator pca9685 initialized freq=%vHz", g.cfg.FrequencyHz)
		return nil
	}
	if errors.Is(err, ErrReleased) {
		return err
	}

	log.Printf("actuator connect failed: %v", err)
	if g.resetter != nil {
		// A half-run reset can leave the bus driver unloaded, so caller
		// cancellation does not apply; each command has its own timeout.
		if rerr := g.resetter.Reset(context.WithoutCancel(ctx)); rerr != nil {
			log.Printf("actuator bus reset after connect failure: %v", rerr)
		}
	}
	return err
}

func (g *Gateway) connect() error {
	g.drvMu.Lock()
	defer g.drvMu.Unlock()

	if g.released {
		return ErrReleased
	}
	if g.drv != nil {
		return nil
	}

	open := openDriverFn
	if g.cfg.Open != nil {
		open = g.cfg.Open
	}
	drv, err := open(g.cfg.I2CBus, g.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if err := drv.SetFrequencyHz(g.cfg.FrequencyHz); err != nil {
		_ = drv.Close()
		return fmt.Errorf("%w: set frequency: %w", ErrConnection, err)
	}

	var oe outputEnable
	if g.cfg.OutputEnablePin > 0 {
		oe, err = openOutputEnableFn(g.cfg.OutputEnablePin)
		if err != nil {
			_ = drv.Close()
			return fmt.Errorf("%w: %w", ErrConnection, err)
		}
		if err := oe.Enable(); err != nil {
			_ = oe.Close()
			_ = drv.Close()
			return fmt.Errorf("%w: enable outputs: %w", ErrConnection, err)
		}
	}

	g.drv = drv
	g.oe = oe
	return nil
}

// SetChannel writes one output. Without a driver it does nothing and
// reports ErrNotConnected.
func (g *Gateway) SetChannel(channel int, duty float64) error {
	g.drvMu.Lock()
	defer g.drvMu.Unlock()

	if g.drv == nil {
		return ErrNotConnected
	}
	if err := g.drv.SetDutyCycle(channel, duty); err != nil {
		return fmt.Errorf("%w: channel %d: %w", ErrHardware, channel, err)
	}
	return nil
}

// Release disables the outputs and closes the driver. Only the first call
// does anything; the gateway cannot be connected again afterwards.
func (g *Gateway) Release() error {
	g.drvMu.Lock()
	defer g.drvMu.Unlock()

	if g.released {
		return nil
	}
	g.released = true

	var errs []error
	if g.oe != nil {
		errs = append(errs, g.oe.Disable(), g.oe.Close())
		g.oe = nil
	}
	if g.drv != nil {
		errs = append(errs, g.drv.Close())
		g.drv = nil
		log.Printf("actuator i2c connection closed")
	}
	return errors.Join(errs...)
}
