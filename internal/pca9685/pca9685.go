package pca9685

import (
	"errors"
	"fmt"
	"math"
	"time"

	"servolink/internal/i2c"
)

var sleep = time.Sleep

// Minimal PCA9685 driver: 16 PWM outputs with 12-bit resolution sharing one
// prescaled 25 MHz oscillator.

const (
	addrDefault = 0x40

	ChannelCount = 16

	regMode1     = 0x00
	regMode2     = 0x01
	regLED0OnL   = 0x06
	regAllLEDOnL = 0xFA
	regPreScale  = 0xFE

	mode1Restart = 0x80
	mode1AI      = 0x20
	mode1Sleep   = 0x10
	mode1AllCall = 0x01

	mode2OutDrv = 0x04

	// Bit 4 of the ON_H / OFF_H registers forces the output fully on / off.
	fullBit = 0x10

	oscillatorHz = 25_000_000
	steps        = 4096

	prescaleMin = 3
	prescaleMax = 255

	oscStartup = 500 * time.Microsecond
)

var ErrChannel = errors.New("pca9685: channel out of range")

// MinFrequencyHz and MaxFrequencyHz bound what the prescaler can produce.
const (
	MinFrequencyHz = 24
	MaxFrequencyHz = 1526
)

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	WriteReg(reg, value byte) error
	Write(p []byte) error
}

// Device is not safe for concurrent use.
type Device struct {
	dev regIO

	prescale byte
	freqHz   float64
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("pca9685: dev is nil")
	}
	return newWithIO(dev)
}

func newWithIO(dev regIO) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("pca9685: dev is nil")
	}
	d := &Device{dev: dev}

	// There is no ID register; a MODE1 read is the presence probe.
	if _, err := d.dev.ReadRegU8(regMode1); err != nil {
		return nil, fmt.Errorf("pca9685: probe failed: %w", err)
	}
	if err := d.dev.WriteReg(regMode2, mode2OutDrv); err != nil {
		return nil, fmt.Errorf("pca9685: mode2 write failed: %w", err)
	}
	if err := d.AllOff(); err != nil {
		return nil, err
	}
	if err := d.dev.WriteReg(regMode1, mode1AI|mode1AllCall); err != nil {
		return nil, fmt.Errorf("pca9685: mode1 write failed: %w", err)
	}
	sleep(oscStartup)
	return d, nil
}

// Prescale returns the PRE_SCALE value for hz, clamped to what the chip
// accepts.
func Prescale(hz float64) byte {
	v := math.Round(oscillatorHz/(steps*hz)) - 1
	if v < prescaleMin {
		v = prescaleMin
	}
	if v > prescaleMax {
		v = prescaleMax
	}
	return byte(v)
}

// FrequencyHz returns the output frequency last programmed, or 0.
func (d *Device) FrequencyHz() float64 { return d.freqHz }

// SetFrequencyHz reprograms the prescaler. The chip only accepts PRE_SCALE
// writes while asleep, so outputs stop for roughly half a millisecond.
func (d *Device) SetFrequencyHz(hz float64) error {
	if math.IsNaN(hz) || hz < MinFrequencyHz || hz > MaxFrequencyHz {
		return fmt.Errorf("pca9685: frequency %vHz outside [%d,%d]", hz, MinFrequencyHz, MaxFrequencyHz)
	}
	ps := Prescale(hz)

	old, err := d.dev.ReadRegU8(regMode1)
	if err != nil {
		return fmt.Errorf("pca9685: mode1 read failed: %w", err)
	}
	awake := old &^ (mode1Sleep | mode1Restart)
	if err := d.dev.WriteReg(regMode1, awake|mode1Sleep); err != nil {
		return fmt.Errorf("pca9685: sleep failed: %w", err)
	}
	if err := d.dev.WriteReg(regPreScale, ps); err != nil {
		return fmt.Errorf("pca9685: prescale write failed: %w", err)
	}
	if err := d.dev.WriteReg(regMode1, awake); err != nil {
		return fmt.Errorf("pca9685: wake failed: %w", err)
	}
	sleep(oscStartup)
	if err := d.dev.WriteReg(regMode1, awake|mode1Restart|mode1AI); err != nil {
		return fmt.Errorf("pca9685: restart failed: %w", err)
	}

	d.prescale = ps
	d.freqHz = oscillatorHz / (steps * (float64(ps) + 1))
	return nil
}

// SetDutyCycle sets the fraction of each period channel is held high.
// fraction is limited to [0,1]; the endpoints use the chip's full-off and
// full-on bits rather than a 0 or 4096 count.
func (d *Device) SetDutyCycle(channel int, fraction float64) error {
	if channel < 0 || channel >= ChannelCount {
		return fmt.Errorf("%w: %d", ErrChannel, channel)
	}
	on, off := counts(fraction)
	reg := byte(regLED0OnL + 4*channel)
	if err := d.dev.Write(ledFrame(reg, on, off)); err != nil {
		return fmt.Errorf("pca9685: channel %d write failed: %w", channel, err)
	}
	return nil
}

func counts(fraction float64) (on, off uint16) {
	if math.IsNaN(fraction) || fraction <= 0 {
		return 0, fullBit << 8
	}
	n := math.Round(fraction * steps)
	if n >= steps {
		return fullBit << 8, 0
	}
	if n <= 0 {
		return 0, fullBit << 8
	}
	return 0, uint16(n)
}

func ledFrame(reg byte, on, off uint16) []byte {
	return []byte{reg, byte(on), byte(on >> 8), byte(off), byte(off >> 8)}
}

// AllOff forces every output low in one write.
func (d *Device) AllOff() error {
	if err := d.dev.Write(ledFrame(regAllLEDOnL, 0, fullBit<<8)); err != nil {
		return fmt.Errorf("pca9685: all-off write failed: %w", err)
	}
	return nil
}

// Sleep stops the oscillator. Outputs stay off until the next restart.
func (d *Device) Sleep() error {
	mode, err := d.dev.ReadRegU8(regMode1)
	if err != nil {
		return fmt.Errorf("pca9685: mode1 read failed: %w", err)
	}
	if err := d.dev.WriteReg(regMode1, (mode&^mode1Restart)|mode1Sleep); err != nil {
		return fmt.Errorf("pca9685: sleep failed: %w", err)
	}
	return nil
}

// Close leaves the chip with all outputs off and the oscillator asleep. It
// does not close the underlying bus.
func (d *Device) Close() error {
	return errors.Join(d.AllOff(), d.Sleep())
}
