package actuator

// outputEnable drives the PCA9685 /OE pin. The pin is active low: Enable
// pulls it low so the outputs follow the PWM registers, Disable pulls it
// high so every output floats regardless of register state.
type outputEnable interface {
	Enable() error
	Disable() error
	Close() error
}
