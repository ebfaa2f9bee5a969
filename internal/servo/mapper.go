package servo

import (
	"errors"
	"fmt"
	"strings"
)

// Duty cycle endpoints for a 50 Hz hobby servo: 1 ms and 2 ms of a 20 ms
// period.
const (
	MinDuty = 0.05
	MaxDuty = 0.10

	MaxAngle = 180.0
)

var ErrAngleOutOfRange = errors.New("servo: angle out of range")

// DutyCycle maps an angle linearly onto [MinDuty, MaxDuty]. Angles outside
// [0,180] extrapolate past the endpoints.
func DutyCycle(angle float64) float64 {
	return MinDuty + (MaxDuty-MinDuty)*angle/MaxAngle
}

// AnglePolicy decides what happens to angles outside [0,180] before mapping.
type AnglePolicy int

const (
	PolicyExtrapolate AnglePolicy = iota
	PolicyClamp
	PolicyReject
)

func (p AnglePolicy) String() string {
	switch p {
	case PolicyExtrapolate:
		return "extrapolate"
	case PolicyClamp:
		return "clamp"
	case PolicyReject:
		return "reject"
	default:
		return fmt.Sprintf("AnglePolicy(%d)", int(p))
	}
}

func ParsePolicy(s string) (AnglePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "extrapolate":
		return PolicyExtrapolate, nil
	case "clamp":
		return PolicyClamp, nil
	case "reject":
		return PolicyReject, nil
	default:
		return 0, fmt.Errorf("servo: unknown angle policy %q", s)
	}
}

// Mapper is DutyCycle with configurable endpoints and an out-of-range policy.
// The zero value maps like DutyCycle.
type Mapper struct {
	MinDuty float64
	MaxDuty float64
	Policy  AnglePolicy
}

func DefaultMapper() Mapper {
	return Mapper{MinDuty: MinDuty, MaxDuty: MaxDuty, Policy: PolicyExtrapolate}
}

func (m Mapper) Map(angle float64) (float64, error) {
	if angle < 0 || angle > MaxAngle {
		switch m.Policy {
		case PolicyClamp:
			if angle < 0 {
				angle = 0
			} else {
				angle = MaxAngle
			}
		case PolicyReject:
			return 0, fmt.Errorf("%w: %g", ErrAngleOutOfRange, angle)
		}
	}
	lo, hi := m.MinDuty, m.MaxDuty
	if lo == 0 && hi == 0 {
		lo, hi = MinDuty, MaxDuty
	}
	return lo + (hi-lo)*angle/MaxAngle, nil
}
