package servo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ChannelCount matches the PCA9685 output count.
const ChannelCount = 16

// MaxInstructions bounds a single message.
const MaxInstructions = 64

var ErrDecode = errors.New("servo: decode failed")

// Instruction moves one output to a logical angle in degrees.
type Instruction struct {
	Channel int
	Angle   float64
}

func (in Instruction) String() string {
	return fmt.Sprintf("ch%d=%g", in.Channel, in.Angle)
}

// DecodeError reports the first malformed unit of a message. Unit is the
// zero-based index among non-empty units, or -1 for message-level problems.
type DecodeError struct {
	Unit   int
	Text   string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Unit < 0 {
		return fmt.Sprintf("servo: decode: %s", e.Reason)
	}
	return fmt.Sprintf("servo: decode unit %d %q: %s", e.Unit, e.Text, e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

// Decode parses a command message of the form
//
//	0:90;1:45.5;2:180
//
// Units are separated by ';' or newlines; channel and angle by ':', ',' or
// '='. Either every instruction is returned or none is.
func Decode(msg string) ([]Instruction, error) {
	units := strings.FieldsFunc(msg, func(r rune) bool {
		return r == ';' || r == '\n' || r == '\r'
	})

	out := make([]Instruction, 0, len(units))
	for _, raw := range units {
		unit := strings.TrimSpace(raw)
		if unit == "" {
			continue
		}
		if len(out) == MaxInstructions {
			return nil, &DecodeError{Unit: -1, Reason: fmt.Sprintf("more than %d instructions", MaxInstructions)}
		}
		in, reason := decodeUnit(unit)
		if reason != "" {
			return nil, &DecodeError{Unit: len(out), Text: unit, Reason: reason}
		}
		out = append(out, in)
	}
	if len(out) == 0 {
		return nil, &DecodeError{Unit: -1, Reason: "empty message"}
	}
	return out, nil
}

func decodeUnit(unit string) (Instruction, string) {
	i := strings.IndexAny(unit, ":,=")
	if i < 0 {
		return Instruction{}, "missing separator"
	}
	chText := strings.TrimSpace(unit[:i])
	angleText := strings.TrimSpace(unit[i+1:])

	ch, err := strconv.Atoi(chText)
	if err != nil {
		return Instruction{}, "channel is not an integer"
	}
	if ch < 0 || ch >= ChannelCount {
		return Instruction{}, fmt.Sprintf("channel %d outside [0,%d)", ch, ChannelCount)
	}

	angle, err := strconv.ParseFloat(angleText, 64)
	if err != nil {
		return Instruction{}, "angle is not a number"
	}
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return Instruction{}, "angle is not finite"
	}
	return Instruction{Channel: ch, Angle: angle}, ""
}
