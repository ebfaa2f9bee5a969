package servo

import (
	"errors"
	"strings"
	"testing"
)

func TestDecode_Valid(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want []Instruction
	}{
		{"Basic", "0:0;1:90;2:180", []Instruction{{0, 0}, {1, 90}, {2, 180}}},
		{"Whitespace", "  3 : 45.5 ;\n 4= 10 ", []Instruction{{3, 45.5}, {4, 10}}},
		{"CommaSeparator", "15,120", []Instruction{{15, 120}}},
		{"CRLF", "0:1\r\n1:2\r\n", []Instruction{{0, 1}, {1, 2}}},
		{"EmptyUnitsSkipped", ";;0:30;;", []Instruction{{0, 30}}},
		{"OutOfRangeAngleKept", "0:-20;1:200", []Instruction{{0, -20}, {1, 200}}},
		{"OrderPreserved", "2:1;0:2;2:3", []Instruction{{2, 1}, {0, 2}, {2, 3}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.msg)
			if err != nil {
				t.Fatalf("Decode(%q): %v", tc.msg, err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got=%v want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got[%d]=%v want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	cases := []struct {
		name     string
		msg      string
		wantUnit int
		reason   string
	}{
		{"Empty", "", -1, "empty message"},
		{"OnlySeparators", " ; \n ", -1, "empty message"},
		{"NoSeparator", "0 90", 0, "missing separator"},
		{"BadChannel", "x:90", 0, "channel is not an integer"},
		{"ChannelTooHigh", "0:1;16:90", 1, "outside"},
		{"NegativeChannel", "-1:90", 0, "outside"},
		{"BadAngle", "0:abc", 0, "angle is not a number"},
		{"NaN", "0:NaN", 0, "not finite"},
		{"Inf", "0:+Inf", 0, "not finite"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.msg)
			if err == nil {
				t.Fatalf("Decode(%q)=%v want error", tc.msg, got)
			}
			if got != nil {
				t.Fatalf("partial result %v returned with error", got)
			}
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("err=%v want ErrDecode", err)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err=%T want *DecodeError", err)
			}
			if de.Unit != tc.wantUnit {
				t.Fatalf("unit=%d want %d", de.Unit, tc.wantUnit)
			}
			if !strings.Contains(de.Reason, tc.reason) {
				t.Fatalf("reason=%q want contains %q", de.Reason, tc.reason)
			}
		})
	}
}

func TestDecode_TooManyInstructions(t *testing.T) {
	units := make([]string, MaxInstructions+1)
	for i := range units {
		units[i] = "0:90"
	}
	if _, err := Decode(strings.Join(units, ";")); !errors.Is(err, ErrDecode) {
		t.Fatalf("err=%v want ErrDecode", err)
	}
	if got, err := Decode(strings.Join(units[:MaxInstructions], ";")); err != nil || len(got) != MaxInstructions {
		t.Fatalf("len=%d err=%v want %d instructions", len(got), err, MaxInstructions)
	}
}
