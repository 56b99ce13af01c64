package addrspace

import (
	"strconv"
	"strings"

	"github.com/BertoldVdb/i2cregs/regbus"
	"github.com/juju/errors"
)

// Value is the display value of a register. An invalid value is an input
// still being typed, such as "" or "0x": it reads as zero in bit operations
// but cannot be written to the device.
type Value struct {
	v     uint64
	valid bool
	text  string
}

func Valid(v uint64) Value {
	return Value{v: v, valid: true}
}

// Pending returns the invalid value shown as text.
func Pending(text string) Value {
	return Value{text: text}
}

// ParseValue accepts decimal, 0x-prefixed hexadecimal, or an empty / bare
// "0x" placeholder which yields an invalid value.
func ParseValue(s string) (Value, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)

	if lower == "" || lower == "0x" {
		return Pending(s), nil
	}

	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(lower, "0x") {
		v, err = strconv.ParseUint(lower[2:], 16, 64)
	} else {
		v, err = strconv.ParseUint(lower, 10, 64)
	}
	if err != nil {
		return Value{}, errors.Errorf("cannot parse %q as a register value", s)
	}
	return Valid(v), nil
}

func (v Value) IsValid() bool {
	return v.valid
}

// Uint64 returns the value, zero when invalid.
func (v Value) Uint64() uint64 {
	if !v.valid {
		return 0
	}
	return v.v
}

// Format renders the value as zero-padded hex of the register width.
func (v Value) Format(f regbus.Frame) string {
	if !v.valid {
		return v.text
	}
	return f.Format(v.v)
}

func (v Value) String() string {
	if !v.valid {
		return strconv.Quote(v.text)
	}
	return "0x" + strconv.FormatUint(v.v, 16)
}

// State is the answer of the modified predicate.
type State int

const (
	Unknown State = iota
	Clean
	Modified
)

func (s State) String() string {
	switch s {
	case Clean:
		return "false"
	case Modified:
		return "true"
	}
	return "unknown"
}
