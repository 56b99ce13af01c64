package regmap

import (
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// BitRange is an inclusive run of bits, bit k having weight 2^k.
type BitRange struct {
	Hi, Lo int
}

// ParseBitRange accepts "a" or "hi-lo" with hi >= lo.
func ParseBitRange(s string) (BitRange, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) > 2 {
		return BitRange{}, errors.Errorf("invalid bit range %q", s)
	}

	var bits [2]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 {
			return BitRange{}, errors.Errorf("invalid bit range %q", s)
		}
		bits[i] = v
	}

	if len(parts) == 1 {
		return BitRange{Hi: bits[0], Lo: bits[0]}, nil
	}
	if bits[0] < bits[1] {
		return BitRange{}, errors.Errorf("bit range %q is not high-low", s)
	}
	return BitRange{Hi: bits[0], Lo: bits[1]}, nil
}

func (r BitRange) Width() int {
	return r.Hi - r.Lo + 1
}

// Mask has the bits of the range set.
func (r BitRange) Mask() uint64 {
	w := uint(r.Width())
	if w >= 64 {
		return ^uint64(0)
	}
	return (1<<w - 1) << uint(r.Lo)
}

// Extract returns the bits of v selected by the range, shifted down to bit 0.
func (r BitRange) Extract(v uint64) uint64 {
	return (v & r.Mask()) >> uint(r.Lo)
}

// Insert returns v with the range replaced by the low bits of bits.
func (r BitRange) Insert(v uint64, bits uint64) uint64 {
	return v&^r.Mask() | (bits<<uint(r.Lo))&r.Mask()
}

func (r BitRange) String() string {
	if r.Hi == r.Lo {
		return strconv.Itoa(r.Hi)
	}
	return strconv.Itoa(r.Hi) + "-" + strconv.Itoa(r.Lo)
}
