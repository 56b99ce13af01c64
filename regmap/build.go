package regmap

import "strconv"

// Numbered returns registers prefix0, prefix1, ... at offsets 0 to n-1.
// Defaults are assigned in order, the remaining registers default to zero.
func Numbered(prefix string, n int, defaults ...uint64) []Register {
	regs := make([]Register, n)
	for i := range regs {
		regs[i] = Register{Name: prefix + strconv.Itoa(i), Offset: uint32(i)}
		if i < len(defaults) {
			regs[i].Default = defaults[i]
		}
	}
	return regs
}

// ReadOnly marks every register of regs read-only.
func ReadOnly(regs []Register) []Register {
	for i := range regs {
		regs[i].ReadOnly = true
	}
	return regs
}

// Part is a slice of one register that holds bits of a field.
type Part struct {
	Register string
	Bits     string
}

// Packed declares a field made of parts, least significant part first. The
// field is as wide as the parts together.
func Packed(name, block string, parts ...Part) Field {
	f := Field{Name: name, Block: block}
	for _, p := range parts {
		pos := Position{Register: p.Register, RegBits: p.Bits}
		if r, err := ParseBitRange(p.Bits); err == nil {
			pos.FieldBits = BitRange{Hi: f.Bits + r.Width() - 1, Lo: f.Bits}.String()
			f.Bits += r.Width()
		}
		f.Positions = append(f.Positions, pos)
	}
	return f
}

// In declares a field held by one slice of one register.
func In(name, block, register, bits string) Field {
	return Packed(name, block, Part{register, bits})
}
