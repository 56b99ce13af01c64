package chip

import (
	"github.com/BertoldVdb/i2cregs/regmap"
	"github.com/BertoldVdb/i2cregs/transport/sim"
	"github.com/juju/errors"
)

// SimDevice builds a simulated device holding the defaults of decl. Blocks
// with a separate write base store writes at their read addresses, like the
// real parts do.
func SimDevice(decl *regmap.AddressSpace) *sim.Device {
	dev := sim.NewDevice(decl.Size, decl.Wire.AddressBits, decl.Wire.RegisterBytes())

	remap := map[uint32]uint32{}
	for i := range decl.Blocks {
		b := &decl.Blocks[i]
		for _, inst := range b.Instances() {
			for _, r := range b.Registers {
				a := inst.Base + r.Offset
				dev.SetRegister(a, decl.Wire.Encode([]uint64{r.Default}))
				if r.ReadOnly {
					dev.ReadOnly[a] = true
				}
				if b.HasWriteBase {
					remap[inst.WriteBase+r.Offset] = a
				}
			}
		}
	}

	if len(remap) > 0 {
		dev.WriteAddr = func(a uint32) uint32 {
			if r, ok := remap[a]; ok {
				return r
			}
			return a
		}
	}
	return dev
}

// Simulate attaches one simulated device per space of def to bus. Spaces
// are placed at addrs[name], or at their default address.
func Simulate(def *regmap.Chip, bus *sim.Bus, addrs map[string]uint16) error {
	for i := range def.Spaces {
		decl := &def.Spaces[i]
		addr, ok := addrs[decl.Name]
		if !ok {
			addr = decl.DefaultAddress
		}
		if addr == 0 {
			return errors.Errorf("no address for simulated space %s", decl.Name)
		}
		if _, taken := bus.Devices[addr]; taken {
			return errors.Errorf("address 0x%02x already in use", addr)
		}
		bus.Attach(addr, SimDevice(decl))
	}
	return nil
}
