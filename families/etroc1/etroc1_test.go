package etroc1

import (
	"fmt"
	"testing"

	"github.com/BertoldVdb/i2cregs/chip"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/BertoldVdb/i2cregs/transport/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devAddr = 0x4E

func newChip(t *testing.T) (*chip.Chip, *sim.Bus) {
	bus := sim.New(transport.Options{})
	require.NoError(t, chip.Simulate(Map(), bus, map[string]uint16{"main": devAddr}))

	c, err := chip.New(Map(), bus)
	require.NoError(t, err)
	require.NoError(t, c.BindI2C("main", devAddr))
	return c, bus
}

func TestThresholdDefaults(t *testing.T) {
	c, _ := newChip(t)
	for px := 0; px < Pixels; px++ {
		v, err := c.Field("main", "RegA", fmt.Sprintf("VTHIn%d", px))
		require.NoError(t, err)
		assert.Equalf(t, uint64(0x200), v, "pixel %d", px)
	}
}

func TestThresholdAcrossRegisters(t *testing.T) {
	c, bus := newChip(t)

	// VTHIn1 occupies RegA7[7:2] and RegA8[3:0].
	require.NoError(t, c.SetField("main", "RegA", "VTHIn1", 0x3A5))
	a7, _ := c.Display("main", "RegA", "RegA7")
	a8, _ := c.Display("main", "RegA", "RegA8")
	assert.Equal(t, uint64(0x96), a7.Uint64())
	assert.Equal(t, uint64(0x0E), a8.Uint64())

	for _, px := range []int{0, 2} {
		v, _ := c.Field("main", "RegA", fmt.Sprintf("VTHIn%d", px))
		assert.Equalf(t, uint64(0x200), v, "pixel %d", px)
	}

	require.NoError(t, c.WriteBlock("main", "RegA", false, true))
	dev := bus.Devices[devAddr]
	assert.Equal(t, []byte{0x96}, dev.Register(7))
	assert.Equal(t, []byte{0x0E}, dev.Register(8))

	dev.SetRegister(8, []byte{0x05})
	require.NoError(t, c.ReadRegister("main", "RegA", "RegA8"))
	v, _ := c.Field("main", "RegA", "VTHIn1")
	assert.Equal(t, uint64(0x165), v)
}

func TestRegBFields(t *testing.T) {
	c, _ := newChip(t)

	v, err := c.FieldString("main", "RegB", "dllCPCurrent")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	require.NoError(t, c.SetFieldString("main", "RegB", "offset_TDC", "0x7f"))
	b1, _ := c.Display("main", "RegB", "RegB1")
	b2, _ := c.Display("main", "RegB", "RegB2")
	assert.Equal(t, uint64(0xF9), b1.Uint64())
	assert.Equal(t, uint64(0x03), b2.Uint64())

	level, _ := c.Field("main", "RegB", "level_TDC")
	assert.Equal(t, uint64(1), level)
}
