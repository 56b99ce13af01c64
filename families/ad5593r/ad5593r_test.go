package ad5593r

import (
	"testing"

	"github.com/BertoldVdb/i2cregs/chip"
	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/BertoldVdb/i2cregs/transport/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChip(t *testing.T) (*chip.Chip, *sim.Bus) {
	bus := sim.New(transport.Options{})
	require.NoError(t, chip.Simulate(Map(), bus, nil))
	c, err := chip.New(Map(), bus)
	require.NoError(t, err)
	return c, bus
}

func TestDACWriteUsesWritePointer(t *testing.T) {
	c, bus := newChip(t)

	require.NoError(t, c.SetField("main", "DAC", "DAC3_value", 0xABC))
	require.NoError(t, c.WriteRegister("main", "DAC", "DAC3", true))

	writes := bus.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte{pointerDACWrite + 3}, writes[0].AddrBytes)
	assert.Equal(t, []byte{0x0A, 0xBC}, writes[0].Data)

	reads := bus.Reads()
	require.Len(t, reads, 1)
	assert.Equal(t, []byte{pointerDACRead + 3}, reads[0].AddrBytes)

	st, err := c.IsModified("main")
	require.NoError(t, err)
	assert.Equal(t, "false", st.String())
}

func TestConfigBlockSkipsReadOnlyInput(t *testing.T) {
	c, bus := newChip(t)

	require.NoError(t, c.SetField("main", "Config", "GPIO_pins", 0x0F))
	require.NoError(t, c.WriteBlock("main", "Config", false, false))

	for _, w := range bus.Writes() {
		for i := 0; i < len(w.Data)/2; i++ {
			assert.NotEqual(t, uint32(pointerConfigWrite+RegGPIOIn), w.MemAddr+uint32(i))
		}
	}
	dev := bus.Devices[DefaultAddress]
	assert.Equal(t, []byte{0x00, 0x0F}, dev.Register(pointerConfigRead+RegGPIOCfg))
}

func TestReadADCSequence(t *testing.T) {
	c, bus := newChip(t)
	dev := bus.Devices[DefaultAddress]
	dev.SetRegister(pointerADCRead, []byte{0x10, 0x23})
	dev.SetRegister(pointerADCRead+1, []byte{0x5F, 0xFF})

	samples, err := ReadADCSequence(c, []int{1, 5})
	require.NoError(t, err)
	assert.Equal(t, []Sample{{Channel: 1, Value: 0x023}, {Channel: 5, Value: 0xFFF}}, samples)

	assert.Equal(t, []byte{0x00, 0x22}, dev.Register(pointerConfigRead+RegADCSeq))

	last := bus.Log[len(bus.Log)-1]
	cmds, err := i2cmsg.Parse(last.Stream)
	require.NoError(t, err)
	assert.Equal(t, 4, i2cmsg.ReadCount(cmds))

	_, err = ReadADCSequence(c, []int{8})
	assert.Error(t, err)
}
