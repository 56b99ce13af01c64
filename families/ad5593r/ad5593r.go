// Package ad5593r declares the register map of the AD5593R 8 channel
// ADC/DAC/GPIO used on the ETROC test boards, and its ADC conversion
// sequence.
package ad5593r

import (
	"github.com/BertoldVdb/i2cregs/chip"
	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/BertoldVdb/i2cregs/regbus"
	"github.com/BertoldVdb/i2cregs/regmap"
	"github.com/juju/errors"
)

const (
	Name    = "AD5593R"
	Version = "1.0"

	// DefaultAddress is the address with A0 tied low.
	DefaultAddress = 0x10

	Channels = 8

	// Pointer bytes: the upper nibble selects the operation.
	pointerConfigWrite = 0x00
	pointerDACWrite    = 0x10
	pointerADCRead     = 0x40
	pointerDACRead     = 0x50
	pointerConfigRead  = 0x70
)

// Control register numbers.
const (
	RegNOP       = 0x00
	RegADCSeq    = 0x02
	RegGenCtrl   = 0x03
	RegADCConfig = 0x04
	RegDACConfig = 0x05
	RegPullDown  = 0x06
	RegLDACMode  = 0x07
	RegGPIOCfg   = 0x08
	RegGPIOOut   = 0x09
	RegGPIOIn    = 0x0A
	RegPDRef     = 0x0B
	RegOpenDrain = 0x0C
	RegTristate  = 0x0D
	RegReset     = 0x0F
)

func configRegisters() []regmap.Register {
	return []regmap.Register{
		{Name: "NOP", Offset: RegNOP},
		{Name: "ADC_SEQ", Offset: RegADCSeq},
		{Name: "GEN_CTRL_REG", Offset: RegGenCtrl},
		{Name: "ADC_CONFIG", Offset: RegADCConfig},
		{Name: "DAC_CONFIG", Offset: RegDACConfig},
		{Name: "PULLDWN_CONFIG", Offset: RegPullDown},
		{Name: "LDAC_MODE", Offset: RegLDACMode},
		{Name: "GPIO_CONFIG", Offset: RegGPIOCfg},
		{Name: "GPIO_OUTPUT", Offset: RegGPIOOut},
		{Name: "GPIO_INPUT", Offset: RegGPIOIn, ReadOnly: true},
		{Name: "PD_REF_CTRL", Offset: RegPDRef},
		{Name: "GPIO_OPENDRAIN_CONFIG", Offset: RegOpenDrain},
		{Name: "IO_TS_CONFIG", Offset: RegTristate},
		{Name: "SW_RESET", Offset: RegReset},
	}
}

func configFields() []regmap.Field {
	const b = "Config"
	return []regmap.Field{
		regmap.In("ADC_SEQ_channels", b, "ADC_SEQ", "7-0"),
		regmap.In("ADC_SEQ_TEMP", b, "ADC_SEQ", "8"),
		regmap.In("ADC_SEQ_REP", b, "ADC_SEQ", "9"),
		regmap.In("DAC_RANGE", b, "GEN_CTRL_REG", "4"),
		regmap.In("ADC_RANGE", b, "GEN_CTRL_REG", "5"),
		regmap.In("ALL_DAC", b, "GEN_CTRL_REG", "6"),
		regmap.In("IO_LOCK", b, "GEN_CTRL_REG", "7"),
		regmap.In("ADC_BUF_EN", b, "GEN_CTRL_REG", "8"),
		regmap.In("ADC_BUF_PRECH", b, "GEN_CTRL_REG", "9"),
		regmap.In("ADC_pins", b, "ADC_CONFIG", "7-0"),
		regmap.In("DAC_pins", b, "DAC_CONFIG", "7-0"),
		regmap.In("PULLDWN_pins", b, "PULLDWN_CONFIG", "7-0"),
		regmap.In("LDAC_MODE", b, "LDAC_MODE", "1-0"),
		regmap.In("GPIO_pins", b, "GPIO_CONFIG", "7-0"),
		regmap.In("GPIO_out", b, "GPIO_OUTPUT", "7-0"),
		regmap.In("GPIO_in", b, "GPIO_INPUT", "7-0"),
		regmap.In("PD_pins", b, "PD_REF_CTRL", "7-0"),
		regmap.In("EN_REF", b, "PD_REF_CTRL", "9"),
		regmap.In("PD_ALL", b, "PD_REF_CTRL", "10"),
		regmap.In("OPENDRAIN_pins", b, "GPIO_OPENDRAIN_CONFIG", "7-0"),
		regmap.In("TRISTATE_pins", b, "IO_TS_CONFIG", "7-0"),
	}
}

func dacFields() []regmap.Field {
	var fields []regmap.Field
	for _, r := range regmap.Numbered("DAC", Channels) {
		fields = append(fields, regmap.In(r.Name+"_value", "DAC", r.Name, "11-0"))
	}
	return fields
}

// Map returns a fresh copy of the AD5593R register map. Control registers
// are written through pointer 0x00+n and read back through 0x70+n, DAC
// registers through 0x10+n and 0x50+n.
func Map() *regmap.Chip {
	return &regmap.Chip{
		Name:    Name,
		Version: Version,
		Spaces: []regmap.AddressSpace{{
			Name: "main",
			Size: 0x80,
			Wire: regbus.Frame{
				AddressBits:  8,
				RegisterBits: 16,
				Order:        regbus.BigEndian,
			},
			Blocks: []regmap.Block{
				{
					Name:         "Config",
					Base:         pointerConfigRead,
					WriteBase:    pointerConfigWrite,
					HasWriteBase: true,
					Registers:    configRegisters(),
				},
				{
					Name:         "DAC",
					Base:         pointerDACRead,
					WriteBase:    pointerDACWrite,
					HasWriteBase: true,
					Registers:    regmap.Numbered("DAC", Channels),
				},
			},
			Fields:         append(configFields(), dacFields()...),
			DefaultAddress: DefaultAddress,
		}},
	}
}

// Sample is one ADC conversion result.
type Sample struct {
	Channel int
	Value   uint16
}

// ReadADCSequence converts the given channels once and returns the results
// in conversion order. The channels are stored in ADC_SEQ, which is
// written to the device before the conversion is read.
func ReadADCSequence(c *chip.Chip, channels []int) ([]Sample, error) {
	if len(channels) == 0 {
		return nil, nil
	}

	var mask uint64
	for _, ch := range channels {
		if ch < 0 || ch >= Channels {
			return nil, errors.Errorf("invalid ADC channel %d", ch)
		}
		mask |= 1 << uint(ch)
	}

	s, err := c.Space("main")
	if err != nil {
		return nil, err
	}
	addr, ok := s.Address()
	if !ok {
		return nil, errors.Errorf("%s is not bound to an I2C address", Name)
	}

	if err := c.SetField("main", "Config", "ADC_SEQ_REP", 0); err != nil {
		return nil, err
	}
	if err := c.SetField("main", "Config", "ADC_SEQ_channels", mask); err != nil {
		return nil, err
	}
	if err := c.WriteRegister("main", "Config", "ADC_SEQ", false); err != nil {
		return nil, errors.Annotatef(err, "select ADC channels")
	}

	n := 0
	for ch := 0; ch < Channels; ch++ {
		if mask&(1<<uint(ch)) != 0 {
			n++
		}
	}

	rx, err := c.Direct(i2cmsg.RepeatedStartRead(addr, []byte{pointerADCRead}, 2*n))
	if err != nil {
		return nil, errors.Annotatef(err, "read ADC sequence")
	}
	if len(rx) != 2*n {
		return nil, errors.Errorf("ADC sequence returned %d bytes, want %d", len(rx), 2*n)
	}

	samples := make([]Sample, n)
	for i := range samples {
		w := uint16(rx[2*i])<<8 | uint16(rx[2*i+1])
		samples[i] = Sample{Channel: int(w>>12) & 0x7, Value: w & 0xFFF}
	}
	return samples, nil
}
