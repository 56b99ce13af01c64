package regmap

import (
	"testing"

	"github.com/BertoldVdb/i2cregs/regbus"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBitRange(t *testing.T) {
	r, err := ParseBitRange("7-4")
	require.NoError(t, err)
	assert.Equal(t, BitRange{Hi: 7, Lo: 4}, r)
	assert.Equal(t, 4, r.Width())
	assert.Equal(t, uint64(0xF0), r.Mask())
	assert.Equal(t, uint64(0x3), r.Extract(0x35))
	assert.Equal(t, uint64(0xA5), r.Insert(0x35, 0xA))
	assert.Equal(t, "7-4", r.String())

	r, err = ParseBitRange("3")
	require.NoError(t, err)
	assert.Equal(t, BitRange{Hi: 3, Lo: 3}, r)
	assert.Equal(t, "3", r.String())

	for _, bad := range []string{"", "a", "2-5", "1-2-3", "-1"} {
		_, err := ParseBitRange(bad)
		assert.Errorf(t, err, "%q", bad)
	}
}

func TestInstances(t *testing.T) {
	b := Block{
		Name:      "Pix",
		Indexers:  []Indexer{{Name: "row", Min: 0, Max: 2}, {Name: "col", Min: 1, Max: 3}},
		Addresser: LinearAddresser(0x100, 0x20, 0x200),
		Registers: []Register{{Name: "A", Offset: 0}, {Name: "B", Offset: 3}},
	}

	inst := b.Instances()
	require.Len(t, inst, 4)
	assert.Equal(t, "Pix:0:1", inst[0].Ref)
	assert.Equal(t, uint32(0x300), inst[0].Base)
	assert.Equal(t, "Pix:0:2", inst[1].Ref)
	assert.Equal(t, uint32(0x500), inst[1].Base)
	assert.Equal(t, "Pix:1:1", inst[2].Ref)
	assert.Equal(t, uint32(0x320), inst[2].Base)
	assert.Equal(t, []int{1, 2}, inst[3].Index)
	assert.Equal(t, uint32(4), b.Length())

	fixed := Block{Name: "Cfg", Base: 0x70, WriteBase: 0x00, HasWriteBase: true}
	assert.Equal(t, []Instance{{Ref: "Cfg", Base: 0x70, WriteBase: 0x00}}, fixed.Instances())
}

func testSpace() AddressSpace {
	return AddressSpace{
		Name: "main",
		Size: 0x20,
		Wire: regbus.Frame{AddressBits: 8, RegisterBits: 8},
		Blocks: []Block{{
			Name:      "Cfg",
			Registers: []Register{{Name: "R0", Offset: 0}, {Name: "R1", Offset: 1, Default: 0x80}},
		}},
		Fields: []Field{{
			Name:  "G",
			Block: "Cfg",
			Bits:  5,
			Positions: []Position{
				{Register: "R0", RegBits: "2-0", FieldBits: "4-2"},
				{Register: "R1", RegBits: "7-6", FieldBits: "1-0"},
			},
		}},
	}
}

func TestValidate(t *testing.T) {
	s := testSpace()
	require.NoError(t, s.Validate())

	s.Fields[0].Positions[0].Register = "R9"
	assert.Error(t, s.Validate())

	s = testSpace()
	s.Fields[0].Positions[1].FieldBits = "2-0"
	assert.Error(t, s.Validate())

	s = testSpace()
	s.Fields[0].Positions[1].RegBits = "8-7"
	assert.Error(t, s.Validate())

	s = testSpace()
	s.Blocks[0].Base = 0x1F
	assert.Error(t, s.Validate())

	s = testSpace()
	s.Blocks[0].Registers[0].Default = 0x100
	assert.Error(t, s.Validate())

	s = testSpace()
	s.Wire.AddressBits = 12
	assert.Error(t, s.Validate())
}

func TestChipIndexers(t *testing.T) {
	c := Chip{Spaces: []AddressSpace{{
		Blocks: []Block{
			{Indexers: []Indexer{{Name: "row", Min: 0, Max: 16}, {Name: "col", Min: 0, Max: 16}}},
			{Indexers: []Indexer{{Name: "row", Min: 0, Max: 8}}},
		},
	}}}
	assert.Equal(t, []Indexer{{Name: "col", Min: 0, Max: 16}, {Name: "row", Min: 0, Max: 16}}, c.Indexers())
}

const yamlMap = `
chip: demo
version: "1.2"
spaces:
  - name: main
    size: 0x100
    address_bits: 8
    register_bits: 16
    byte_order: little
    read_style: repeated-start
    default_address: 0x20
    blocks:
      - name: Cfg
        base: 0x10
        write_base: 0x50
        registers:
          - {name: R0, offset: 0, default: 0x1234}
          - {name: ID, offset: 1, read_only: true}
      - name: Chan
        base: 0x80
        indexers:
          - {name: ch, min: 0, max: 4, stride: 2}
        registers:
          - {name: Lo, offset: 0}
          - {name: Hi, offset: 1}
    fields:
      - name: Mode
        block: Cfg
        bits: 4
        positions:
          - {register: R0, reg_bits: "15-12", field_bits: "3-0"}
`

func TestParseYAML(t *testing.T) {
	c, err := ParseYAML([]byte(yamlMap))
	require.NoError(t, err)
	assert.Equal(t, "demo", c.Name)
	assert.Equal(t, "1.2", c.Version)

	s, ok := c.Space("main")
	require.True(t, ok)
	assert.Equal(t, 0x100, s.Size)
	assert.Equal(t, uint16(0x20), s.DefaultAddress)
	assert.Equal(t, regbus.Frame{AddressBits: 8, RegisterBits: 16, Order: regbus.LittleEndian, ReadStyle: transport.RepeatedStart}, s.Wire)

	cfg, ok := s.Block("Cfg")
	require.True(t, ok)
	assert.True(t, cfg.HasWriteBase)
	assert.Equal(t, uint32(0x50), cfg.WriteBase)
	assert.Equal(t, uint64(0x1234), cfg.Registers[0].Default)
	assert.True(t, cfg.Registers[1].ReadOnly)

	ch, ok := s.Block("Chan")
	require.True(t, ok)
	inst := ch.Instances()
	require.Len(t, inst, 4)
	assert.Equal(t, "Chan:3", inst[3].Ref)
	assert.Equal(t, uint32(0x86), inst[3].Base)

	_, err = ParseYAML([]byte("chip: x\nunknown: 1\n"))
	assert.Error(t, err)
}
