// Package regmap declares register maps: address spaces made of blocks of
// registers, optionally replicated over indexer variables, and the decoded
// fields scattered over those registers.
package regmap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BertoldVdb/i2cregs/regbus"
	"github.com/juju/errors"
)

type Register struct {
	Name     string
	Offset   uint32
	Default  uint64
	ReadOnly bool
}

// Indexer is a variable an indexed block is replicated over. Its values are
// Min up to but not including Max.
type Indexer struct {
	Name string
	Min  int
	Max  int
}

// Addresser maps one value per indexer of a block to the base address of
// that instance.
type Addresser func(idx []int) uint32

// LinearAddresser returns base + sum(idx[i] * strides[i]).
func LinearAddresser(base uint32, strides ...uint32) Addresser {
	return func(idx []int) uint32 {
		addr := base
		for i, v := range idx {
			addr += uint32(v) * strides[i]
		}
		return addr
	}
}

type Block struct {
	Name string

	// Base is the address of a fixed block. WriteBase, when HasWriteBase is
	// set, is where writes of the block are sent.
	Base         uint32
	WriteBase    uint32
	HasWriteBase bool

	// Indexers and Addresser declare an indexed block. Writes to an
	// instance with broadcast enabled carry BroadcastBit in their address.
	Indexers     []Indexer
	Addresser    Addresser
	BroadcastBit uint32

	Registers []Register
}

func (b *Block) Indexed() bool {
	return len(b.Indexers) > 0
}

// Length is the number of addresses from the first to the last register.
func (b *Block) Length() uint32 {
	var n uint32
	for _, r := range b.Registers {
		if r.Offset+1 > n {
			n = r.Offset + 1
		}
	}
	return n
}

func (b *Block) Register(name string) (*Register, bool) {
	for i := range b.Registers {
		if b.Registers[i].Name == name {
			return &b.Registers[i], true
		}
	}
	return nil, false
}

// Instance is one concrete placement of a block.
type Instance struct {
	Ref       string
	Index     []int
	Base      uint32
	WriteBase uint32
}

// InstanceRef builds the tag of an indexed block instance, name:v1:v2.
func InstanceRef(name string, idx []int) string {
	if len(idx) == 0 {
		return name
	}
	parts := make([]string, 0, len(idx)+1)
	parts = append(parts, name)
	for _, v := range idx {
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, ":")
}

// Instances enumerates every placement of the block, the last indexer
// varying fastest.
func (b *Block) Instances() []Instance {
	if !b.Indexed() {
		wb := b.Base
		if b.HasWriteBase {
			wb = b.WriteBase
		}
		return []Instance{{Ref: b.Name, Base: b.Base, WriteBase: wb}}
	}

	var result []Instance
	idx := make([]int, len(b.Indexers))
	for i, ix := range b.Indexers {
		if ix.Max <= ix.Min {
			return nil
		}
		idx[i] = ix.Min
	}

	for {
		base := b.Addresser(idx)
		result = append(result, Instance{
			Ref:       InstanceRef(b.Name, idx),
			Index:     append([]int{}, idx...),
			Base:      base,
			WriteBase: base,
		})

		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < b.Indexers[i].Max {
				break
			}
			idx[i] = b.Indexers[i].Min
		}
		if i < 0 {
			return result
		}
	}
}

// Position places bits of a field inside one register of the field's block.
type Position struct {
	Register  string
	RegBits   string
	FieldBits string
}

type Field struct {
	Name      string
	Block     string
	Bits      int
	Positions []Position
}

type AddressSpace struct {
	Name string

	// Size is the number of register addresses.
	Size int
	Wire regbus.Frame

	Blocks []Block
	Fields []Field

	// DefaultAddress is bound at chip creation. Zero leaves the space
	// unbound.
	DefaultAddress uint16
}

func (s *AddressSpace) Block(name string) (*Block, bool) {
	for i := range s.Blocks {
		if s.Blocks[i].Name == name {
			return &s.Blocks[i], true
		}
	}
	return nil, false
}

// Chip is the register map of one chip family.
type Chip struct {
	Name    string
	Version string
	Spaces  []AddressSpace
}

func (c *Chip) Space(name string) (*AddressSpace, bool) {
	for i := range c.Spaces {
		if c.Spaces[i].Name == name {
			return &c.Spaces[i], true
		}
	}
	return nil, false
}

// Indexers returns the union of indexers of all blocks, merged by name.
func (c *Chip) Indexers() []Indexer {
	byName := map[string]Indexer{}
	for _, s := range c.Spaces {
		for _, b := range s.Blocks {
			for _, ix := range b.Indexers {
				if have, ok := byName[ix.Name]; ok {
					if ix.Min < have.Min {
						have.Min = ix.Min
					}
					if ix.Max > have.Max {
						have.Max = ix.Max
					}
					ix = have
				}
				byName[ix.Name] = ix
			}
		}
	}

	result := make([]Indexer, 0, len(byName))
	for _, ix := range byName {
		result = append(result, ix)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Validate checks that the map is self-consistent: every instance fits in
// the space, names are unique and every field position names an existing
// register with bit ranges inside the register and the field.
func (s *AddressSpace) Validate() error {
	if s.Size <= 0 {
		return errors.Errorf("space %s: size must be positive", s.Name)
	}
	if s.Wire.AddressBits != 8 && s.Wire.AddressBits != 16 {
		return errors.Errorf("space %s: %d-bit addresses", s.Name, s.Wire.AddressBits)
	}
	if s.Wire.RegisterBits < 1 || s.Wire.RegisterBits > 64 {
		return errors.Errorf("space %s: %d-bit registers", s.Name, s.Wire.RegisterBits)
	}

	blocks := map[string]bool{}
	for i := range s.Blocks {
		b := &s.Blocks[i]
		if blocks[b.Name] {
			return errors.Errorf("space %s: duplicate block %s", s.Name, b.Name)
		}
		blocks[b.Name] = true

		if err := s.validateBlock(b); err != nil {
			return errors.Annotatef(err, "space %s block %s", s.Name, b.Name)
		}
	}

	fields := map[string]bool{}
	for i := range s.Fields {
		f := &s.Fields[i]
		key := f.Block + "/" + f.Name
		if fields[key] {
			return errors.Errorf("space %s: duplicate field %s", s.Name, key)
		}
		fields[key] = true

		if err := s.validateField(f); err != nil {
			return errors.Annotatef(err, "space %s field %s", s.Name, key)
		}
	}
	return nil
}

func (s *AddressSpace) validateBlock(b *Block) error {
	if b.Indexed() {
		if b.Addresser == nil {
			return errors.New("indexed block without addresser")
		}
		if b.HasWriteBase {
			return errors.New("indexed blocks cannot have a write base")
		}
		for _, ix := range b.Indexers {
			if ix.Max <= ix.Min {
				return errors.Errorf("indexer %s has empty range [%d, %d)", ix.Name, ix.Min, ix.Max)
			}
		}
	}

	regs := map[string]bool{}
	for _, r := range b.Registers {
		if regs[r.Name] {
			return errors.Errorf("duplicate register %s", r.Name)
		}
		regs[r.Name] = true
		if r.Default&^s.Wire.Mask() != 0 {
			return errors.Errorf("register %s: default 0x%x exceeds %d bits", r.Name, r.Default, s.Wire.RegisterBits)
		}
	}

	length := b.Length()
	for _, inst := range b.Instances() {
		for _, base := range []uint32{inst.Base, inst.WriteBase} {
			if int(base)+int(length) > s.Size {
				return errors.Errorf("instance %s at 0x%x exceeds space size 0x%x", inst.Ref, base, s.Size)
			}
		}
	}
	return nil
}

func (s *AddressSpace) validateField(f *Field) error {
	b, ok := s.Block(f.Block)
	if !ok {
		return errors.NotFoundf("block %s", f.Block)
	}
	if f.Bits < 1 || f.Bits > 64 {
		return errors.Errorf("width %d", f.Bits)
	}

	for _, p := range f.Positions {
		if _, ok := b.Register(p.Register); !ok {
			return errors.NotFoundf("register %s", p.Register)
		}
		rr, err := ParseBitRange(p.RegBits)
		if err != nil {
			return err
		}
		fr, err := ParseBitRange(p.FieldBits)
		if err != nil {
			return err
		}
		if rr.Width() != fr.Width() {
			return errors.Errorf("%s: register bits %s and field bits %s differ in width", p.Register, p.RegBits, p.FieldBits)
		}
		if rr.Hi >= s.Wire.RegisterBits {
			return errors.Errorf("%s: bit %d outside %d-bit register", p.Register, rr.Hi, s.Wire.RegisterBits)
		}
		if fr.Hi >= f.Bits {
			return errors.Errorf("%s: bit %d outside %d-bit field", p.Register, fr.Hi, f.Bits)
		}
	}
	return nil
}

func (c *Chip) Validate() error {
	names := map[string]bool{}
	for i := range c.Spaces {
		if names[c.Spaces[i].Name] {
			return errors.Errorf("duplicate space %s", c.Spaces[i].Name)
		}
		names[c.Spaces[i].Name] = true
		if err := c.Spaces[i].Validate(); err != nil {
			return errors.Annotatef(err, "chip %s", c.Name)
		}
	}
	return nil
}

func (r Register) String() string {
	ro := ""
	if r.ReadOnly {
		ro = " ro"
	}
	return fmt.Sprintf("%s@+0x%x=0x%x%s", r.Name, r.Offset, r.Default, ro)
}
