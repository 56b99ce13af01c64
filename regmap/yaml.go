package regmap

import (
	"io/ioutil"

	"github.com/BertoldVdb/i2cregs/regbus"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

type yamlChip struct {
	Chip    string      `yaml:"chip"`
	Version string      `yaml:"version"`
	Spaces  []yamlSpace `yaml:"spaces"`
}

type yamlSpace struct {
	Name           string      `yaml:"name"`
	Size           int         `yaml:"size"`
	AddressBits    int         `yaml:"address_bits"`
	RegisterBits   int         `yaml:"register_bits"`
	ByteOrder      string      `yaml:"byte_order"`
	ReadStyle      string      `yaml:"read_style"`
	DefaultAddress uint16      `yaml:"default_address"`
	Blocks         []yamlBlock `yaml:"blocks"`
	Fields         []yamlField `yaml:"fields"`
}

type yamlIndexer struct {
	Name   string `yaml:"name"`
	Min    int    `yaml:"min"`
	Max    int    `yaml:"max"`
	Stride uint32 `yaml:"stride"`
}

type yamlRegister struct {
	Name     string `yaml:"name"`
	Offset   uint32 `yaml:"offset"`
	Default  uint64 `yaml:"default"`
	ReadOnly bool   `yaml:"read_only"`
}

type yamlBlock struct {
	Name         string         `yaml:"name"`
	Base         uint32         `yaml:"base"`
	WriteBase    *uint32        `yaml:"write_base"`
	BroadcastBit uint32         `yaml:"broadcast_bit"`
	Indexers     []yamlIndexer  `yaml:"indexers"`
	Registers    []yamlRegister `yaml:"registers"`
}

type yamlPosition struct {
	Register  string `yaml:"register"`
	RegBits   string `yaml:"reg_bits"`
	FieldBits string `yaml:"field_bits"`
}

type yamlField struct {
	Name      string         `yaml:"name"`
	Block     string         `yaml:"block"`
	Bits      int            `yaml:"bits"`
	Positions []yamlPosition `yaml:"positions"`
}

// ParseYAML decodes a register map. Indexed blocks use a linear addresser:
// base plus the sum of each indexer value times its stride.
func ParseYAML(data []byte) (*Chip, error) {
	var yc yamlChip
	if err := yaml.UnmarshalStrict(data, &yc); err != nil {
		return nil, errors.Annotatef(err, "invalid register map")
	}

	c := &Chip{Name: yc.Chip, Version: yc.Version}
	for _, ys := range yc.Spaces {
		s, err := ys.convert()
		if err != nil {
			return nil, errors.Annotatef(err, "space %s", ys.Name)
		}
		c.Spaces = append(c.Spaces, s)
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return c, nil
}

// LoadYAML reads a register map from a file.
func LoadYAML(path string) (*Chip, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c, err := ParseYAML(data)
	return c, errors.Annotatef(err, "%s", path)
}

func (ys *yamlSpace) convert() (AddressSpace, error) {
	s := AddressSpace{
		Name:           ys.Name,
		Size:           ys.Size,
		DefaultAddress: ys.DefaultAddress,
		Wire: regbus.Frame{
			AddressBits:  ys.AddressBits,
			RegisterBits: ys.RegisterBits,
		},
	}
	if s.Wire.RegisterBits == 0 {
		s.Wire.RegisterBits = 8
	}

	switch ys.ByteOrder {
	case "", "big":
		s.Wire.Order = regbus.BigEndian
	case "little":
		s.Wire.Order = regbus.LittleEndian
	default:
		return s, errors.Errorf("unknown byte order %q", ys.ByteOrder)
	}

	switch ys.ReadStyle {
	case "", "normal":
		s.Wire.ReadStyle = transport.Normal
	case "repeated-start":
		s.Wire.ReadStyle = transport.RepeatedStart
	default:
		return s, errors.Errorf("unknown read style %q", ys.ReadStyle)
	}

	for _, yb := range ys.Blocks {
		b := Block{
			Name:         yb.Name,
			Base:         yb.Base,
			BroadcastBit: yb.BroadcastBit,
		}
		if yb.WriteBase != nil {
			b.WriteBase = *yb.WriteBase
			b.HasWriteBase = true
		}

		if len(yb.Indexers) > 0 {
			strides := make([]uint32, len(yb.Indexers))
			for i, yi := range yb.Indexers {
				b.Indexers = append(b.Indexers, Indexer{Name: yi.Name, Min: yi.Min, Max: yi.Max})
				strides[i] = yi.Stride
			}
			b.Addresser = LinearAddresser(yb.Base, strides...)
		}

		for _, yr := range yb.Registers {
			b.Registers = append(b.Registers, Register(yr))
		}
		s.Blocks = append(s.Blocks, b)
	}

	for _, yf := range ys.Fields {
		f := Field{Name: yf.Name, Block: yf.Block, Bits: yf.Bits}
		for _, yp := range yf.Positions {
			f.Positions = append(f.Positions, Position(yp))
		}
		s.Fields = append(s.Fields, f)
	}
	return s, nil
}
