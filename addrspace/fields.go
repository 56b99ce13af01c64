package addrspace

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/BertoldVdb/i2cregs/regerr"
	"github.com/BertoldVdb/i2cregs/regmap"
	"github.com/juju/errors"
)

// updating records which side of a field is currently propagating.
type updating int

const (
	idle updating = iota
	fromRegister
	fromField
)

type placement struct {
	addr  uint32
	reg   regmap.BitRange
	field regmap.BitRange
}

// fieldInstance is a decoded field of one block instance.
type fieldInstance struct {
	key   string
	field *regmap.Field
	at    []placement
	value uint64
	state updating
}

func (s *Space) buildFields() error {
	for i := range s.decl.Fields {
		f := &s.decl.Fields[i]
		b, ok := s.decl.Block(f.Block)
		if !ok {
			return errors.NotFoundf("block %s of field %s", f.Block, f.Name)
		}

		for _, inst := range b.Instances() {
			e := s.entries[inst.Ref]
			fi := &fieldInstance{key: inst.Ref + "/" + f.Name, field: f}

			for _, p := range f.Positions {
				reg, err := regmap.ParseBitRange(p.RegBits)
				if err != nil {
					return errors.Annotatef(err, "field %s", fi.key)
				}
				fld, err := regmap.ParseBitRange(p.FieldBits)
				if err != nil {
					return errors.Annotatef(err, "field %s", fi.key)
				}
				a := e.regs[p.Register]
				fi.at = append(fi.at, placement{addr: a, reg: reg, field: fld})
				s.fieldsAt[a] = append(s.fieldsAt[a], fi)
			}

			s.decode(fi)
			s.fields[fi.key] = fi
			s.byEntry[inst.Ref] = append(s.byEntry[inst.Ref], f.Name)
		}
	}
	return nil
}

// decode recomputes the field from the display values it covers.
func (s *Space) decode(fi *fieldInstance) {
	var v uint64
	for _, p := range fi.at {
		v = p.field.Insert(v, p.reg.Extract(s.display[p.addr].Uint64()))
	}
	fi.value = v
}

// setDisplayAt stores v and refreshes every field reading address a,
// except one whose own update caused the change.
func (s *Space) setDisplayAt(a uint32, v Value) {
	s.display[a] = v
	for _, fi := range s.fieldsAt[a] {
		if fi.state != idle {
			continue
		}
		fi.state = fromRegister
		s.decode(fi)
		fi.state = idle
	}
}

func (s *Space) setField(fi *fieldInstance, v uint64) {
	fi.state = fromField
	for _, p := range fi.at {
		cur := s.display[p.addr].Uint64()
		s.setDisplayAt(p.addr, Valid(p.reg.Insert(cur, p.field.Extract(v))))
	}
	fi.state = idle

	// Positions may overlap, so read back what actually landed.
	s.decode(fi)
}

func (s *Space) field(ref, name string) (*fieldInstance, error) {
	fi, ok := s.fields[ref+"/"+name]
	if !ok {
		return nil, errors.NotFoundf("field %s/%s in space %s", ref, name, s.decl.Name)
	}
	return fi, nil
}

// Fields lists the field names of block instance ref.
func (s *Space) Fields(ref string) []string {
	return append([]string{}, s.byEntry[ref]...)
}

// FieldRefs lists every field instance as "block_ref/field", sorted.
func (s *Space) FieldRefs() []string {
	var result []string
	for k := range s.fields {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// FieldWidth returns the bit width of a field.
func (s *Space) FieldWidth(ref, name string) (int, error) {
	fi, err := s.field(ref, name)
	if err != nil {
		return 0, err
	}
	return fi.field.Bits, nil
}

func (s *Space) Field(ref, name string) (uint64, error) {
	fi, err := s.field(ref, name)
	if err != nil {
		return 0, err
	}
	return fi.value, nil
}

// FieldString renders a field as a single bit character when it is one bit
// wide and as zero-padded hex otherwise.
func (s *Space) FieldString(ref, name string) (string, error) {
	fi, err := s.field(ref, name)
	if err != nil {
		return "", err
	}
	return formatField(fi.value, fi.field.Bits), nil
}

func formatField(v uint64, bits int) string {
	if bits == 1 {
		return strconv.FormatUint(v&1, 10)
	}
	return fmt.Sprintf("%0*x", (bits+3)/4, v)
}

// SetField splices v into the display values the field covers.
func (s *Space) SetField(ref, name string, v uint64) error {
	fi, err := s.field(ref, name)
	if err != nil {
		return err
	}
	if fi.field.Bits < 64 && v>>uint(fi.field.Bits) != 0 {
		return &regerr.InvalidValueError{Register: fi.key}
	}
	s.setField(fi, v)
	return nil
}

// SetFieldString parses text like SetDisplayString does: decimal, or hex
// with a 0x prefix.
func (s *Space) SetFieldString(ref, name, text string) error {
	fi, err := s.field(ref, name)
	if err != nil {
		return err
	}

	v, err := ParseValue(text)
	if err != nil || !v.IsValid() {
		return &regerr.InvalidValueError{Register: fi.key}
	}
	return s.SetField(ref, name, v.Uint64())
}
