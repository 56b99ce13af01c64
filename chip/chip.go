// Package chip ties the address spaces of one chip family to a transport
// and exposes the register operations used by the hosts.
package chip

import (
	"fmt"
	"sort"

	"github.com/BertoldVdb/i2cregs/addrspace"
	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/BertoldVdb/i2cregs/regbus"
	"github.com/BertoldVdb/i2cregs/regerr"
	"github.com/BertoldVdb/i2cregs/regmap"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Chip is one chip on a bus. It is not safe for concurrent use.
type Chip struct {
	def  *regmap.Chip
	bus  *regbus.Bus
	sink regerr.Sink

	busConfig regbus.Config

	spaces   map[string]*addrspace.Space
	order    []string
	indexers map[string]regmap.Indexer
	values   map[string]int
}

type Option func(c *Chip)

// WithSink sends user-facing messages to s instead of glog.
func WithSink(s regerr.Sink) Option {
	return func(c *Chip) {
		c.sink = s
	}
}

func WithBusConfig(cfg regbus.Config) Option {
	return func(c *Chip) {
		c.busConfig = cfg
	}
}

// New creates the address spaces of def on transport t. Spaces with a
// default address are bound to it.
func New(def *regmap.Chip, t transport.Transport, opts ...Option) (*Chip, error) {
	if err := def.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	c := &Chip{
		def:      def,
		sink:     regerr.GlogSink,
		spaces:   make(map[string]*addrspace.Space),
		indexers: make(map[string]regmap.Indexer),
		values:   make(map[string]int),
	}
	for _, o := range opts {
		o(c)
	}
	c.bus = regbus.New(t, c.busConfig)

	for i := range def.Spaces {
		decl := &def.Spaces[i]
		s, err := addrspace.New(decl, c.bus, c.sink)
		if err != nil {
			return nil, errors.Annotatef(err, "chip %s", def.Name)
		}
		if decl.DefaultAddress != 0 {
			if err := s.BindAddress(decl.DefaultAddress); err != nil {
				return nil, errors.Annotatef(err, "chip %s space %s", def.Name, decl.Name)
			}
		}
		c.spaces[decl.Name] = s
		c.order = append(c.order, decl.Name)
	}

	for _, ix := range def.Indexers() {
		c.indexers[ix.Name] = ix
		c.values[ix.Name] = ix.Min
	}

	glog.V(1).Infof("Created %s", c.Info())
	return c, nil
}

// Info summarises the chip and the binding of its spaces.
type Info struct {
	Name    string
	Version string
	Spaces  []SpaceInfo
}

type SpaceInfo struct {
	Name    string
	Size    int
	Address uint16
	Bound   bool
}

func (i Info) String() string {
	s := fmt.Sprintf("Chip=%s Version=%s", i.Name, i.Version)
	for _, sp := range i.Spaces {
		if sp.Bound {
			s += fmt.Sprintf(" %s@0x%02x", sp.Name, sp.Address)
		} else {
			s += fmt.Sprintf(" %s@unbound", sp.Name)
		}
	}
	return s
}

func (c *Chip) Info() Info {
	info := Info{Name: c.def.Name, Version: c.def.Version}
	for _, name := range c.order {
		s := c.spaces[name]
		addr, bound := s.Address()
		info.Spaces = append(info.Spaces, SpaceInfo{Name: name, Size: s.Decl().Size, Address: addr, Bound: bound})
	}
	return info
}

func (c *Chip) Definition() *regmap.Chip {
	return c.def
}

// Spaces lists the space names in declaration order.
func (c *Chip) Spaces() []string {
	return append([]string{}, c.order...)
}

func (c *Chip) Space(name string) (*addrspace.Space, error) {
	s, ok := c.spaces[name]
	if !ok {
		return nil, errors.NotFoundf("space %s of chip %s", name, c.def.Name)
	}
	return s, nil
}

func (c *Chip) Bus() *regbus.Bus {
	return c.bus
}

func (c *Chip) BindI2C(space string, addr uint16) error {
	s, err := c.Space(space)
	if err != nil {
		return err
	}
	return s.BindAddress(addr)
}

func (c *Chip) UnbindI2C(space string) error {
	s, err := c.Space(space)
	if err != nil {
		return err
	}
	s.Unbind()
	return nil
}

// Indexers lists the indexer variables with their ranges.
func (c *Chip) Indexers() []regmap.Indexer {
	result := make([]regmap.Indexer, 0, len(c.indexers))
	for _, ix := range c.indexers {
		result = append(result, ix)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (c *Chip) SetIndexer(name string, v int) error {
	ix, ok := c.indexers[name]
	if !ok {
		return &regerr.InvalidIndexerError{Name: name, Value: v, Reason: "no such indexer"}
	}
	if v < ix.Min || v >= ix.Max {
		return &regerr.InvalidIndexerError{Name: name, Value: v, Reason: fmt.Sprintf("outside [%d, %d)", ix.Min, ix.Max)}
	}
	c.values[name] = v
	return nil
}

func (c *Chip) Indexer(name string) (int, error) {
	v, ok := c.values[name]
	if !ok {
		return 0, &regerr.InvalidIndexerError{Name: name, Reason: "no such indexer"}
	}
	return v, nil
}

// Resolve returns the block reference of block in space: the block name for
// fixed blocks and whole arrays, otherwise the instance selected by the
// current indexer values.
func (c *Chip) Resolve(space, block string, fullArray bool) (string, error) {
	s, err := c.Space(space)
	if err != nil {
		return "", err
	}
	b, ok := s.Decl().Block(block)
	if !ok {
		return "", errors.NotFoundf("block %s in space %s", block, space)
	}
	if !b.Indexed() || fullArray {
		return b.Name, nil
	}

	idx := make([]int, len(b.Indexers))
	for i, ix := range b.Indexers {
		v, err := c.Indexer(ix.Name)
		if err != nil {
			return "", err
		}
		if v < ix.Min || v >= ix.Max {
			return "", &regerr.InvalidIndexerError{Name: ix.Name, Value: v, Reason: fmt.Sprintf("outside [%d, %d) of block %s", ix.Min, ix.Max, block)}
		}
		idx[i] = v
	}
	return regmap.InstanceRef(b.Name, idx), nil
}

func (c *Chip) resolve(space, block string, fullArray bool) (*addrspace.Space, string, error) {
	s, err := c.Space(space)
	if err != nil {
		return nil, "", err
	}
	ref, err := c.Resolve(space, block, fullArray)
	if err != nil {
		return nil, "", err
	}
	return s, ref, nil
}

func (c *Chip) ReadRegister(space, block, reg string) error {
	s, ref, err := c.resolve(space, block, false)
	if err != nil {
		return err
	}
	return s.ReadRegister(ref, reg)
}

func (c *Chip) WriteRegister(space, block, reg string, verify bool) error {
	s, ref, err := c.resolve(space, block, false)
	if err != nil {
		return err
	}
	return s.WriteRegister(ref, reg, verify)
}

func (c *Chip) ReadBlock(space, block string, fullArray bool) error {
	s, ref, err := c.resolve(space, block, fullArray)
	if err != nil {
		return err
	}
	return s.ReadBlock(ref)
}

func (c *Chip) WriteBlock(space, block string, fullArray, verify bool) error {
	s, ref, err := c.resolve(space, block, fullArray)
	if err != nil {
		return err
	}
	return s.WriteBlock(ref, verify)
}

// bound returns the spaces attached to a device address.
func (c *Chip) bound() ([]*addrspace.Space, error) {
	var result []*addrspace.Space
	for _, name := range c.order {
		if _, ok := c.spaces[name].Address(); ok {
			result = append(result, c.spaces[name])
		}
	}
	if len(result) == 0 {
		return nil, &regerr.UnboundError{Space: c.def.Name}
	}
	return result, nil
}

// ReadAll reads every bound space. Unbound spaces are skipped.
func (c *Chip) ReadAll() error {
	spaces, err := c.bound()
	if err != nil {
		return err
	}
	var result error
	for _, s := range spaces {
		result = regerr.Append(result, s.ReadAll())
	}
	return result
}

func (c *Chip) WriteAll(verify bool) error {
	spaces, err := c.bound()
	if err != nil {
		return err
	}
	var result error
	for _, s := range spaces {
		result = regerr.Append(result, s.WriteAll(verify))
	}
	return result
}

func (c *Chip) Display(space, block, reg string) (addrspace.Value, error) {
	s, ref, err := c.resolve(space, block, false)
	if err != nil {
		return addrspace.Value{}, err
	}
	return s.Display(ref, reg)
}

func (c *Chip) DisplayString(space, block, reg string) (string, error) {
	s, ref, err := c.resolve(space, block, false)
	if err != nil {
		return "", err
	}
	return s.DisplayString(ref, reg)
}

func (c *Chip) SetDisplay(space, block, reg string, v uint64) error {
	s, ref, err := c.resolve(space, block, false)
	if err != nil {
		return err
	}
	return s.SetDisplay(ref, reg, addrspace.Valid(v))
}

func (c *Chip) SetDisplayString(space, block, reg, text string) error {
	s, ref, err := c.resolve(space, block, false)
	if err != nil {
		return err
	}
	return s.SetDisplayString(ref, reg, text)
}

func (c *Chip) Field(space, block, field string) (uint64, error) {
	s, ref, err := c.resolve(space, block, false)
	if err != nil {
		return 0, err
	}
	return s.Field(ref, field)
}

func (c *Chip) FieldString(space, block, field string) (string, error) {
	s, ref, err := c.resolve(space, block, false)
	if err != nil {
		return "", err
	}
	return s.FieldString(ref, field)
}

func (c *Chip) SetField(space, block, field string, v uint64) error {
	s, ref, err := c.resolve(space, block, false)
	if err != nil {
		return err
	}
	return s.SetField(ref, field, v)
}

func (c *Chip) SetFieldString(space, block, field, text string) error {
	s, ref, err := c.resolve(space, block, false)
	if err != nil {
		return err
	}
	return s.SetFieldString(ref, field, text)
}

func (c *Chip) IsModified(space string) (addrspace.State, error) {
	s, err := c.Space(space)
	if err != nil {
		return addrspace.Unknown, err
	}
	return s.IsModified(), nil
}

// ResetConfig sets every display value of every space to its default.
func (c *Chip) ResetConfig() {
	for _, name := range c.order {
		c.spaces[name].Reset()
	}
}

func (c *Chip) RevertConfig() {
	for _, name := range c.order {
		c.spaces[name].Revert()
	}
}

// SetBroadcast makes writes to indexed block instances address all
// instances at once.
func (c *Chip) SetBroadcast(enable bool) {
	for _, name := range c.order {
		c.spaces[name].SetBroadcast(enable)
	}
}

// Direct runs a bus script and returns the bytes it read.
func (c *Chip) Direct(cmds []i2cmsg.Command) ([]byte, error) {
	rx, err := c.bus.Direct(cmds)
	if err != nil {
		c.sink.Report(err)
		return nil, err
	}
	return rx, nil
}

func (c *Chip) CheckDevice(addr uint16) (bool, error) {
	return c.bus.CheckDevice(addr)
}

// Scan probes the non-reserved 7-bit addresses and returns those that
// acknowledged.
func (c *Chip) Scan() ([]uint16, error) {
	return Scan(c.bus)
}

// Scan probes 0x08 to 0x77 on bus.
func Scan(bus *regbus.Bus) ([]uint16, error) {
	var found []uint16
	for addr := uint16(0x08); addr <= 0x77; addr++ {
		ok, err := bus.CheckDevice(addr)
		if err != nil {
			return found, errors.Annotatef(err, "probe 0x%02x", addr)
		}
		if ok {
			glog.V(1).Infof("Found device at 0x%02x", addr)
			found = append(found, addr)
		}
	}
	return found, nil
}

func (c *Chip) Close() error {
	return c.bus.Close()
}
