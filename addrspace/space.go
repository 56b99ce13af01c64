// Package addrspace keeps the shadow of one I²C device's register memory:
// the values last seen on the device, the values staged for writing and the
// decoded fields overlaying them.
package addrspace

import (
	"sort"
	"strings"

	"github.com/BertoldVdb/i2cregs/regbus"
	"github.com/BertoldVdb/i2cregs/regerr"
	"github.com/BertoldVdb/i2cregs/regmap"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// entry is one addressable block: a fixed block, one instance of an indexed
// block, or the whole range of an indexed block.
type entry struct {
	ref      string
	block    *regmap.Block
	instance bool // an instance of an indexed block

	base      uint32
	writeBase uint32
	addrs     []uint32 // declared addresses, ascending
	regs      map[string]uint32
}

// Space is the controller of one address space. It is not safe for
// concurrent use.
type Space struct {
	decl *regmap.AddressSpace
	bus  *regbus.Bus
	sink regerr.Sink

	addr      uint16
	bound     bool
	hasRead   bool
	broadcast bool

	memory   []uint64
	memValid []bool
	display  []Value
	defaults []uint64
	declared []bool
	readOnly []bool
	names    map[uint32]string

	entries map[string]*entry
	order   []string

	fields   map[string]*fieldInstance
	fieldsAt map[uint32][]*fieldInstance
	byEntry  map[string][]string
}

// New builds the shadow of decl. Display values start at the register
// defaults and every field is decoded from them.
func New(decl *regmap.AddressSpace, bus *regbus.Bus, sink regerr.Sink) (*Space, error) {
	if err := decl.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	s := &Space{
		decl:     decl,
		bus:      bus,
		sink:     sink,
		memory:   make([]uint64, decl.Size),
		memValid: make([]bool, decl.Size),
		display:  make([]Value, decl.Size),
		defaults: make([]uint64, decl.Size),
		declared: make([]bool, decl.Size),
		readOnly: make([]bool, decl.Size),
		names:    make(map[uint32]string),
		entries:  make(map[string]*entry),
		fields:   make(map[string]*fieldInstance),
		fieldsAt: make(map[uint32][]*fieldInstance),
		byEntry:  make(map[string][]string),
	}

	for i := range decl.Blocks {
		if err := s.addBlock(&decl.Blocks[i]); err != nil {
			return nil, errors.Annotatef(err, "space %s", decl.Name)
		}
	}
	for i := range s.display {
		s.display[i] = Valid(s.defaults[i])
	}
	if err := s.buildFields(); err != nil {
		return nil, errors.Annotatef(err, "space %s", decl.Name)
	}
	return s, nil
}

func (s *Space) addEntry(e *entry) error {
	if _, ok := s.entries[e.ref]; ok {
		return errors.Errorf("duplicate block reference %s", e.ref)
	}
	s.entries[e.ref] = e
	s.order = append(s.order, e.ref)
	return nil
}

func (s *Space) addBlock(b *regmap.Block) error {
	var (
		covering  []uint32
		instances []*entry
	)
	seen := map[uint32]bool{}

	for _, inst := range b.Instances() {
		e := &entry{
			ref:       inst.Ref,
			block:     b,
			instance:  b.Indexed(),
			base:      inst.Base,
			writeBase: inst.WriteBase,
			regs:      make(map[string]uint32),
		}

		for _, r := range b.Registers {
			a := inst.Base + r.Offset
			e.regs[r.Name] = a
			e.addrs = append(e.addrs, a)

			s.declared[a] = true
			s.defaults[a] = r.Default
			if r.ReadOnly {
				s.readOnly[a] = true
			}
			if _, ok := s.names[a]; !ok {
				s.names[a] = inst.Ref + "/" + r.Name
			}
			if !seen[a] {
				seen[a] = true
				covering = append(covering, a)
			}
		}
		sortAddrs(e.addrs)
		instances = append(instances, e)
	}

	if b.Indexed() {
		// The whole-array entry is listed ahead of its instances.
		sortAddrs(covering)
		e := &entry{ref: b.Name, block: b, addrs: covering}
		if len(covering) > 0 {
			e.base = covering[0]
			e.writeBase = covering[0]
		}
		instances = append([]*entry{e}, instances...)
	}
	for _, e := range instances {
		if err := s.addEntry(e); err != nil {
			return err
		}
	}
	return nil
}

func sortAddrs(a []uint32) {
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
}

func (s *Space) Name() string {
	return s.decl.Name
}

func (s *Space) Decl() *regmap.AddressSpace {
	return s.decl
}

func (s *Space) Frame() regbus.Frame {
	return s.decl.Wire
}

// BindAddress attaches the space to a 7-bit device address. Binding a
// different address forgets everything read from the previous device.
func (s *Space) BindAddress(addr uint16) error {
	if !transport.ValidDeviceAddress(addr) {
		return errors.Errorf("invalid I2C address 0x%x", addr)
	}
	if s.bound && s.addr == addr {
		return nil
	}

	s.Unbind()
	s.addr = addr
	s.bound = true
	glog.V(1).Infof("%s: bound to 0x%02x", s.decl.Name, addr)
	return nil
}

func (s *Space) Unbind() {
	s.bound = false
	s.hasRead = false
	for i := range s.memValid {
		s.memValid[i] = false
	}
}

// Address returns the bound device address.
func (s *Space) Address() (uint16, bool) {
	return s.addr, s.bound
}

// SetBroadcast makes writes to indexed block instances address every
// instance at once.
func (s *Space) SetBroadcast(enable bool) {
	s.broadcast = enable
}

func (s *Space) Broadcast() bool {
	return s.broadcast
}

func (s *Space) entry(ref string) (*entry, error) {
	e, ok := s.entries[ref]
	if !ok {
		return nil, errors.NotFoundf("block %s in space %s", ref, s.decl.Name)
	}
	return e, nil
}

// Lookup returns the address of register reg of block ref.
func (s *Space) Lookup(ref, reg string) (uint32, error) {
	e, err := s.entry(ref)
	if err != nil {
		return 0, err
	}
	a, ok := e.regs[reg]
	if !ok {
		if !e.instance && e.block.Indexed() {
			return 0, errors.NotFoundf("register %s of %s (select an instance)", reg, ref)
		}
		return 0, errors.NotFoundf("register %s/%s in space %s", ref, reg, s.decl.Name)
	}
	return a, nil
}

// Blocks lists every block reference: fixed blocks, whole indexed blocks
// and their instances.
func (s *Space) Blocks() []string {
	return append([]string{}, s.order...)
}

// Registers lists the register names of block ref in declaration order.
func (s *Space) Registers(ref string) ([]string, error) {
	e, err := s.entry(ref)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, r := range e.block.Registers {
		names = append(names, r.Name)
	}
	return names, nil
}

// Addresses lists the declared addresses of block ref.
func (s *Space) Addresses(ref string) ([]uint32, error) {
	e, err := s.entry(ref)
	if err != nil {
		return nil, err
	}
	return append([]uint32{}, e.addrs...), nil
}

// RegisterName is the first block/register reference declared at a.
func (s *Space) RegisterName(a uint32) string {
	return s.names[a]
}

func (s *Space) IsReadOnly(a uint32) bool {
	return int(a) < len(s.readOnly) && s.readOnly[a]
}

func (s *Space) IsDeclared(a uint32) bool {
	return int(a) < len(s.declared) && s.declared[a]
}

func (s *Space) checkAddr(a uint32) error {
	if int(a) >= len(s.display) {
		return errors.Errorf("address 0x%x outside space %s", a, s.decl.Name)
	}
	return nil
}

// runs splits ascending addresses into [start, start+n) runs of consecutive
// addresses.
func runs(addrs []uint32) [][2]uint32 {
	var result [][2]uint32
	for i := 0; i < len(addrs); {
		j := i + 1
		for j < len(addrs) && addrs[j] == addrs[j-1]+1 {
			j++
		}
		result = append(result, [2]uint32{addrs[i], uint32(j - i)})
		i = j
	}
	return result
}

func (s *Space) checkBound() error {
	if !s.bound {
		return &regerr.UnboundError{Space: s.decl.Name}
	}
	return nil
}

// readAddrs reads ascending addresses run by run. Runs that succeed are
// committed even when others fail.
func (s *Space) readAddrs(addrs []uint32) error {
	if err := s.checkBound(); err != nil {
		return err
	}

	var result error
	for _, r := range runs(addrs) {
		values, err := s.bus.Read(s.addr, s.decl.Wire, r[0], int(r[1]))
		if err != nil {
			result = regerr.Append(result, errors.Trace(err))
			continue
		}
		for i, v := range values {
			a := r[0] + uint32(i)
			s.memory[a] = v
			s.memValid[a] = true
			s.setDisplayAt(a, Valid(v))
		}
		s.hasRead = true
	}
	return result
}

func (s *Space) report(err error) error {
	s.sink.Report(err)
	return err
}

func (s *Space) ReadRegister(ref, reg string) error {
	a, err := s.Lookup(ref, reg)
	if err != nil {
		return err
	}
	glog.V(1).Infof("%s: read %s/%s", s.decl.Name, ref, reg)
	return s.report(s.readAddrs([]uint32{a}))
}

func (s *Space) ReadBlock(ref string) error {
	e, err := s.entry(ref)
	if err != nil {
		return err
	}
	glog.V(1).Infof("%s: read block %s (%d registers)", s.decl.Name, ref, len(e.addrs))
	return s.report(s.readAddrs(e.addrs))
}

// ReadAll reads every declared register of the space.
func (s *Space) ReadAll() error {
	var addrs []uint32
	for a, d := range s.declared {
		if d {
			addrs = append(addrs, uint32(a))
		}
	}
	glog.V(1).Infof("%s: read all (%d registers)", s.decl.Name, len(addrs))
	return s.report(s.readAddrs(addrs))
}

// wireAddr is the address a write of run start goes to.
func (s *Space) wireAddr(e *entry, start uint32) uint32 {
	a := start - e.base + e.writeBase
	if s.broadcast && e.instance {
		a |= e.block.BroadcastBit
	}
	return a
}

// writeAddrs writes the display values of addrs, skipping read-only
// addresses. Runs that succeed are committed even when others fail.
func (s *Space) writeAddrs(e *entry, addrs []uint32, verify bool) error {
	if err := s.checkBound(); err != nil {
		return err
	}

	var writable []uint32
	for _, a := range addrs {
		if s.readOnly[a] {
			continue
		}
		if !s.display[a].IsValid() {
			return &regerr.InvalidValueError{Register: s.names[a]}
		}
		writable = append(writable, a)
	}

	var result error
	for _, r := range runs(writable) {
		if err := s.writeRun(e, r[0], int(r[1]), verify); err != nil {
			result = regerr.Append(result, err)
		}
	}
	return result
}

func (s *Space) writeRun(e *entry, start uint32, n int, verify bool) error {
	values := make([]uint64, n)
	for i := range values {
		values[i] = s.display[start+uint32(i)].Uint64()
	}

	wire := s.wireAddr(e, start)
	if wire != start && e.writeBase != e.base {
		// Stage the values in the write range of the shadow as well.
		for i, v := range values {
			if w := int(wire) + i; w < len(s.display) {
				s.setDisplayAt(uint32(w), Valid(v))
			}
		}
	}

	if !verify {
		if err := s.bus.Write(s.addr, s.decl.Wire, wire, values); err != nil {
			return errors.Trace(err)
		}
		s.commit(start, values)
		return nil
	}

	readback, err := s.bus.WriteVerify(s.addr, s.decl.Wire, wire, values, start)
	if readback == nil {
		return errors.Trace(err)
	}
	s.commit(start, readback)
	s.hasRead = true
	return errors.Trace(err)
}

func (s *Space) commit(start uint32, values []uint64) {
	for i, v := range values {
		a := start + uint32(i)
		s.memory[a] = v
		s.memValid[a] = true
	}
}

func (s *Space) WriteRegister(ref, reg string, verify bool) error {
	e, err := s.entry(ref)
	if err != nil {
		return err
	}
	a, err := s.Lookup(ref, reg)
	if err != nil {
		return err
	}
	if s.readOnly[a] {
		return s.report(&regerr.ReadOnlyError{Register: ref + "/" + reg})
	}
	glog.V(1).Infof("%s: write %s/%s = %v", s.decl.Name, ref, reg, s.display[a])
	return s.report(s.writeAddrs(e, []uint32{a}, verify))
}

func (s *Space) WriteBlock(ref string, verify bool) error {
	e, err := s.entry(ref)
	if err != nil {
		return err
	}
	glog.V(1).Infof("%s: write block %s (verify=%v)", s.decl.Name, ref, verify)
	return s.report(s.writeAddrs(e, e.addrs, verify))
}

// WriteAll writes every block in ascending base order. Addresses shared by
// several blocks are written once.
func (s *Space) WriteAll(verify bool) error {
	var list []*entry
	for _, ref := range s.order {
		e := s.entries[ref]
		if e.block.Indexed() && !e.instance {
			continue
		}
		list = append(list, e)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].base < list[j].base })

	if err := s.checkBound(); err != nil {
		return s.report(err)
	}
	for _, e := range list {
		for _, a := range e.addrs {
			if !s.readOnly[a] && !s.display[a].IsValid() {
				return s.report(&regerr.InvalidValueError{Register: s.names[a]})
			}
		}
	}

	glog.V(1).Infof("%s: write all (verify=%v)", s.decl.Name, verify)
	written := map[uint32]bool{}
	var result error
	for _, e := range list {
		var addrs []uint32
		for _, a := range e.addrs {
			if !written[a] {
				written[a] = true
				addrs = append(addrs, a)
			}
		}
		result = regerr.Append(result, s.writeAddrs(e, addrs, verify))
	}
	return s.report(result)
}

// Reset sets every display value back to its register default.
func (s *Space) Reset() {
	for a, d := range s.declared {
		if d {
			s.setDisplayAt(uint32(a), Valid(s.defaults[a]))
		}
	}
}

// Revert sets every display value that has a known device value back to it.
func (s *Space) Revert() {
	for a, ok := range s.memValid {
		if ok {
			s.setDisplayAt(uint32(a), Valid(s.memory[a]))
		}
	}
}

func (s *Space) modified(addrs []uint32) State {
	if !s.bound || !s.hasRead {
		return Unknown
	}
	for _, a := range addrs {
		if !s.memValid[a] {
			continue
		}
		d := s.display[a]
		if !d.IsValid() || d.Uint64() != s.memory[a] {
			return Modified
		}
	}
	return Clean
}

// IsModified reports whether any display value differs from what was last
// seen on the device. It is Unknown before the first read.
func (s *Space) IsModified() State {
	var addrs []uint32
	for a, d := range s.declared {
		if d {
			addrs = append(addrs, uint32(a))
		}
	}
	return s.modified(addrs)
}

func (s *Space) IsBlockModified(ref string) (State, error) {
	e, err := s.entry(ref)
	if err != nil {
		return Unknown, err
	}
	return s.modified(e.addrs), nil
}

func (s *Space) Display(ref, reg string) (Value, error) {
	a, err := s.Lookup(ref, reg)
	if err != nil {
		return Value{}, err
	}
	return s.display[a], nil
}

// DisplayString is the display value formatted for the register width.
func (s *Space) DisplayString(ref, reg string) (string, error) {
	v, err := s.Display(ref, reg)
	if err != nil {
		return "", err
	}
	return v.Format(s.decl.Wire), nil
}

func (s *Space) SetDisplay(ref, reg string, v Value) error {
	a, err := s.Lookup(ref, reg)
	if err != nil {
		return err
	}
	return s.SetDisplayAt(a, v)
}

func (s *Space) SetDisplayString(ref, reg string, text string) error {
	v, err := ParseValue(text)
	if err != nil {
		return &regerr.InvalidValueError{Register: ref + "/" + reg}
	}
	return s.SetDisplay(ref, reg, v)
}

func (s *Space) DisplayAt(a uint32) (Value, error) {
	if err := s.checkAddr(a); err != nil {
		return Value{}, err
	}
	return s.display[a], nil
}

// SetDisplayAt stages v at address a and re-decodes the fields over it.
func (s *Space) SetDisplayAt(a uint32, v Value) error {
	if err := s.checkAddr(a); err != nil {
		return err
	}
	if v.IsValid() && v.Uint64()&^s.decl.Wire.Mask() != 0 {
		name := s.names[a]
		if name == "" {
			name = s.decl.Wire.Format(uint64(a))
		}
		return &regerr.InvalidValueError{Register: name}
	}
	s.setDisplayAt(a, v)
	return nil
}

// MemoryAt returns the last value seen on the device at a.
func (s *Space) MemoryAt(a uint32) (uint64, bool) {
	if int(a) >= len(s.memory) || !s.memValid[a] {
		return 0, false
	}
	return s.memory[a], true
}

// Snapshot returns the display values of the whole space, invalid values
// as zero.
func (s *Space) Snapshot() []uint64 {
	result := make([]uint64, len(s.display))
	for i, v := range s.display {
		result[i] = v.Uint64()
	}
	return result
}

// CheckSnapshot validates values for LoadDisplay without applying them.
func (s *Space) CheckSnapshot(values []uint64) error {
	if len(values) != len(s.display) {
		return errors.Errorf("space %s holds %d registers, got %d", s.decl.Name, len(s.display), len(values))
	}
	for i, v := range values {
		if v&^s.decl.Wire.Mask() != 0 {
			return errors.Errorf("space %s: value 0x%x at 0x%x exceeds %d bits", s.decl.Name, v, i, s.decl.Wire.RegisterBits)
		}
	}
	return nil
}

// LoadDisplay replaces every display value. Nothing changes if values do
// not fit the space.
func (s *Space) LoadDisplay(values []uint64) error {
	if err := s.CheckSnapshot(values); err != nil {
		return err
	}
	for i, v := range values {
		s.setDisplayAt(uint32(i), Valid(v))
	}
	return nil
}

// SplitRef splits "block/register" at the last slash.
func SplitRef(ref string) (string, string) {
	i := strings.LastIndex(ref, "/")
	if i < 0 {
		return ref, ""
	}
	return ref[:i], ref[i+1:]
}
