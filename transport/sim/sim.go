// Package sim is an in-memory I²C bus populated with register devices. It is
// used as the no-connect transport of the hosts and as the bus of the tests.
package sim

import (
	"fmt"

	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Device is a register file behind one I²C address. Registers are RegBytes
// wide and stored back to back; the device auto-increments its pointer by one
// register per RegBytes transferred.
type Device struct {
	AddrBits int // width of the memory address, 8 or 16
	RegBytes int
	Mem      []byte

	// LittleEndianAddress makes the device interpret 16-bit memory
	// addresses least significant byte first.
	LittleEndianAddress bool

	// ReadOnly registers ignore writes.
	ReadOnly map[uint32]bool

	// Stuck registers ignore writes and always read back the given bytes.
	Stuck map[uint32][]byte

	// WriteAddr and ReadAddr translate a memory address into the register
	// that is actually stored or fetched, for devices whose write and read
	// pointers differ.
	WriteAddr func(memAddr uint32) uint32
	ReadAddr  func(memAddr uint32) uint32
}

// NewDevice creates a device with size registers.
func NewDevice(size int, addrBits int, regBytes int) *Device {
	if regBytes <= 0 {
		regBytes = 1
	}
	return &Device{
		AddrBits: addrBits,
		RegBytes: regBytes,
		Mem:      make([]byte, size*regBytes),
		ReadOnly: make(map[uint32]bool),
		Stuck:    make(map[uint32][]byte),
	}
}

// Register returns a copy of the bytes of one register.
func (d *Device) Register(addr uint32) []byte {
	off := int(addr) * d.RegBytes
	if off+d.RegBytes > len(d.Mem) {
		return nil
	}
	return append([]byte{}, d.Mem[off:off+d.RegBytes]...)
}

// SetRegister stores bytes directly, bypassing read-only protection.
func (d *Device) SetRegister(addr uint32, data []byte) {
	off := int(addr) * d.RegBytes
	copy(d.Mem[off:off+d.RegBytes], data)
}

func (d *Device) decodeAddress(b []byte) uint32 {
	if len(b) == 1 {
		return uint32(b[0])
	}
	if d.LittleEndianAddress {
		return uint32(b[0]) | uint32(b[1])<<8
	}
	return uint32(b[0])<<8 | uint32(b[1])
}

func (d *Device) readByte(ptr uint32, i int) (byte, error) {
	reg := ptr + uint32(i/d.RegBytes)
	if d.ReadAddr != nil {
		reg = d.ReadAddr(reg)
	}
	if s, ok := d.Stuck[reg]; ok {
		return s[i%d.RegBytes], nil
	}
	off := int(reg)*d.RegBytes + i%d.RegBytes
	if off >= len(d.Mem) {
		return 0, errors.Errorf("read beyond device memory at register 0x%x", reg)
	}
	return d.Mem[off], nil
}

func (d *Device) writeByte(ptr uint32, i int, b byte) error {
	reg := ptr + uint32(i/d.RegBytes)
	if d.WriteAddr != nil {
		reg = d.WriteAddr(reg)
	}
	if d.ReadOnly[reg] {
		return nil
	}
	if _, ok := d.Stuck[reg]; ok {
		return nil
	}
	off := int(reg)*d.RegBytes + i%d.RegBytes
	if off >= len(d.Mem) {
		return errors.Errorf("write beyond device memory at register 0x%x", reg)
	}
	d.Mem[off] = b
	return nil
}

type TxKind int

const (
	TxCheck TxKind = iota
	TxRead
	TxWrite
	TxDirect
)

func (k TxKind) String() string {
	return [...]string{"check", "read", "write", "direct"}[k]
}

// Transaction is one entry of the bus log.
type Transaction struct {
	Kind      TxKind
	Addr      uint16
	MemAddr   uint32
	AddrBytes []byte // memory address as it appeared on the wire
	Style     transport.Style
	Data      []byte // bytes written, or bytes returned by a read
	Stream    []byte // encoded opcode stream of a direct transaction
}

func (t Transaction) String() string {
	return fmt.Sprintf("%v dev=0x%02x mem=%x data=%x", t.Kind, t.Addr, t.AddrBytes, t.Data)
}

// Bus implements transport.Transport on top of simulated devices.
type Bus struct {
	Devices map[uint16]*Device
	Log     []Transaction

	// FailNext makes the next transaction fail with the given error.
	FailNext error
	MaxTx    int

	opts   transport.Options
	closed bool
}

func New(opts transport.Options) *Bus {
	return &Bus{
		Devices: make(map[uint16]*Device),
		opts:    opts,
	}
}

// Attach places dev at addr and returns it.
func (b *Bus) Attach(addr uint16, dev *Device) *Device {
	b.Devices[addr] = dev
	return dev
}

func (b *Bus) MaxTxSize() int {
	return b.MaxTx
}

// Writes returns the logged write transactions.
func (b *Bus) Writes() []Transaction {
	return b.filter(TxWrite)
}

func (b *Bus) Reads() []Transaction {
	return b.filter(TxRead)
}

func (b *Bus) filter(kind TxKind) []Transaction {
	var result []Transaction
	for _, t := range b.Log {
		if t.Kind == kind {
			result = append(result, t)
		}
	}
	return result
}

func (b *Bus) ClearLog() {
	b.Log = nil
}

func (b *Bus) begin() error {
	if b.closed {
		return errors.New("bus is closed")
	}
	if err := b.FailNext; err != nil {
		b.FailNext = nil
		return err
	}
	return nil
}

func (b *Bus) device(addr uint16) (*Device, error) {
	dev, ok := b.Devices[addr]
	if !ok {
		return nil, errors.Errorf("NACK from address 0x%02x", addr)
	}
	return dev, nil
}

func (b *Bus) CheckDevice(addr uint16) (bool, error) {
	if err := b.begin(); err != nil {
		return false, err
	}
	b.Log = append(b.Log, Transaction{Kind: TxCheck, Addr: addr})
	_, ok := b.Devices[addr]
	return ok, nil
}

func (b *Bus) Read(req transport.Request, n int) ([]byte, error) {
	if err := b.begin(); err != nil {
		return nil, err
	}
	dev, err := b.device(req.Addr)
	if err != nil {
		return nil, err
	}
	addrBytes, err := transport.AddressBytes(req.MemAddr, req.AddrBits, b.opts.SwapAddress)
	if err != nil {
		return nil, err
	}

	ptr := dev.decodeAddress(addrBytes)
	data := make([]byte, n)
	for i := range data {
		if data[i], err = dev.readByte(ptr, i); err != nil {
			return nil, err
		}
	}

	glog.V(3).Infof("sim: read %v -> %x", req, data)
	b.Log = append(b.Log, Transaction{
		Kind: TxRead, Addr: req.Addr, MemAddr: req.MemAddr, AddrBytes: addrBytes,
		Style: req.Style, Data: append([]byte{}, data...),
	})
	return data, nil
}

func (b *Bus) Write(req transport.Request, data []byte) error {
	if err := b.begin(); err != nil {
		return err
	}
	if req.Style != transport.Normal {
		return errors.NotSupportedf("write style %v", req.Style)
	}
	dev, err := b.device(req.Addr)
	if err != nil {
		return err
	}
	addrBytes, err := transport.AddressBytes(req.MemAddr, req.AddrBits, b.opts.SwapAddress)
	if err != nil {
		return err
	}

	b.Log = append(b.Log, Transaction{
		Kind: TxWrite, Addr: req.Addr, MemAddr: req.MemAddr, AddrBytes: addrBytes,
		Style: req.Style, Data: append([]byte{}, data...),
	})

	ptr := dev.decodeAddress(addrBytes)
	for i, v := range data {
		if err := dev.writeByte(ptr, i, v); err != nil {
			return err
		}
	}
	glog.V(3).Infof("sim: write %v <- %x", req, data)
	return nil
}

// Direct executes an opcode stream against the simulated devices.
func (b *Bus) Direct(cmds []i2cmsg.Command) ([]byte, error) {
	if err := b.begin(); err != nil {
		return nil, err
	}
	stream, err := i2cmsg.Encode(cmds)
	if err != nil {
		return nil, err
	}
	b.Log = append(b.Log, Transaction{Kind: TxDirect, Stream: stream})

	var (
		rx        []byte
		dev       *Device
		addressed bool // the next written byte is a device address
		reading   bool
		ptrBytes  []byte
		ptr       uint32
		offset    int
	)

	for _, c := range cmds {
		switch {
		case c.Op == i2cmsg.Start || c.Op == i2cmsg.Restart:
			addressed = true
			offset = 0
		case c.Op == i2cmsg.Stop:
			dev = nil
			ptrBytes = nil
		case c.Op == i2cmsg.Nack:
		case c.Op.IsWrite():
			for _, v := range c.Data {
				if addressed {
					addressed = false
					d, err := b.device(uint16(v >> 1))
					if err != nil {
						return nil, err
					}
					dev = d
					reading = v&1 != 0
					if !reading {
						ptrBytes = nil
					}
					continue
				}
				if dev == nil || reading {
					return nil, errors.New("write without addressed device")
				}
				if len(ptrBytes) < dev.AddrBits/8 {
					ptrBytes = append(ptrBytes, v)
					if len(ptrBytes) == dev.AddrBits/8 {
						ptr = dev.decodeAddress(ptrBytes)
						offset = 0
					}
					continue
				}
				if err := dev.writeByte(ptr, offset, v); err != nil {
					return nil, err
				}
				offset++
			}
		case c.Op.IsRead():
			if dev == nil || !reading {
				return nil, errors.New("read without device addressed for reading")
			}
			for i := 0; i < c.Op.Len(); i++ {
				v, err := dev.readByte(ptr, offset)
				if err != nil {
					return nil, err
				}
				rx = append(rx, v)
				offset++
			}
		}
	}

	return rx, nil
}

func (b *Bus) Close() error {
	b.closed = true
	return nil
}

var _ transport.Transport = (*Bus)(nil)
