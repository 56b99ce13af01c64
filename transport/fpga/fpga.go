// Package fpga drives the I²C master of the readout FPGA over its TCP control
// port. The FPGA executes one single-byte I²C transaction per pulse of its
// IIC start bit.
package fpga

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Control word opcodes. Every command is one big-endian 32-bit word with the
// opcode in the top byte, the register in the next one and a 16-bit value.
const (
	opWriteConfig = 0x80
	opReadConfig  = 0x81
	opReadStatus  = 0xC0
	opWritePulse  = 0x0B
)

// Config registers staging the I²C command.
const (
	regIICAddr    = 1 // [7] read, [6:0] device address
	regIICMode    = 2 // number of memory address bytes
	regIICMemAddr = 3
	regIICData    = 4
)

const (
	statIIC = 0 // [7:0] data, [8] ack, [9] busy

	statAck  = 1 << 8
	statBusy = 1 << 9

	pulseIICStart = 1 << 0
)

const defaultTimeout = time.Second

// Bridge implements transport.Transport on the FPGA control port.
type Bridge struct {
	conn    io.ReadWriter
	opts    transport.Options
	Timeout time.Duration
}

func New(conn io.ReadWriter, opts transport.Options) *Bridge {
	return &Bridge{conn: conn, opts: opts, Timeout: defaultTimeout}
}

// Open connects to the control port at hostport.
func Open(hostport string, opts transport.Options) (*Bridge, error) {
	conn, err := net.DialTimeout("tcp", hostport, 3*time.Second)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to connect to %s", hostport)
	}
	glog.Infof("Connected to FPGA at %s", hostport)
	return New(conn, opts), nil
}

func (b *Bridge) send(op byte, reg byte, value uint16) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(op)<<24|uint32(reg)<<16|uint32(value))
	if _, err := b.conn.Write(buf[:]); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (b *Bridge) query(op byte, reg byte) (uint32, error) {
	if err := b.send(op, reg, 0); err != nil {
		return 0, err
	}
	var buf [4]byte
	if _, err := io.ReadFull(b.conn, buf[:]); err != nil {
		return 0, errors.Trace(err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (b *Bridge) writeConfig(reg byte, value uint16) error {
	return b.send(opWriteConfig, reg, value)
}

func (b *Bridge) ReadConfig(reg byte) (uint16, error) {
	v, err := b.query(opReadConfig, reg)
	return uint16(v), err
}

func (b *Bridge) readStatus(reg byte) (uint32, error) {
	return b.query(opReadStatus, reg)
}

// transact stages and runs one byte transfer and returns the status word.
func (b *Bridge) transact(dev uint16, read bool, memAddr []byte, data byte) (uint32, error) {
	addr := uint16(dev & 0x7F)
	if read {
		addr |= 0x80
	}

	var mem uint16
	for _, v := range memAddr {
		mem = mem<<8 | uint16(v)
	}

	steps := []struct {
		reg   byte
		value uint16
	}{
		{regIICAddr, addr},
		{regIICMode, uint16(len(memAddr))},
		{regIICMemAddr, mem},
		{regIICData, uint16(data)},
	}
	for _, s := range steps {
		if err := b.writeConfig(s.reg, s.value); err != nil {
			return 0, err
		}
	}
	if err := b.send(opWritePulse, 0, pulseIICStart); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(b.Timeout)
	for {
		stat, err := b.readStatus(statIIC)
		if err != nil {
			return 0, err
		}
		if stat&statBusy == 0 {
			glog.V(2).Infof("fpga: dev=0x%02x read=%v mem=%x data=0x%02x -> 0x%04x", dev, read, memAddr, data, stat)
			return stat, nil
		}
		if time.Now().After(deadline) {
			return 0, errors.Errorf("I2C transaction on 0x%02x timed out", dev)
		}
	}
}

func (b *Bridge) CheckDevice(addr uint16) (bool, error) {
	stat, err := b.transact(addr, true, nil, 0)
	if err != nil {
		return false, err
	}
	return stat&statAck != 0, nil
}

func (b *Bridge) byteAddress(req transport.Request, i int) ([]byte, error) {
	if transport.RegisterBytes(req.RegBits) != 1 {
		return nil, errors.NotSupportedf("%d-bit registers", req.RegBits)
	}
	return transport.AddressBytes(req.MemAddr+uint32(i), req.AddrBits, b.opts.SwapAddress)
}

func (b *Bridge) Read(req transport.Request, n int) ([]byte, error) {
	if req.Style != transport.Normal {
		return nil, errors.NotSupportedf("read style %v", req.Style)
	}

	data := make([]byte, n)
	for i := range data {
		mem, err := b.byteAddress(req, i)
		if err != nil {
			return nil, err
		}
		stat, err := b.transact(req.Addr, true, mem, 0)
		if err != nil {
			return nil, err
		}
		if stat&statAck == 0 {
			return nil, errors.Errorf("NACK reading %v", req)
		}
		data[i] = byte(stat)
	}
	return data, nil
}

func (b *Bridge) Write(req transport.Request, data []byte) error {
	if req.Style != transport.Normal {
		return errors.NotSupportedf("write style %v", req.Style)
	}

	for i, v := range data {
		mem, err := b.byteAddress(req, i)
		if err != nil {
			return err
		}
		stat, err := b.transact(req.Addr, false, mem, v)
		if err != nil {
			return err
		}
		if stat&statAck == 0 {
			return errors.Errorf("NACK writing %v", req)
		}
	}
	return nil
}

func (b *Bridge) Direct(cmds []i2cmsg.Command) ([]byte, error) {
	return nil, errors.NotSupportedf("direct bus scripts on the FPGA bridge")
}

func (b *Bridge) Close() error {
	if c, ok := b.conn.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ transport.Transport = (*Bridge)(nil)
