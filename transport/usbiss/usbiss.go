// Package usbiss drives I²C devices through a Devantech USB-ISS serial bridge.
package usbiss

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/tarm/serial"
	"github.com/theckman/go-flock"
	"periph.io/x/conn/v3/physic"
)

const (
	cmdI2CAD1    = 0x55
	cmdI2CAD2    = 0x56
	cmdI2CDirect = 0x57
	cmdI2CTest   = 0x58
	cmdISS       = 0x5A

	issVersion = 0x01
	issMode    = 0x02

	ackByte = 0xFF

	// maxTransfer is the largest payload of one AD1/AD2 transfer.
	maxTransfer = 60
)

type mode struct {
	freq physic.Frequency
	code byte
}

// Hardware modes are used from 100 kHz up, the bit-banged ones below. The
// bridge also offers bit-banged 100 and 400 kHz; they are never chosen.
var (
	hardwareModes = []mode{
		{100 * physic.KiloHertz, 0x60},
		{400 * physic.KiloHertz, 0x70},
		{1 * physic.MegaHertz, 0x80},
	}
	softwareModes = []mode{
		{20 * physic.KiloHertz, 0x20},
		{50 * physic.KiloHertz, 0x30},
	}
)

// modeFor returns the fastest mode not exceeding freq.
func modeFor(freq physic.Frequency) (mode, error) {
	table := softwareModes
	if freq >= 100*physic.KiloHertz {
		table = hardwareModes
	}

	var best *mode
	for i := range table {
		if table[i].freq <= freq {
			best = &table[i]
		}
	}
	if best == nil {
		return mode{}, errors.NotSupportedf("I2C clock %v", freq)
	}
	return *best, nil
}

// Bridge implements transport.Transport. It talks to the bridge through any
// io.ReadWriter; Open uses a serial port.
type Bridge struct {
	port    io.ReadWriter
	closer  io.Closer
	lock    *flock.Flock
	opts    transport.Options
	Version byte
}

// New wraps an already opened bridge and selects the bus clock.
func New(port io.ReadWriter, freq physic.Frequency, opts transport.Options) (*Bridge, error) {
	b := &Bridge{port: port, opts: opts}
	if c, ok := port.(io.Closer); ok {
		b.closer = c
	}

	if err := b.identify(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := b.SetSpeed(freq); err != nil {
		return nil, errors.Trace(err)
	}
	return b, nil
}

func lockPath(port string) string {
	return filepath.Join(os.TempDir(), "usbiss-"+filepath.Base(port)+".lock")
}

// Open opens the serial port name, taking an exclusive lock so that two
// processes never share the bridge.
func Open(name string, freq physic.Frequency, opts transport.Options) (*Bridge, error) {
	fl := flock.NewFlock(lockPath(name))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.Annotatef(err, "failed to lock %s", name)
	}
	if !locked {
		return nil, errors.Errorf("%s is in use by another process", name)
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        115200,
		ReadTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		fl.Unlock()
		return nil, errors.Annotatef(err, "failed to open serial port %s", name)
	}

	b, err := New(port, freq, opts)
	if err != nil {
		port.Close()
		fl.Unlock()
		return nil, errors.Trace(err)
	}
	b.lock = fl

	glog.Infof("USB-ISS on %s: firmware 0x%02x, clock %v", name, b.Version, freq)
	return b, nil
}

func (b *Bridge) exchange(cmd []byte, n int) ([]byte, error) {
	glog.V(2).Infof("usbiss: > %x", cmd)
	if _, err := b.port.Write(cmd); err != nil {
		return nil, errors.Trace(err)
	}

	rsp := make([]byte, n)
	if _, err := io.ReadFull(b.port, rsp); err != nil {
		return nil, errors.Annotatef(err, "reading %d response bytes", n)
	}
	glog.V(2).Infof("usbiss: < %x", rsp)
	return rsp, nil
}

func (b *Bridge) identify() error {
	rsp, err := b.exchange([]byte{cmdISS, issVersion}, 3)
	if err != nil {
		return errors.Trace(err)
	}
	if rsp[0] != 0x07 {
		return errors.Errorf("unexpected module id 0x%02x", rsp[0])
	}
	b.Version = rsp[1]
	return nil
}

// SetSpeed switches the bridge to I²C mode at the fastest supported clock not
// above freq.
func (b *Bridge) SetSpeed(freq physic.Frequency) error {
	m, err := modeFor(freq)
	if err != nil {
		return err
	}

	rsp, err := b.exchange([]byte{cmdISS, issMode, m.code, 0x00}, 2)
	if err != nil {
		return errors.Trace(err)
	}
	if rsp[0] != ackByte {
		return errors.Errorf("bridge rejected mode 0x%02x: error 0x%02x", m.code, rsp[1])
	}
	return nil
}

func (b *Bridge) MaxTxSize() int {
	return maxTransfer
}

func (b *Bridge) CheckDevice(addr uint16) (bool, error) {
	rsp, err := b.exchange([]byte{cmdI2CTest, byte(addr << 1)}, 1)
	if err != nil {
		return false, errors.Trace(err)
	}
	return rsp[0] != 0, nil
}

func (b *Bridge) header(req transport.Request, read bool, n int) ([]byte, error) {
	if n > maxTransfer {
		return nil, errors.Errorf("transfer of %d bytes exceeds %d", n, maxTransfer)
	}

	addr, err := transport.AddressBytes(req.MemAddr, req.AddrBits, b.opts.SwapAddress)
	if err != nil {
		return nil, err
	}

	dev := byte(req.Addr << 1)
	if read {
		dev |= 1
	}

	cmd := byte(cmdI2CAD1)
	if len(addr) == 2 {
		cmd = cmdI2CAD2
	}
	return append(append([]byte{cmd, dev}, addr...), byte(n)), nil
}

func (b *Bridge) Read(req transport.Request, n int) ([]byte, error) {
	if req.Style == transport.RepeatedStart {
		addr, err := transport.AddressBytes(req.MemAddr, req.AddrBits, b.opts.SwapAddress)
		if err != nil {
			return nil, err
		}
		return b.Direct(i2cmsg.RepeatedStartRead(req.Addr, addr, n))
	}

	cmd, err := b.header(req, true, n)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return b.exchange(cmd, n)
}

func (b *Bridge) Write(req transport.Request, data []byte) error {
	if req.Style != transport.Normal {
		return errors.NotSupportedf("write style %v", req.Style)
	}

	cmd, err := b.header(req, false, len(data))
	if err != nil {
		return errors.Trace(err)
	}

	rsp, err := b.exchange(append(cmd, data...), 1)
	if err != nil {
		return errors.Trace(err)
	}
	if rsp[0] == 0 {
		return errors.Errorf("write to %v not acknowledged", req)
	}
	return nil
}

// Direct sends the opcode stream verbatim. The bridge answers with an ACK
// byte, a count and the received bytes.
func (b *Bridge) Direct(cmds []i2cmsg.Command) ([]byte, error) {
	stream, err := i2cmsg.Encode(cmds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	n := i2cmsg.ReadCount(cmds)

	glog.V(2).Infof("usbiss: > %x", stream)
	if _, err := b.port.Write(append([]byte{cmdI2CDirect}, stream...)); err != nil {
		return nil, errors.Trace(err)
	}

	var status [2]byte
	if _, err := io.ReadFull(b.port, status[:]); err != nil {
		return nil, errors.Trace(err)
	}
	if status[0] != ackByte {
		return nil, errors.Errorf("direct transfer failed: %s", directError(status[1]))
	}
	if int(status[1]) != n {
		return nil, errors.Errorf("bridge returned %d bytes, script reads %d", status[1], n)
	}

	rx := make([]byte, n)
	if _, err := io.ReadFull(b.port, rx); err != nil {
		return nil, errors.Trace(err)
	}
	glog.V(2).Infof("usbiss: < %x", rx)
	return rx, nil
}

func directError(code byte) string {
	switch code {
	case 0x01:
		return "device error"
	case 0x02:
		return "buffer overflow"
	case 0x03:
		return "buffer underflow"
	case 0x04:
		return "unknown command"
	}
	return fmt.Sprintf("error 0x%02x", code)
}

func (b *Bridge) Close() error {
	var err error
	if b.closer != nil {
		err = b.closer.Close()
	}
	if b.lock != nil {
		b.lock.Unlock()
	}
	return err
}

var _ transport.Transport = (*Bridge)(nil)
