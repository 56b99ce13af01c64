// Package periphbus exposes a host I²C controller (for example /dev/i2c-1)
// through periph.io.
package periphbus

import (
	"strings"
	"time"

	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/golang/glog"
	"github.com/juju/errors"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

type Bus struct {
	bus   i2c.Bus
	power gpio.PinOut
	opts  transport.Options

	maxTxSize int
}

func New(bus i2c.Bus, opts transport.Options) *Bus {
	b := &Bus{bus: bus, opts: opts}
	if l, ok := bus.(conn.Limits); ok {
		b.maxTxSize = l.MaxTxSize()
	}
	return b
}

// Open initialises the host drivers and opens busID. When powerPin is set the
// GPIO is driven high to power the device before the bus is used.
func Open(busID string, powerPin string, freq physic.Frequency, opts transport.Options) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotatef(err, "could not init host")
	}

	bus, err := i2creg.Open(busID)
	if err != nil {
		return nil, errors.Annotatef(err, "could not open bus %q", busID)
	}

	if freq != 0 {
		if err := bus.SetSpeed(freq); err != nil {
			glog.Warningf("%s: cannot set clock to %v: %v", busID, freq, err)
		}
	}

	b := New(bus, opts)

	if powerPin != "" {
		pin := gpioreg.ByName(powerPin)
		if pin == nil {
			bus.Close()
			return nil, errors.NotFoundf("power gpio %q", powerPin)
		}
		if err := b.SetPower(pin, true); err != nil {
			bus.Close()
			return nil, errors.Trace(err)
		}
	}

	glog.Infof("Opened %s", bus)
	return b, nil
}

// SetPower drives the power switch of the device.
func (b *Bus) SetPower(pin gpio.PinOut, enable bool) error {
	b.power = pin

	level := gpio.Low
	if enable {
		level = gpio.High
	}
	if err := pin.Out(level); err != nil {
		return errors.Annotatef(err, "power gpio %s", pin)
	}
	if enable {
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func (b *Bus) MaxTxSize() int {
	return b.maxTxSize
}

// absent reports whether err is the kernel's way of saying nobody answered.
func absent(err error) bool {
	s := err.Error()
	return strings.Contains(s, "input/output") || strings.Contains(s, "no such device") || strings.Contains(s, "NACK")
}

func (b *Bus) CheckDevice(addr uint16) (bool, error) {
	var probe [1]byte
	if err := b.bus.Tx(addr, nil, probe[:]); err != nil {
		if absent(err) {
			return false, nil
		}
		return false, errors.Trace(err)
	}
	return true, nil
}

func (b *Bus) Read(req transport.Request, n int) ([]byte, error) {
	addr, err := transport.AddressBytes(req.MemAddr, req.AddrBits, b.opts.SwapAddress)
	if err != nil {
		return nil, err
	}

	data := make([]byte, n)
	if req.Style == transport.RepeatedStart {
		if err := b.bus.Tx(req.Addr, addr, data); err != nil {
			return nil, errors.Annotatef(err, "read %v", req)
		}
		return data, nil
	}

	if err := b.bus.Tx(req.Addr, addr, nil); err != nil {
		return nil, errors.Annotatef(err, "address %v", req)
	}
	if err := b.bus.Tx(req.Addr, nil, data); err != nil {
		return nil, errors.Annotatef(err, "read %v", req)
	}
	return data, nil
}

func (b *Bus) Write(req transport.Request, data []byte) error {
	if req.Style != transport.Normal {
		return errors.NotSupportedf("write style %v", req.Style)
	}

	addr, err := transport.AddressBytes(req.MemAddr, req.AddrBits, b.opts.SwapAddress)
	if err != nil {
		return err
	}
	if err := b.bus.Tx(req.Addr, append(addr, data...), nil); err != nil {
		return errors.Annotatef(err, "write %v", req)
	}
	return nil
}

// Direct replays a bus script as plain transfers. A write immediately
// followed by a repeated-start read of the same device becomes one combined
// transaction; other shapes cannot be expressed on a host controller.
func (b *Bus) Direct(cmds []i2cmsg.Command) ([]byte, error) {
	segs, err := i2cmsg.Segments(cmds)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rx []byte
	for i := 0; i < len(segs); i++ {
		s := segs[i]
		switch {
		case !s.Read && i+1 < len(segs) && segs[i+1].Read && segs[i+1].Restart && segs[i+1].Addr == s.Addr:
			r := make([]byte, segs[i+1].N)
			if err := b.bus.Tx(s.Addr, s.Data, r); err != nil {
				return nil, errors.Trace(err)
			}
			rx = append(rx, r...)
			i++
		case s.Read:
			r := make([]byte, s.N)
			if err := b.bus.Tx(s.Addr, nil, r); err != nil {
				return nil, errors.Trace(err)
			}
			rx = append(rx, r...)
		case s.Stop:
			if err := b.bus.Tx(s.Addr, s.Data, nil); err != nil {
				return nil, errors.Trace(err)
			}
		default:
			return nil, errors.NotSupportedf("write without stop to 0x%02x", s.Addr)
		}
	}
	return rx, nil
}

func (b *Bus) Close() error {
	if b.power != nil {
		b.SetPower(b.power, false)
	}
	if c, ok := b.bus.(i2c.BusCloser); ok {
		return c.Close()
	}
	return nil
}

var _ transport.Transport = (*Bus)(nil)
