// Package mcp2221a drives I²C devices through a Microchip MCP2221A USB-HID
// bridge.
package mcp2221a

import (
	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/karalabe/hid"
)

// productIDs are the PIDs accepted when looking for a bridge: the factory
// default and the one our boards are programmed with.
var productIDs = []uint16{PID, 0xE87B}

// AttachedDevices lists the bridges currently plugged in.
func AttachedDevices() []hid.DeviceInfo {
	var result []hid.DeviceInfo
	for _, pid := range productIDs {
		result = append(result, hid.Enumerate(VID, pid)...)
	}
	return result
}

type Bridge struct {
	dev      *device
	opts     transport.Options
	powerPin int
}

func newBridge(h hidDevice, opts transport.Options) *Bridge {
	return &Bridge{dev: &device{hid: h}, opts: opts, powerPin: -1}
}

// Open opens the bridge with the given USB serial number, or the first one
// found when serial is empty. A powerPin of 0 to 3 is driven high as the
// device's power switch; pass -1 for none.
func Open(serial string, powerPin int, hz uint32, opts transport.Options) (*Bridge, error) {
	for _, info := range AttachedDevices() {
		if serial != "" && info.Serial != serial {
			continue
		}

		h, err := info.Open()
		if err != nil {
			return nil, errors.Annotatef(err, "failed to open %s", info.Path)
		}

		b := newBridge(h, opts)
		if hz != 0 {
			if err := b.dev.setSpeed(hz); err != nil {
				h.Close()
				return nil, errors.Trace(err)
			}
		}
		if powerPin >= 0 {
			if err := b.dev.setGPIO(powerPin, true); err != nil {
				h.Close()
				return nil, errors.Annotatef(err, "power switch")
			}
			b.powerPin = powerPin
		}

		glog.Infof("Opened MCP2221A %q", info.Serial)
		return b, nil
	}
	return nil, errors.NotFoundf("MCP2221A with serial %q", serial)
}

func (b *Bridge) MaxTxSize() int {
	return chunkSize
}

func (b *Bridge) CheckDevice(addr uint16) (bool, error) {
	if _, err := b.dev.read(false, addr, 1); err != nil {
		if isNack(err) {
			return false, nil
		}
		return false, errors.Trace(err)
	}
	return true, nil
}

func isNack(err error) bool {
	_, ok := errors.Cause(err).(*nackError)
	return ok
}

func (b *Bridge) Read(req transport.Request, n int) ([]byte, error) {
	addr, err := transport.AddressBytes(req.MemAddr, req.AddrBits, b.opts.SwapAddress)
	if err != nil {
		return nil, err
	}

	rep := req.Style == transport.RepeatedStart
	if err := b.dev.write(!rep, req.Addr, addr); err != nil {
		return nil, errors.Annotatef(err, "address %v", req)
	}
	data, err := b.dev.read(rep, req.Addr, n)
	if err != nil {
		return nil, errors.Annotatef(err, "read %v", req)
	}
	return data, nil
}

func (b *Bridge) Write(req transport.Request, data []byte) error {
	if req.Style != transport.Normal {
		return errors.NotSupportedf("write style %v", req.Style)
	}

	addr, err := transport.AddressBytes(req.MemAddr, req.AddrBits, b.opts.SwapAddress)
	if err != nil {
		return err
	}
	return errors.Annotatef(b.dev.write(true, req.Addr, append(addr, data...)), "write %v", req)
}

// Direct replays a bus script as bridge transfers. Writes without a stop
// condition are held open so that a following read uses a repeated start.
func (b *Bridge) Direct(cmds []i2cmsg.Command) ([]byte, error) {
	segs, err := i2cmsg.Segments(cmds)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rx []byte
	for _, s := range segs {
		if s.Read {
			r, err := b.dev.read(s.Restart, s.Addr, s.N)
			if err != nil {
				return nil, errors.Trace(err)
			}
			rx = append(rx, r...)
			continue
		}
		if err := b.dev.write(s.Stop, s.Addr, s.Data); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return rx, nil
}

func (b *Bridge) Close() error {
	if b.powerPin >= 0 {
		if err := b.dev.setGPIO(b.powerPin, false); err != nil {
			glog.Warningf("mcp2221a: power off: %v", err)
		}
	}
	return b.dev.hid.Close()
}

var _ transport.Transport = (*Bridge)(nil)
