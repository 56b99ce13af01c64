// Package transport defines the single-transaction I²C contract used by the
// register engine and the helpers shared by its bridge implementations.
package transport

import (
	"fmt"

	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/juju/errors"
)

type Style int

const (
	Normal Style = iota
	RepeatedStart
)

func (s Style) String() string {
	switch s {
	case Normal:
		return "normal"
	case RepeatedStart:
		return "repeated-start"
	}
	return fmt.Sprintf("Style(%d)", int(s))
}

// Request describes the addressing of one register transfer.
type Request struct {
	Addr     uint16 // 7-bit device address
	MemAddr  uint32
	AddrBits int // 8 or 16
	RegBits  int
	Style    Style
}

func (r Request) String() string {
	return fmt.Sprintf("dev=0x%02x mem=0x%0*x style=%v", r.Addr, r.AddrBits/4, r.MemAddr, r.Style)
}

// Transport performs one I²C transaction per call. Implementations are not
// safe for concurrent use.
type Transport interface {
	CheckDevice(addr uint16) (bool, error)
	Read(req Request, n int) ([]byte, error)
	Write(req Request, data []byte) error
	Direct(cmds []i2cmsg.Command) ([]byte, error)
	Close() error
}

// Options are shared by all bridge implementations.
type Options struct {
	// SwapAddress byte-swaps 16-bit memory addresses before they are put on
	// the wire.
	SwapAddress bool
}

// AddressBytes returns the on-wire memory address, most significant byte
// first unless swap is set.
func AddressBytes(memAddr uint32, addrBits int, swap bool) ([]byte, error) {
	switch addrBits {
	case 8:
		if memAddr > 0xFF {
			return nil, errors.Errorf("memory address 0x%x does not fit 8 bits", memAddr)
		}
		return []byte{byte(memAddr)}, nil
	case 16:
		if memAddr > 0xFFFF {
			return nil, errors.Errorf("memory address 0x%x does not fit 16 bits", memAddr)
		}
		if swap {
			return []byte{byte(memAddr), byte(memAddr >> 8)}, nil
		}
		return []byte{byte(memAddr >> 8), byte(memAddr)}, nil
	}
	return nil, errors.NotSupportedf("%d-bit memory addresses", addrBits)
}

// RegisterBytes is the number of bytes a register of the given width occupies.
func RegisterBytes(regBits int) int {
	if regBits <= 0 {
		return 1
	}
	return (regBits + 7) / 8
}

// ValidDeviceAddress reports whether addr is a usable 7-bit address.
func ValidDeviceAddress(addr uint16) bool {
	return addr <= 0x7F
}
