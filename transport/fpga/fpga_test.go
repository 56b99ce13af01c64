package fpga

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFPGA serves the control protocol with one 16-bit addressed device.
type fakeFPGA struct {
	dev    uint16
	mem    map[uint16]byte
	config map[byte]uint16
	status uint32
	pulses int
}

func (f *fakeFPGA) serve(conn net.Conn) {
	defer conn.Close()

	var buf [4]byte
	for {
		if _, err := io.ReadFull(conn, buf[:]); err != nil {
			return
		}
		w := binary.BigEndian.Uint32(buf[:])
		op, reg, value := byte(w>>24), byte(w>>16), uint16(w)

		switch op {
		case opWriteConfig:
			f.config[reg] = value
		case opWritePulse:
			f.pulses++
			f.execute()
		case opReadStatus:
			binary.BigEndian.PutUint32(buf[:], f.status)
			conn.Write(buf[:])
		case opReadConfig:
			binary.BigEndian.PutUint32(buf[:], uint32(f.config[reg]))
			conn.Write(buf[:])
		}
	}
}

func (f *fakeFPGA) execute() {
	addr := f.config[regIICAddr]
	if addr&0x7F != f.dev {
		f.status = 0
		return
	}
	mem := f.config[regIICMemAddr]
	if addr&0x80 != 0 {
		f.status = statAck | uint32(f.mem[mem])
		return
	}
	f.mem[mem] = byte(f.config[regIICData])
	f.status = statAck
}

func newBridge(t *testing.T, opts transport.Options) (*Bridge, *fakeFPGA) {
	client, server := net.Pipe()
	f := &fakeFPGA{dev: 0x72, mem: map[uint16]byte{}, config: map[byte]uint16{}}
	go f.serve(server)
	b := New(client, opts)
	t.Cleanup(func() { b.Close() })
	return b, f
}

func TestReadWrite(t *testing.T) {
	b, f := newBridge(t, transport.Options{})
	req := transport.Request{Addr: 0x72, MemAddr: 0x0120, AddrBits: 16, RegBits: 8}

	require.NoError(t, b.Write(req, []byte{0xDE, 0xAD}))
	assert.Equal(t, 2, f.pulses)

	data, err := b.Read(req, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, data)
	assert.Equal(t, byte(0xAD), f.mem[0x0121])

	v, err := b.ReadConfig(regIICMode)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), v)
}

func TestSwappedAddress(t *testing.T) {
	b, f := newBridge(t, transport.Options{SwapAddress: true})
	req := transport.Request{Addr: 0x72, MemAddr: 0x1234, AddrBits: 16, RegBits: 8}

	require.NoError(t, b.Write(req, []byte{0x42}))
	assert.Equal(t, byte(0x42), f.mem[0x3412])
}

func TestCheckDevice(t *testing.T) {
	b, _ := newBridge(t, transport.Options{})

	ok, err := b.CheckDevice(0x72)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.CheckDevice(0x10)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = b.Read(transport.Request{Addr: 0x10, AddrBits: 8, RegBits: 8}, 1)
	assert.Error(t, err)
}

func TestUnsupported(t *testing.T) {
	b, _ := newBridge(t, transport.Options{})

	_, err := b.Direct(i2cmsg.RepeatedStartRead(0x72, []byte{0}, 1))
	assert.True(t, errors.IsNotSupported(err))

	_, err = b.Read(transport.Request{Addr: 0x72, AddrBits: 8, RegBits: 8, Style: transport.RepeatedStart}, 1)
	assert.True(t, errors.IsNotSupported(err))

	_, err = b.Read(transport.Request{Addr: 0x72, AddrBits: 8, RegBits: 16}, 2)
	assert.True(t, errors.IsNotSupported(err))
}
