package usbiss

import (
	"bytes"
	"testing"

	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

type step struct {
	tx []byte
	rx []byte
}

// scriptedPort answers every write with the next scripted response.
type scriptedPort struct {
	t      *testing.T
	script []step
	rx     bytes.Buffer
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	require.NotEmpty(p.t, p.script, "unexpected write %x", b)
	s := p.script[0]
	p.script = p.script[1:]
	assert.Equal(p.t, s.tx, b)
	p.rx.Write(s.rx)
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	return p.rx.Read(b)
}

func open(t *testing.T, freq physic.Frequency, opts transport.Options, steps ...step) (*Bridge, *scriptedPort) {
	port := &scriptedPort{t: t, script: steps}
	b, err := New(port, freq, opts)
	require.NoError(t, err)
	return b, port
}

var hello = step{[]byte{0x5A, 0x01}, []byte{0x07, 0x05, 0x40}}

func TestModeSelection(t *testing.T) {
	cases := []struct {
		freq physic.Frequency
		code byte
	}{
		{20 * physic.KiloHertz, 0x20},
		{75 * physic.KiloHertz, 0x30},
		{99 * physic.KiloHertz, 0x30},
		{100 * physic.KiloHertz, 0x60},
		{400 * physic.KiloHertz, 0x70},
		{1 * physic.MegaHertz, 0x80},
	}
	for _, c := range cases {
		m, err := modeFor(c.freq)
		require.NoError(t, err)
		assert.Equalf(t, c.code, m.code, "%v", c.freq)
	}

	_, err := modeFor(10 * physic.KiloHertz)
	assert.Error(t, err)
}

func TestReadWrite(t *testing.T) {
	b, port := open(t, 400*physic.KiloHertz, transport.Options{},
		hello,
		step{[]byte{0x5A, 0x02, 0x70, 0x00}, []byte{0xFF, 0x00}},
		step{[]byte{0x56, 0xC1, 0x12, 0x34, 0x02}, []byte{0xAB, 0xCD}},
		step{[]byte{0x55, 0xC0, 0x10, 0x02, 0x01, 0x02}, []byte{0x01}},
		step{[]byte{0x58, 0xC0}, []byte{0x01}},
	)
	assert.Equal(t, byte(0x05), b.Version)

	data, err := b.Read(transport.Request{Addr: 0x60, MemAddr: 0x1234, AddrBits: 16, RegBits: 8}, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB, 0xCD}, data)

	require.NoError(t, b.Write(transport.Request{Addr: 0x60, MemAddr: 0x10, AddrBits: 8, RegBits: 8}, []byte{1, 2}))

	ok, err := b.CheckDevice(0x60)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, port.script)
}

func TestSwappedAddress(t *testing.T) {
	b, _ := open(t, 100*physic.KiloHertz, transport.Options{SwapAddress: true},
		hello,
		step{[]byte{0x5A, 0x02, 0x60, 0x00}, []byte{0xFF, 0x00}},
		step{[]byte{0x56, 0xC1, 0x34, 0x12, 0x01}, []byte{0x99}},
	)

	data, err := b.Read(transport.Request{Addr: 0x60, MemAddr: 0x1234, AddrBits: 16, RegBits: 8}, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x99}, data)
}

func TestRepeatedStartUsesDirect(t *testing.T) {
	b, port := open(t, 400*physic.KiloHertz, transport.Options{},
		hello,
		step{[]byte{0x5A, 0x02, 0x70, 0x00}, []byte{0xFF, 0x00}},
		step{
			[]byte{0x57, 0x01, 0x32, 0xC0, 0x00, 0xA1, 0x02, 0x30, 0xC1, 0x21, 0x04, 0x20, 0x03},
			[]byte{0xFF, 0x03, 0x11, 0x22, 0x33},
		},
	)

	data, err := b.Read(transport.Request{Addr: 0x60, MemAddr: 0xA1, AddrBits: 16, RegBits: 8, Style: transport.RepeatedStart}, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x22, 0x33}, data)
	assert.Empty(t, port.script)
}

func TestWriteNack(t *testing.T) {
	b, _ := open(t, 400*physic.KiloHertz, transport.Options{},
		hello,
		step{[]byte{0x5A, 0x02, 0x70, 0x00}, []byte{0xFF, 0x00}},
		step{[]byte{0x55, 0xC0, 0x00, 0x01, 0x05}, []byte{0x00}},
	)
	assert.Error(t, b.Write(transport.Request{Addr: 0x60, AddrBits: 8, RegBits: 8}, []byte{5}))
}
