package periphbus

import (
	"testing"

	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

type tx struct {
	addr uint16
	w    []byte
	r    int
}

// recordingBus is an 8-bit addressed register file at 0x48 that logs every
// transfer.
type recordingBus struct {
	log []tx
	mem [256]byte
	ptr byte
}

func (b *recordingBus) String() string                    { return "recording" }
func (b *recordingBus) SetSpeed(f physic.Frequency) error { return nil }
func (b *recordingBus) MaxTxSize() int                    { return 32 }

func (b *recordingBus) Tx(addr uint16, w, r []byte) error {
	b.log = append(b.log, tx{addr, append([]byte{}, w...), len(r)})
	if addr != 0x48 {
		return errors.New("i2c: NACK")
	}
	if len(w) > 0 {
		b.ptr = w[0]
		for i, v := range w[1:] {
			b.mem[int(b.ptr)+i] = v
		}
	}
	for i := range r {
		r[i] = b.mem[int(b.ptr)+i]
	}
	return nil
}

func TestReadWrite(t *testing.T) {
	rb := &recordingBus{}
	b := New(rb, transport.Options{})
	assert.Equal(t, 32, b.MaxTxSize())

	req := transport.Request{Addr: 0x48, MemAddr: 0x10, AddrBits: 8, RegBits: 8}
	require.NoError(t, b.Write(req, []byte{1, 2, 3}))

	data, err := b.Read(req, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	req.Style = transport.RepeatedStart
	_, err = b.Read(req, 3)
	require.NoError(t, err)

	assert.Equal(t, []tx{
		{0x48, []byte{0x10, 1, 2, 3}, 0},
		{0x48, []byte{0x10}, 0},
		{0x48, []byte{}, 3},
		{0x48, []byte{0x10}, 3},
	}, rb.log)
}

func TestCheckDevice(t *testing.T) {
	b := New(&recordingBus{}, transport.Options{})

	ok, err := b.CheckDevice(0x48)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.CheckDevice(0x49)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirect(t *testing.T) {
	rb := &recordingBus{}
	rb.mem[0xA1] = 0x5A
	b := New(rb, transport.Options{})

	rx, err := b.Direct(i2cmsg.RepeatedStartRead(0x48, []byte{0xA1}, 1))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x5A}, rx)
	assert.Len(t, rb.log, 1)

	var s i2cmsg.Builder
	s.Start().Write(0x90, 0x00).Restart().Write(0x92)
	s.Stop()
	_, err = b.Direct(s.Commands())
	assert.True(t, errors.IsNotSupported(err))
}
