// Package regbus moves register values over a transport: it splits long
// transfers into chunks, paces transactions, packs register bytes in the
// declared order and verifies writes by reading them back.
package regbus

import (
	"fmt"
	"time"

	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/BertoldVdb/i2cregs/regerr"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/golang/glog"
	"github.com/juju/errors"
	"periph.io/x/conn/v3"
)

type LogFunc func(format string, params ...interface{})

type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

func (o ByteOrder) String() string {
	if o == LittleEndian {
		return "little"
	}
	return "big"
}

// Frame is the wire shape of the registers of one address space.
type Frame struct {
	AddressBits  int // 8 or 16
	RegisterBits int
	Order        ByteOrder
	ReadStyle    transport.Style
	WriteStyle   transport.Style
}

func (f Frame) RegisterBytes() int {
	return transport.RegisterBytes(f.RegisterBits)
}

// Mask has the low RegisterBits bits set.
func (f Frame) Mask() uint64 {
	if f.RegisterBits <= 0 {
		return 0xFF
	}
	if f.RegisterBits >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(f.RegisterBits) - 1
}

// Format renders v as canonical zero-padded lower-case hex.
func (f Frame) Format(v uint64) string {
	digits := (f.RegisterBits + 3) / 4
	if digits == 0 {
		digits = 2
	}
	return fmt.Sprintf("%0*x", digits, v&f.Mask())
}

func (f Frame) request(addr uint16, memAddr uint32, style transport.Style) transport.Request {
	return transport.Request{
		Addr:     addr,
		MemAddr:  memAddr,
		AddrBits: f.AddressBits,
		RegBits:  f.RegisterBits,
		Style:    style,
	}
}

// Encode packs values into RegisterBytes bytes each. Bits above RegisterBits
// are cleared.
func (f Frame) Encode(values []uint64) []byte {
	n := f.RegisterBytes()
	out := make([]byte, len(values)*n)
	for i, v := range values {
		v &= f.Mask()
		for j := 0; j < n; j++ {
			b := byte(v >> (8 * uint(j)))
			if f.Order == LittleEndian {
				out[i*n+j] = b
			} else {
				out[i*n+n-1-j] = b
			}
		}
	}
	return out
}

// Decode is the inverse of Encode.
func (f Frame) Decode(data []byte) []uint64 {
	n := f.RegisterBytes()
	values := make([]uint64, len(data)/n)
	for i := range values {
		var v uint64
		for j := 0; j < n; j++ {
			var b byte
			if f.Order == LittleEndian {
				b = data[i*n+j]
			} else {
				b = data[i*n+n-1-j]
			}
			v |= uint64(b) << (8 * uint(j))
		}
		values[i] = v & f.Mask()
	}
	return values
}

type Config struct {
	// MaxChunkBytes bounds the payload of one transaction. Zero uses the
	// transport's limit, or 32 bytes when it has none.
	MaxChunkBytes int

	// MinDelay is the minimum time between the end of one transaction and
	// the start of the next.
	MinDelay time.Duration

	// Retries is the number of times a failed transaction is repeated.
	Retries int

	Log LogFunc
}

const defaultChunk = 32

// Bus serialises register transfers on one transport. It is not safe for
// concurrent use.
type Bus struct {
	t     transport.Transport
	cfg   Config
	chunk int

	last  time.Time
	now   func() time.Time
	sleep func(time.Duration)
}

func New(t transport.Transport, cfg Config) *Bus {
	b := &Bus{
		t:     t,
		cfg:   cfg,
		chunk: cfg.MaxChunkBytes,
		now:   time.Now,
		sleep: time.Sleep,
	}

	if b.chunk <= 0 {
		if l, ok := t.(conn.Limits); ok && l.MaxTxSize() > 0 {
			b.chunk = l.MaxTxSize()
		} else {
			b.chunk = defaultChunk
		}
	}
	return b
}

func (b *Bus) Transport() transport.Transport {
	return b.t
}

// ChunkBytes is the payload limit in effect.
func (b *Bus) ChunkBytes() int {
	return b.chunk
}

func (b *Bus) log(format string, params ...interface{}) {
	if b.cfg.Log != nil {
		b.cfg.Log(format, params...)
		return
	}
	glog.V(2).Infof(format, params...)
}

// pace waits until MinDelay has passed since the previous transaction.
func (b *Bus) pace() {
	if b.cfg.MinDelay <= 0 || b.last.IsZero() {
		return
	}
	if wait := b.cfg.MinDelay - b.now().Sub(b.last); wait > 0 {
		b.sleep(wait)
	}
}

// do runs one paced transaction, repeating it up to Retries times.
func (b *Bus) do(op string, fn func() error) error {
	var err error
	for try := 0; try <= b.cfg.Retries; try++ {
		b.pace()
		err = fn()
		b.last = b.now()
		if err == nil {
			return nil
		}
		if errors.IsNotSupported(err) {
			return err
		}
		if try < b.cfg.Retries {
			b.log("%s failed, retrying: %v", op, err)
		}
	}
	return regerr.Transport(op, err)
}

func (b *Bus) regsPerChunk(f Frame) int {
	n := b.chunk / f.RegisterBytes()
	if n < 1 {
		n = 1
	}
	return n
}

func (b *Bus) CheckDevice(addr uint16) (bool, error) {
	var found bool
	err := b.do("check", func() error {
		var err error
		found, err = b.t.CheckDevice(addr)
		return err
	})
	return found, err
}

// Read fetches count registers starting at memAddr.
func (b *Bus) Read(addr uint16, f Frame, memAddr uint32, count int) ([]uint64, error) {
	values := make([]uint64, 0, count)
	step := b.regsPerChunk(f)

	for pos := 0; pos < count; pos += step {
		n := count - pos
		if n > step {
			n = step
		}

		req := f.request(addr, memAddr+uint32(pos), f.ReadStyle)
		var data []byte
		err := b.do("read", func() error {
			var err error
			data, err = b.t.Read(req, n*f.RegisterBytes())
			return err
		})
		if err != nil {
			return nil, errors.Annotatef(err, "read %v", req)
		}
		if len(data) != n*f.RegisterBytes() {
			return nil, regerr.Transport("read", errors.Errorf("%v returned %d bytes, want %d", req, len(data), n*f.RegisterBytes()))
		}

		b.log("Read    %v: %x", req, data)
		values = append(values, f.Decode(data)...)
	}
	return values, nil
}

// Write stores values starting at memAddr. Chunks go out in ascending
// address order.
func (b *Bus) Write(addr uint16, f Frame, memAddr uint32, values []uint64) error {
	step := b.regsPerChunk(f)

	for pos := 0; pos < len(values); pos += step {
		end := pos + step
		if end > len(values) {
			end = len(values)
		}

		req := f.request(addr, memAddr+uint32(pos), f.WriteStyle)
		data := f.Encode(values[pos:end])
		b.log("Writing %v: %x", req, data)

		if err := b.do("write", func() error {
			return b.t.Write(req, data)
		}); err != nil {
			return errors.Annotatef(err, "write %v", req)
		}
	}
	return nil
}

// WriteVerify writes values at memAddr and reads them back from verifyAddr,
// which differs from memAddr for devices with separate write and read
// pointers. The readback is returned even when it does not match, together
// with a *regerr.VerifyError listing the mismatching read addresses.
func (b *Bus) WriteVerify(addr uint16, f Frame, memAddr uint32, values []uint64, verifyAddr uint32) ([]uint64, error) {
	if err := b.Write(addr, f, memAddr, values); err != nil {
		return nil, err
	}

	readback, err := b.Read(addr, f, verifyAddr, len(values))
	if err != nil {
		return nil, errors.Annotatef(err, "verify")
	}

	var failed []uint32
	for i, v := range values {
		if readback[i] != v&f.Mask() {
			failed = append(failed, verifyAddr+uint32(i))
		}
	}
	if len(failed) > 0 {
		return readback, &regerr.VerifyError{Addresses: failed}
	}
	return readback, nil
}

// Direct runs a bus script on the transport.
func (b *Bus) Direct(cmds []i2cmsg.Command) ([]byte, error) {
	var rx []byte
	err := b.do("direct", func() error {
		var err error
		rx, err = b.t.Direct(cmds)
		return err
	})
	return rx, err
}

func (b *Bus) Close() error {
	return b.t.Close()
}
