// Package i2cmsg encodes raw I²C bus scripts (start/stop conditions, byte
// writes and scheduled reads) into the flat opcode stream understood by
// bridges that support direct bus control, and splits the bytes they return.
package i2cmsg

import (
	"fmt"

	"github.com/juju/errors"
)

type Op byte

const (
	Start   Op = 0x01
	Restart Op = 0x02
	Stop    Op = 0x03
	Nack    Op = 0x04

	read1  Op = 0x20
	write1 Op = 0x30

	// MaxRun is the largest byte count a single READn or WRITEn carries.
	MaxRun = 16
)

// Read returns the READn opcode.
func Read(n int) Op {
	if n < 1 || n > MaxRun {
		panic(fmt.Sprintf("i2cmsg: read length %d out of range", n))
	}
	return read1 + Op(n-1)
}

// Write returns the WRITEn opcode.
func Write(n int) Op {
	if n < 1 || n > MaxRun {
		panic(fmt.Sprintf("i2cmsg: write length %d out of range", n))
	}
	return write1 + Op(n-1)
}

func (o Op) IsRead() bool  { return o >= read1 && o < read1+MaxRun }
func (o Op) IsWrite() bool { return o >= write1 && o < write1+MaxRun }

// Len is the number of bytes moved by a READn or WRITEn opcode, 0 otherwise.
func (o Op) Len() int {
	switch {
	case o.IsRead():
		return int(o-read1) + 1
	case o.IsWrite():
		return int(o-write1) + 1
	}
	return 0
}

func (o Op) String() string {
	switch o {
	case Start:
		return "START"
	case Restart:
		return "RESTART"
	case Stop:
		return "STOP"
	case Nack:
		return "NACK"
	}
	if o.IsRead() {
		return fmt.Sprintf("READ%d", o.Len())
	}
	if o.IsWrite() {
		return fmt.Sprintf("WRITE%d", o.Len())
	}
	return fmt.Sprintf("Op(0x%02x)", byte(o))
}

// Command is one opcode plus the inline bytes of a WRITEn.
type Command struct {
	Op   Op
	Data []byte
}

func (c Command) validate() error {
	switch {
	case c.Op == Start, c.Op == Restart, c.Op == Stop, c.Op == Nack, c.Op.IsRead():
		if len(c.Data) != 0 {
			return errors.Errorf("%v carries %d data bytes", c.Op, len(c.Data))
		}
	case c.Op.IsWrite():
		if len(c.Data) != c.Op.Len() {
			return errors.Errorf("%v carries %d data bytes", c.Op, len(c.Data))
		}
	default:
		return errors.Errorf("unknown opcode 0x%02x", byte(c.Op))
	}
	return nil
}

// Encode validates cmds and flattens them into an opcode stream.
func Encode(cmds []Command) ([]byte, error) {
	var out []byte
	for i, c := range cmds {
		if err := c.validate(); err != nil {
			return nil, errors.Annotatef(err, "command %d", i)
		}
		out = append(out, byte(c.Op))
		out = append(out, c.Data...)
	}
	return out, nil
}

// Parse splits a flat opcode stream back into commands.
func Parse(stream []byte) ([]Command, error) {
	var cmds []Command
	for pos := 0; pos < len(stream); {
		op := Op(stream[pos])
		pos++

		c := Command{Op: op}
		if op.IsWrite() {
			n := op.Len()
			if pos+n > len(stream) {
				return nil, errors.Errorf("%v at offset %d truncated: %d of %d data bytes", op, pos-1, len(stream)-pos, n)
			}
			c.Data = append([]byte{}, stream[pos:pos+n]...)
			pos += n
		}
		if err := c.validate(); err != nil {
			return nil, errors.Annotatef(err, "offset %d", pos-1)
		}
		cmds = append(cmds, c)
	}
	return cmds, nil
}

// ReadCount is the number of bytes the bus script will receive.
func ReadCount(cmds []Command) int {
	n := 0
	for _, c := range cmds {
		if c.Op.IsRead() {
			n += c.Op.Len()
		}
	}
	return n
}

// Decode splits the received stream into one slice per READn, in submission
// order.
func Decode(cmds []Command, rx []byte) ([][]byte, error) {
	if want := ReadCount(cmds); len(rx) != want {
		return nil, errors.Errorf("received %d bytes, script reads %d", len(rx), want)
	}

	var result [][]byte
	for _, c := range cmds {
		if !c.Op.IsRead() {
			continue
		}
		n := c.Op.Len()
		result = append(result, rx[:n])
		rx = rx[n:]
	}
	return result, nil
}

// Builder assembles a bus script. Writes and reads longer than MaxRun are
// split over several opcodes.
type Builder struct {
	cmds []Command
}

func (b *Builder) op(o Op) *Builder {
	b.cmds = append(b.cmds, Command{Op: o})
	return b
}

func (b *Builder) Start() *Builder   { return b.op(Start) }
func (b *Builder) Restart() *Builder { return b.op(Restart) }
func (b *Builder) Stop() *Builder    { return b.op(Stop) }
func (b *Builder) Nack() *Builder    { return b.op(Nack) }

func (b *Builder) Write(data ...byte) *Builder {
	for len(data) > 0 {
		n := len(data)
		if n > MaxRun {
			n = MaxRun
		}
		b.cmds = append(b.cmds, Command{Op: Write(n), Data: append([]byte{}, data[:n]...)})
		data = data[n:]
	}
	return b
}

func (b *Builder) Read(n int) *Builder {
	for n > 0 {
		k := n
		if k > MaxRun {
			k = MaxRun
		}
		b.op(Read(k))
		n -= k
	}
	return b
}

func (b *Builder) Commands() []Command {
	return b.cmds
}

// RepeatedStartRead builds the canonical register read of n bytes: address
// the device for writing, send the memory address, repeat the start with the
// read bit set and NACK the final byte.
func RepeatedStartRead(dev uint16, memAddr []byte, n int) []Command {
	var b Builder

	b.Start()
	b.Write(append([]byte{byte(dev << 1)}, memAddr...)...)
	b.Restart()
	b.Write(byte(dev<<1) | 1)
	b.Read(n - 1)
	b.Nack()
	b.Read(1)
	b.Stop()

	return b.Commands()
}
