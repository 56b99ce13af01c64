package i2cmsg

import (
	"github.com/juju/errors"
)

// Segment is one addressed transfer of a bus script: the bytes between a
// (repeated) start and the next start or stop condition.
type Segment struct {
	Addr    uint16
	Read    bool
	Restart bool // entered with a repeated start
	Stop    bool // terminated with a stop condition
	Data    []byte
	N       int // bytes to receive when Read is set
}

// Segments groups a bus script into addressed transfers, for bridges that
// cannot replay the opcode stream but can issue plain transfers.
func Segments(cmds []Command) ([]Segment, error) {
	var (
		result []Segment
		cur    *Segment
		fresh  bool
	)

	for i, c := range cmds {
		if err := c.validate(); err != nil {
			return nil, errors.Annotatef(err, "command %d", i)
		}

		switch {
		case c.Op == Start || c.Op == Restart:
			result = append(result, Segment{Restart: c.Op == Restart})
			cur = &result[len(result)-1]
			fresh = true
		case c.Op == Stop:
			if cur == nil {
				return nil, errors.Errorf("command %d: stop outside a transfer", i)
			}
			cur.Stop = true
			cur = nil
		case c.Op == Nack:
		case cur == nil:
			return nil, errors.Errorf("command %d: %v outside a transfer", i, c.Op)
		case c.Op.IsWrite():
			data := c.Data
			if fresh {
				cur.Addr = uint16(data[0] >> 1)
				cur.Read = data[0]&1 != 0
				data = data[1:]
				fresh = false
			}
			if cur.Read && len(data) > 0 {
				return nil, errors.Errorf("command %d: write inside a read transfer", i)
			}
			cur.Data = append(cur.Data, data...)
		case c.Op.IsRead():
			if fresh || !cur.Read {
				return nil, errors.Errorf("command %d: read without a device addressed for reading", i)
			}
			cur.N += c.Op.Len()
		}
	}

	if cur != nil {
		return nil, errors.New("bus script does not end with a stop condition")
	}
	return result, nil
}
