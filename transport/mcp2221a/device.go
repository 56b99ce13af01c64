package mcp2221a

// Derived from https://github.com/ardnew/mcp2221a
// MIT License
//
// Copyright (c) 2020 ardnew
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

const (
	VID = 0x04D8
	PID = 0x00DD

	msgSize = 64
	clkHz   = 12000000
)

const (
	cmdStatus          byte = 0x10
	cmdI2CWrite        byte = 0x90
	cmdI2CWriteNoStop  byte = 0x94
	cmdI2CRead         byte = 0x91
	cmdI2CReadRepStart byte = 0x93
	cmdI2CReadGetData  byte = 0x40
	cmdGPIOSet         byte = 0x50
)

const (
	stateIdle            byte = 0x00
	stateStartTimeout    byte = 0x12
	stateRepStartTimeout byte = 0x17
	stateAddrTimeout     byte = 0x23
	stateAddrNACK        byte = 0x25
	statePartialData     byte = 0x41
	stateWriteTimeout    byte = 0x44
	stateWritingNoStop   byte = 0x45
	stateReadTimeout     byte = 0x52
	stateReadPartial     byte = 0x54
	stateReadComplete    byte = 0x55
	stateStopTimeout     byte = 0x62
	stateReadError       byte = 0x7F
)

const (
	chunkSize    = 60
	retries      = 50
	pollInterval = 300 * time.Microsecond
)

// hidDevice is the part of a HID handle the driver needs.
type hidDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

type nackError struct {
	addr uint16
}

func (e *nackError) Error() string {
	return fmt.Sprintf("NACK from address 0x%02x", e.addr)
}

type device struct {
	hid hidDevice
}

func timeoutState(s byte) bool {
	switch s {
	case stateStartTimeout, stateRepStartTimeout, stateStopTimeout, stateReadTimeout, stateWriteTimeout, stateAddrTimeout:
		return true
	}
	return false
}

func (d *device) send(cmd byte, msg []byte) ([]byte, error) {
	msg[0] = cmd
	if _, err := d.hid.Write(msg); err != nil {
		return nil, errors.Annotatef(err, "write command 0x%02x", cmd)
	}

	rsp := make([]byte, msgSize)
	n, err := d.hid.Read(rsp)
	if err != nil {
		return nil, errors.Annotatef(err, "read response 0x%02x", cmd)
	}
	if n < msgSize {
		return rsp, errors.Errorf("command 0x%02x: short response (%d of %d bytes)", cmd, n, msgSize)
	}
	if rsp[0] != cmd || rsp[1] != 0 {
		return rsp, errors.Errorf("command 0x%02x failed", cmd)
	}
	return rsp, nil
}

// i2cState returns the state of the I²C engine from a status report.
func (d *device) i2cState() (byte, error) {
	rsp, err := d.send(cmdStatus, make([]byte, msgSize))
	if err != nil {
		return 0, err
	}
	return rsp[8], nil
}

func (d *device) cancel() error {
	msg := make([]byte, msgSize)
	msg[2] = 0x10
	rsp, err := d.send(cmdStatus, msg)
	if err != nil {
		return err
	}
	if rsp[2] == 0x10 {
		time.Sleep(pollInterval)
	}
	return nil
}

func (d *device) setSpeed(hz uint32) error {
	if hz > clkHz/3 || hz < clkHz/258 {
		return errors.Errorf("invalid I2C clock: %d Hz", hz)
	}

	msg := make([]byte, msgSize)
	msg[3] = 0x20
	msg[4] = byte(clkHz/hz - 3)
	rsp, err := d.send(cmdStatus, msg)
	if err != nil {
		return err
	}
	if rsp[3] == 0x21 {
		return errors.New("cannot change clock: transfer in progress")
	}
	return nil
}

func (d *device) idle(allowNoStop bool) error {
	state, err := d.i2cState()
	if err != nil {
		return err
	}
	if state == stateIdle || (allowNoStop && state == stateWritingNoStop) {
		return nil
	}
	glog.V(2).Infof("mcp2221a: cancelling transfer in state 0x%02x", state)
	return d.cancel()
}

// write sends data to addr, ending with a stop condition when stop is set.
func (d *device) write(stop bool, addr uint16, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := d.idle(false); err != nil {
		return err
	}

	cmd := cmdI2CWrite
	if !stop {
		cmd = cmdI2CWriteNoStop
	}

	for pos := 0; pos < len(data); {
		n := len(data) - pos
		if n > chunkSize {
			n = chunkSize
		}

		msg := make([]byte, msgSize)
		msg[1] = byte(len(data))
		msg[2] = byte(len(data) >> 8)
		msg[3] = byte(addr << 1)
		copy(msg[4:], data[pos:pos+n])

		sent := false
		for try := 0; try < retries && !sent; try++ {
			rsp, err := d.send(cmd, msg)
			if err == nil {
				sent = true
				continue
			}
			if rsp == nil {
				return err
			}
			if rsp[2] == stateAddrNACK {
				return &nackError{addr}
			}
			if timeoutState(rsp[2]) {
				return errors.Errorf("write to 0x%02x timed out", addr)
			}
			time.Sleep(pollInterval)
		}
		if !sent {
			return errors.New("too many retries")
		}
		pos += n
	}

	for try := 0; try < retries; try++ {
		state, err := d.i2cState()
		if err != nil {
			return err
		}
		switch {
		case state == stateIdle, !stop && state == stateWritingNoStop:
			return nil
		case state == stateAddrNACK:
			return &nackError{addr}
		case timeoutState(state):
			return errors.Errorf("write to 0x%02x timed out", addr)
		}
		time.Sleep(pollInterval)
	}
	return errors.New("too many retries")
}

// read receives n bytes from addr, with a repeated start when rep is set.
func (d *device) read(rep bool, addr uint16, n int) ([]byte, error) {
	if err := d.idle(true); err != nil {
		return nil, err
	}

	msg := make([]byte, msgSize)
	msg[1] = byte(n)
	msg[2] = byte(n >> 8)
	msg[3] = byte(addr<<1) | 1

	cmd := cmdI2CRead
	if rep {
		cmd = cmdI2CReadRepStart
	}
	if _, err := d.send(cmd, msg); err != nil {
		return nil, err
	}

	data := make([]byte, n)
	for pos := 0; pos < n; {
		var rsp []byte
		done := false
		for try := 0; try < retries && !done; try++ {
			var err error
			if rsp, err = d.send(cmdI2CReadGetData, make([]byte, msgSize)); err != nil {
				return nil, err
			}
			switch {
			case rsp[1] == statePartialData, rsp[3] == stateReadError:
				time.Sleep(pollInterval)
			case rsp[2] == stateAddrNACK:
				return nil, &nackError{addr}
			case rsp[2] == stateIdle && rsp[3] == 0, rsp[2] == stateReadPartial, rsp[2] == stateReadComplete:
				done = true
			}
		}
		if !done {
			return nil, errors.New("too many retries")
		}

		k := n - pos
		if k > chunkSize {
			k = chunkSize
		}
		copy(data[pos:], rsp[4:4+k])
		pos += k
	}
	return data, nil
}

// setGPIO drives pin as an output at the given level.
func (d *device) setGPIO(pin int, high bool) error {
	if pin < 0 || pin > 3 {
		return errors.Errorf("invalid GPIO pin: %d", pin)
	}

	msg := make([]byte, msgSize)
	i := 2 + 4*pin
	msg[i] = 0xFF
	if high {
		msg[i+1] = 1
	}
	msg[i+2] = 0xFF
	msg[i+3] = 0x00

	_, err := d.send(cmdGPIOSet, msg)
	return err
}
