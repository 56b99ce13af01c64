// Package busopen opens a transport from a path of the form kind:arg:arg.
package busopen

import (
	"strconv"
	"strings"

	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/BertoldVdb/i2cregs/transport/fpga"
	"github.com/BertoldVdb/i2cregs/transport/mcp2221a"
	"github.com/BertoldVdb/i2cregs/transport/periphbus"
	"github.com/BertoldVdb/i2cregs/transport/sim"
	"github.com/BertoldVdb/i2cregs/transport/usbiss"
	"github.com/juju/errors"
	"periph.io/x/conn/v3/physic"
)

// Usage documents the accepted paths.
const Usage = `usbiss:<port>[:<clock>]          USB-ISS serial bridge, e.g. usbiss:/dev/ttyACM0:400kHz
fpga:<host>[:<port>]             FPGA control port, e.g. fpga:192.168.2.3:1024
platform:<bus>[:<gpio>[:<clock>]] host I2C controller, e.g. platform:/dev/i2c-1:GPIO17
usb:[<serial>[:<pin>[:<clock>]]] MCP2221A USB bridge, optional GP pin power switch
sim                              simulated bus, no hardware`

func getPart(parts []string, index int, def string) string {
	if index >= len(parts) || parts[index] == "" {
		return def
	}
	return parts[index]
}

func parseFrequency(s string) (physic.Frequency, error) {
	var f physic.Frequency
	if err := f.Set(s); err != nil {
		return 0, errors.Annotatef(err, "invalid clock %q", s)
	}
	return f, nil
}

func parseOptionalFrequency(s string) (physic.Frequency, error) {
	if s == "" {
		return 0, nil
	}
	return parseFrequency(s)
}

// Open returns the transport described by path.
func Open(path string, opts transport.Options) (transport.Transport, error) {
	parts := strings.Split(path, ":")

	var (
		t   transport.Transport
		err error
	)

	switch parts[0] {
	case "sim":
		t = sim.New(opts)

	case "usbiss":
		var freq physic.Frequency
		if freq, err = parseFrequency(getPart(parts, 2, "100kHz")); err != nil {
			return nil, err
		}
		var b *usbiss.Bridge
		if b, err = usbiss.Open(getPart(parts, 1, "/dev/ttyACM0"), freq, opts); err == nil {
			t = b
		}

	case "fpga":
		host := getPart(parts, 1, "192.168.2.3")
		port := getPart(parts, 2, "1024")
		var b *fpga.Bridge
		if b, err = fpga.Open(host+":"+port, opts); err == nil {
			t = b
		}

	case "platform":
		var freq physic.Frequency
		if freq, err = parseOptionalFrequency(getPart(parts, 3, "")); err != nil {
			return nil, err
		}
		var b *periphbus.Bus
		if b, err = periphbus.Open(getPart(parts, 1, "/dev/i2c-1"), getPart(parts, 2, ""), freq, opts); err == nil {
			t = b
		}

	case "usb":
		pin, perr := strconv.Atoi(getPart(parts, 2, "-1"))
		if perr != nil {
			return nil, errors.Annotatef(perr, "invalid power pin")
		}
		var freq physic.Frequency
		if freq, err = parseFrequency(getPart(parts, 3, "100kHz")); err != nil {
			return nil, err
		}
		var b *mcp2221a.Bridge
		if b, err = mcp2221a.Open(getPart(parts, 1, ""), pin, uint32(freq/physic.Hertz), opts); err == nil {
			t = b
		}

	default:
		return nil, errors.NotSupportedf("transport %q, use one of usbiss, fpga, platform, usb or sim", parts[0])
	}

	if err != nil {
		return nil, errors.Annotatef(err, "open %s", path)
	}
	return t, nil
}
