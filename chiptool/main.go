// Command chiptool reads and writes the registers of a chip from the command
// line.
package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/BertoldVdb/i2cregs/chip"
	"github.com/BertoldVdb/i2cregs/hostflags"
	"github.com/BertoldVdb/i2cregs/regbus"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/BertoldVdb/i2cregs/transport/busopen"
	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
)

const envPrefix = "CHIPTOOL_"

var (
	verify     = flag.Bool("verify", false, "Read back written registers and compare")
	fullArray  = flag.Bool("full-array", false, "Address every instance of an indexed block instead of the one selected by --index")
	configFile = flag.String("config", "", "Configuration file loaded into the display values before writing, or compared against by dump")
	format     = flag.String("format", "text", "Output format of dump: text, yaml or json")
	noColor    = flag.Bool("no-color", false, "Disable coloured output")
	helpFull   = flag.Bool("helpfull", false, "Show full help, including advanced flags")

	busFlags hostflags.Bus
)

var commands = []command{
	{"families", listFamilies, `List the built-in chip families`, nil, nil, false},
	{"scan", scan, `List the I2C addresses that acknowledge`, nil, []string{"bus", "chip"}, false},
	{"info", info, `Show the chip, its spaces and indexers`, []string{"chip"}, []string{"bus", "i2c-addr"}, true},
	{"read", read, `Read and print: read [<space> <block> [<register>]]`, []string{"chip"}, []string{"bus", "i2c-addr", "index", "full-array"}, true},
	{"write", write, `Write display values: write <space> [<block> [<register> [<value>]]]`, []string{"chip"}, []string{"bus", "i2c-addr", "index", "full-array", "config", "verify", "broadcast"}, true},
	{"get", get, `Print display values without bus traffic: get <space> <block> [<register>]`, []string{"chip"}, []string{"index", "full-array", "config"}, true},
	{"set", set, `Set and write a register: set <space> <block> <register> <value>, value decimal or 0x hex`, []string{"chip"}, []string{"bus", "i2c-addr", "index", "config", "verify", "broadcast"}, true},
	{"field-get", fieldGet, `Read a field: field-get <space> <block> <field>`, []string{"chip"}, []string{"bus", "i2c-addr", "index"}, true},
	{"field-set", fieldSet, `Set and write a field: field-set <space> <block> <field> <value>, value decimal or 0x hex`, []string{"chip"}, []string{"bus", "i2c-addr", "index", "verify", "broadcast"}, true},
	{"dump", dump, `Read every bound space and print it, marking values that differ from --config`, []string{"chip"}, []string{"bus", "i2c-addr", "config", "format"}, true},
	{"save", save, `Read the device and save its configuration: save <file>`, []string{"chip"}, []string{"bus", "i2c-addr"}, true},
	{"load", load, `Write a saved configuration to the device: load <file>`, []string{"chip"}, []string{"bus", "i2c-addr", "verify"}, true},
	{"diff", diff, `Compare a saved configuration with the device: diff <file>`, []string{"chip"}, []string{"bus", "i2c-addr"}, true},
	{"direct", direct, `Run a raw opcode stream given in hex and print what it read`, nil, []string{"bus", "chip"}, false},
	{"adc", adc, `Convert AD5593R ADC channels: adc <channel>...`, []string{"chip"}, []string{"bus", "i2c-addr"}, true},
}

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string

	needsChip bool
}

type handler func(t *tool) error

// tool is what a command works on.
type tool struct {
	chip *chip.Chip
	bus  *regbus.Bus
	args []string
	out  io.Writer
}

func (t *tool) Close() error {
	if t.chip != nil {
		return t.chip.Close()
	}
	if t.bus != nil {
		return t.bus.Close()
	}
	return nil
}

// openTool opens the chip, or only the bus for commands that need no chip
// when no family was given.
func openTool(c *command, args []string, out io.Writer) (*tool, error) {
	t := &tool{args: args, out: out}
	if c.name == "families" {
		return t, nil
	}

	if c.needsChip || busFlags.Family != "" {
		ch, err := busFlags.Open(nil)
		if err != nil {
			return nil, err
		}
		t.chip = ch
		t.bus = ch.Bus()
		return t, nil
	}

	tr, err := busopen.Open(busFlags.Path, transport.Options{SwapAddress: busFlags.SwapAddr})
	if err != nil {
		return nil, err
	}
	t.bus = regbus.New(tr, regbus.Config{
		MaxChunkBytes: busFlags.MaxChunk,
		MinDelay:      busFlags.MinDelay,
		Retries:       busFlags.Retries,
	})
	return t, nil
}

func initFlags() {
	busFlags.Register(flag.CommandLine)
	hostflags.Init(flag.CommandLine)
	flag.Usage = usage
}

func printFlag(w io.Writer, opt string, name string) {
	f := flag.Lookup(name)
	arg := "<" + f.Value.Type() + ">"
	if f.Value.Type() == "bool" {
		arg = ""
	}
	fmt.Fprintf(w, "  --%s %s\t%s. %s, default value: %q\n", name, arg, f.Usage, opt, f.DefValue)
}

func usage() {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 1, ' ', 0)

	if len(os.Args) == 3 && os.Args[1] == "help" {
		for _, c := range commands {
			if c.name == os.Args[2] {
				fmt.Fprintf(w, "%s %s FLAGS\n", os.Args[0], os.Args[2])
				fmt.Fprintf(w, "\n%s\n\nFlags:\n", c.short)
				for _, name := range c.required {
					printFlag(w, "Required", name)
				}
				for _, name := range c.optional {
					printFlag(w, "Optional", name)
				}
				w.Flush()
				os.Exit(1)
			}
		}
	}

	color.New(color.FgGreen).Fprintf(w, "Register access for I2C test chips.\n")
	fmt.Fprintf(w, "\nUsage:\n  %s <command> [args] [flags]\n\nCommands:\n", os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\t\t%s\n", c.name, c.short)
	}
	fmt.Fprintf(w, "\nGlobal Flags:\n")
	flag.CommandLine.SetOutput(w)
	flag.PrintDefaults()
	fmt.Fprintf(w, "\nEnvironment variables %s<FLAG> set flags not given on the command line.\n", envPrefix)
	fmt.Fprintf(w, "Run '%s help <command>' for the flags of one command.\n", os.Args[0])
	w.Flush()
	os.Exit(1)
}

func run() error {
	for i := range commands {
		c := &commands[i]
		if c.name != flag.Arg(0) {
			continue
		}

		if err := hostflags.CheckRequired(flag.CommandLine, c.required); err != nil {
			return errors.Trace(err)
		}

		t, err := openTool(c, flag.Args()[1:], os.Stdout)
		if err != nil {
			return errors.Trace(err)
		}
		defer t.Close()

		return errors.Trace(c.handler(t))
	}

	usage()
	return nil
}

func main() {
	initFlags()
	flag.Parse()
	if err := hostflags.ParseEnv(flag.CommandLine, envPrefix); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	if *noColor {
		color.NoColor = true
	}
	if *helpFull {
		hostflags.Unhide(flag.CommandLine)
		usage()
	}

	if err := run(); err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
