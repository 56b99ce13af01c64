package main

import (
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/BertoldVdb/i2cregs/addrspace"
	"github.com/BertoldVdb/i2cregs/chip"
	"github.com/BertoldVdb/i2cregs/families"
	"github.com/BertoldVdb/i2cregs/families/ad5593r"
	"github.com/BertoldVdb/i2cregs/i2cmsg"
	"github.com/fatih/color"
	"github.com/juju/errors"
	"github.com/sergi/go-diff/diffmatchpatch"
)

var (
	modifiedColor = color.New(color.FgRed)
	removedColor  = color.New(color.FgRed)
	addedColor    = color.New(color.FgGreen)
)

func (t *tool) need(n int, usage string) error {
	if len(t.args) < n {
		return errors.Errorf("usage: %s", usage)
	}
	return nil
}

// loadConfig applies --config to the display values, if given.
func (t *tool) loadConfig() error {
	if *configFile == "" {
		return nil
	}
	return t.chip.LoadConfig(*configFile)
}

func listFamilies(t *tool) error {
	for _, name := range families.Names() {
		def, err := families.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "%s version %s\n", def.Name, def.Version)
		for _, s := range def.Spaces {
			addr := "strapped"
			if s.DefaultAddress != 0 {
				addr = fmt.Sprintf("0x%02x", s.DefaultAddress)
			}
			fmt.Fprintf(t.out, "  %-6s %6d registers of %2d bits, address %s\n", s.Name, s.Size, s.Wire.RegisterBits, addr)
		}
	}
	return nil
}

func scan(t *tool) error {
	found, err := chip.Scan(t.bus)
	for _, a := range found {
		fmt.Fprintf(t.out, "0x%02x\n", a)
	}
	if len(found) == 0 && err == nil {
		fmt.Fprintln(t.out, "No devices found")
	}
	return err
}

func info(t *tool) error {
	fmt.Fprintln(t.out, t.chip.Info())
	for _, ix := range t.chip.Indexers() {
		v, _ := t.chip.Indexer(ix.Name)
		fmt.Fprintf(t.out, "  %s=%d in [%d, %d)\n", ix.Name, v, ix.Min, ix.Max)
	}
	return nil
}

// printBlock prints the display values of block, marking those that differ
// from the last known device value.
func (t *tool) printBlock(space, block string) error {
	s, err := t.chip.Space(space)
	if err != nil {
		return err
	}
	ref, err := t.chip.Resolve(space, block, *fullArray)
	if err != nil {
		return err
	}
	addrs, err := s.Addresses(ref)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		t.printAddress(s, a)
	}
	return nil
}

func (t *tool) printAddress(s *addrspace.Space, a uint32) {
	v, err := s.DisplayAt(a)
	if err != nil {
		return
	}

	line := fmt.Sprintf("0x%04x %-28s %s", a, s.RegisterName(a), v.Format(s.Frame()))
	if s.IsReadOnly(a) {
		line += " ro"
	}

	mem, ok := s.MemoryAt(a)
	if ok && (!v.IsValid() || v.Uint64() != mem) {
		modifiedColor.Fprintf(t.out, "%s (device %s)\n", line, s.Frame().Format(mem))
		return
	}
	fmt.Fprintln(t.out, line)
}

func (t *tool) printRegister(space, block, reg string) error {
	v, err := t.chip.DisplayString(space, block, reg)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "%s/%s = %s\n", block, reg, v)
	return nil
}

func read(t *tool) error {
	switch len(t.args) {
	case 0:
		if err := t.chip.ReadAll(); err != nil {
			return err
		}
		return t.printSpaces()
	case 1:
		return errors.New("usage: read [<space> <block> [<register>]]")
	case 2:
		if err := t.chip.ReadBlock(t.args[0], t.args[1], *fullArray); err != nil {
			return err
		}
		return t.printBlock(t.args[0], t.args[1])
	}
	if err := t.chip.ReadRegister(t.args[0], t.args[1], t.args[2]); err != nil {
		return err
	}
	return t.printRegister(t.args[0], t.args[1], t.args[2])
}

func write(t *tool) error {
	if err := t.need(1, "write <space> [<block> [<register> [<value>]]]"); err != nil {
		return err
	}
	if err := t.loadConfig(); err != nil {
		return err
	}

	space := t.args[0]
	switch len(t.args) {
	case 1:
		s, err := t.chip.Space(space)
		if err != nil {
			return err
		}
		return s.WriteAll(*verify)
	case 2:
		return t.chip.WriteBlock(space, t.args[1], *fullArray, *verify)
	case 4:
		if err := t.chip.SetDisplayString(space, t.args[1], t.args[2], t.args[3]); err != nil {
			return err
		}
	}
	if err := t.chip.WriteRegister(space, t.args[1], t.args[2], *verify); err != nil {
		return err
	}
	return t.printRegister(space, t.args[1], t.args[2])
}

func get(t *tool) error {
	if err := t.need(2, "get <space> <block> [<register>]"); err != nil {
		return err
	}
	if err := t.loadConfig(); err != nil {
		return err
	}
	if len(t.args) == 2 {
		return t.printBlock(t.args[0], t.args[1])
	}
	return t.printRegister(t.args[0], t.args[1], t.args[2])
}

func set(t *tool) error {
	if err := t.need(4, "set <space> <block> <register> <value>"); err != nil {
		return err
	}
	if err := t.loadConfig(); err != nil {
		return err
	}
	space, block, reg := t.args[0], t.args[1], t.args[2]
	if err := t.chip.SetDisplayString(space, block, reg, t.args[3]); err != nil {
		return err
	}
	if err := t.chip.WriteRegister(space, block, reg, *verify); err != nil {
		return err
	}
	return t.printRegister(space, block, reg)
}

func (t *tool) printField(space, block, field string) error {
	v, err := t.chip.FieldString(space, block, field)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "%s = %s\n", field, v)
	return nil
}

func fieldGet(t *tool) error {
	if err := t.need(3, "field-get <space> <block> <field>"); err != nil {
		return err
	}
	if err := t.chip.ReadBlock(t.args[0], t.args[1], false); err != nil {
		return err
	}
	return t.printField(t.args[0], t.args[1], t.args[2])
}

// fieldSet reads the block first so the other bits of the registers keep
// their device values.
func fieldSet(t *tool) error {
	if err := t.need(4, "field-set <space> <block> <field> <value>"); err != nil {
		return err
	}
	space, block, field := t.args[0], t.args[1], t.args[2]
	if err := t.chip.ReadBlock(space, block, false); err != nil {
		return err
	}
	if err := t.chip.SetFieldString(space, block, field, t.args[3]); err != nil {
		return err
	}
	if err := t.chip.WriteBlock(space, block, false, *verify); err != nil {
		return err
	}
	return t.printField(space, block, field)
}

func (t *tool) printSpaces() error {
	for _, name := range t.chip.Spaces() {
		s, err := t.chip.Space(name)
		if err != nil {
			return err
		}
		if _, bound := s.Address(); !bound {
			fmt.Fprintf(t.out, "# %s: unbound\n", name)
			continue
		}
		fmt.Fprintf(t.out, "# %s: modified=%s\n", name, s.IsModified())
		for a := 0; a < s.Decl().Size; a++ {
			if s.IsDeclared(uint32(a)) {
				t.printAddress(s, uint32(a))
			}
		}
	}
	return nil
}

func dump(t *tool) error {
	if err := t.chip.ReadAll(); err != nil {
		return err
	}
	if err := t.loadConfig(); err != nil {
		return err
	}

	switch strings.ToLower(*format) {
	case "text":
		return t.printSpaces()
	case "yaml", "json":
		data, err := chip.MarshalConfig(t.chip.Config(), strings.EqualFold(*format, "json"))
		if err != nil {
			return err
		}
		_, err = t.out.Write(data)
		return errors.Trace(err)
	}
	return errors.NotSupportedf("format %q", *format)
}

func save(t *tool) error {
	if err := t.need(1, "save <file>"); err != nil {
		return err
	}
	if err := t.chip.ReadAll(); err != nil {
		return err
	}
	return t.chip.SaveConfig(t.args[0])
}

func load(t *tool) error {
	if err := t.need(1, "load <file>"); err != nil {
		return err
	}
	if err := t.chip.LoadConfig(t.args[0]); err != nil {
		return err
	}
	if err := t.chip.WriteAll(*verify); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "Wrote %s\n", t.args[0])
	return nil
}

// configLines renders the declared registers of cfg one per line.
func configLines(c *chip.Chip, cfg *chip.Config) string {
	var b strings.Builder
	for _, name := range c.Spaces() {
		s, err := c.Space(name)
		if err != nil {
			continue
		}
		values := cfg.Spaces[name]
		for a, v := range values {
			if s.IsDeclared(uint32(a)) {
				fmt.Fprintf(&b, "%s %s = %s\n", name, s.RegisterName(uint32(a)), s.Frame().Format(v))
			}
		}
	}
	return b.String()
}

func diff(t *tool) error {
	if err := t.need(1, "diff <file>"); err != nil {
		return err
	}
	saved, err := chip.ReadConfigFile(t.args[0])
	if err != nil {
		return err
	}
	if err := t.chip.CheckConfig(saved); err != nil {
		return err
	}
	if err := t.chip.ReadAll(); err != nil {
		return err
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(configLines(t.chip, saved), configLines(t.chip, t.chip.Config()))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	changed := 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			changed++
			for _, l := range splitLines(d.Text) {
				removedColor.Fprintf(t.out, "- %s\n", l)
			}
		case diffmatchpatch.DiffInsert:
			for _, l := range splitLines(d.Text) {
				addedColor.Fprintf(t.out, "+ %s\n", l)
			}
		}
	}
	if changed == 0 {
		fmt.Fprintf(t.out, "Device matches %s\n", t.args[0])
	}
	return nil
}

func splitLines(s string) []string {
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// parseHex accepts bytes as one string or separated by spaces, commas or
// colons. An argument naming an existing file is read instead.
func parseHex(args []string) ([]byte, error) {
	text := strings.Join(args, " ")
	if len(args) == 1 {
		if data, err := ioutil.ReadFile(args[0]); err == nil {
			text = string(data)
		}
	}
	text = strings.NewReplacer(" ", "", ",", "", ":", "", "\n", "", "\t", "", "0x", "").Replace(text)
	data, err := hex.DecodeString(text)
	return data, errors.Annotatef(err, "opcode stream")
}

func direct(t *tool) error {
	if err := t.need(1, "direct <hex opcode stream>"); err != nil {
		return err
	}
	stream, err := parseHex(t.args)
	if err != nil {
		return err
	}
	cmds, err := i2cmsg.Parse(stream)
	if err != nil {
		return err
	}

	var rx []byte
	if t.chip != nil {
		rx, err = t.chip.Direct(cmds)
	} else {
		rx, err = t.bus.Direct(cmds)
	}
	if err != nil {
		return err
	}

	reads, err := i2cmsg.Decode(cmds, rx)
	if err != nil {
		return err
	}
	for i, r := range reads {
		fmt.Fprintf(t.out, "read %d: %s\n", i, hex.EncodeToString(r))
	}
	return nil
}

func adc(t *tool) error {
	if !strings.EqualFold(t.chip.Definition().Name, ad5593r.Name) {
		return errors.NotSupportedf("adc on %s", t.chip.Definition().Name)
	}

	var channels []int
	for _, a := range t.args {
		ch, err := strconv.Atoi(a)
		if err != nil {
			return errors.Annotatef(err, "channel %q", a)
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		for ch := 0; ch < ad5593r.Channels; ch++ {
			channels = append(channels, ch)
		}
	}

	samples, err := ad5593r.ReadADCSequence(t.chip, channels)
	if err != nil {
		return err
	}
	for _, s := range samples {
		fmt.Fprintf(t.out, "ADC%d 0x%03x\n", s.Channel, s.Value)
	}
	return nil
}
