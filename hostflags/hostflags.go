// Package hostflags holds the command line plumbing shared by chiptool and
// chipserver: glog flag registration, environment fallbacks and opening a
// chip from the bus flags.
package hostflags

import (
	goflag "flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BertoldVdb/i2cregs/chip"
	"github.com/BertoldVdb/i2cregs/families"
	"github.com/BertoldVdb/i2cregs/regbus"
	"github.com/BertoldVdb/i2cregs/regerr"
	"github.com/BertoldVdb/i2cregs/regmap"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/BertoldVdb/i2cregs/transport/busopen"
	"github.com/BertoldVdb/i2cregs/transport/sim"
	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
)

var hiddenFlags = []string{
	"alsologtostderr",
	"log_backtrace_at",
	"log_dir",
	"logtostderr",
	"stderrthreshold",
	"v",
	"vmodule",
}

// Init adds the glog flags to fs and hides them from the usage text.
func Init(fs *flag.FlagSet) {
	fs.AddGoFlagSet(goflag.CommandLine)
	for _, f := range hiddenFlags {
		fs.MarkHidden(f)
	}
}

// Unhide makes the glog flags visible again.
func Unhide(fs *flag.FlagSet) {
	for _, name := range hiddenFlags {
		if f := fs.Lookup(name); f != nil {
			f.Hidden = false
		}
	}
}

// ParseEnv sets every flag of fs that was not given on the command line from
// the environment variable envPrefix + FLAG_NAME, if present. It must be
// called after fs.Parse.
//
// Derived from mongoose-os-mos common/pflagenv, Copyright (c) 2014-2019
// Cesanta Software Limited, licensed under the Apache License, Version 2.0.
func ParseEnv(fs *flag.FlagSet, envPrefix string) error {
	nonset := make(map[string]*flag.Flag)
	fs.VisitAll(func(f *flag.Flag) {
		nonset[f.Name] = f
	})
	fs.Visit(func(f *flag.Flag) {
		delete(nonset, f.Name)
	})

	var errs error
	for name, f := range nonset {
		v, ok := os.LookupEnv(EnvName(name, envPrefix))
		if !ok || v == "" {
			continue
		}
		if err := f.Value.Set(v); err != nil {
			errs = regerr.Append(errs, errors.Annotatef(err, "%s", EnvName(name, envPrefix)))
			continue
		}
		f.Changed = true
	}
	return errs
}

func EnvName(flagName, envPrefix string) string {
	return envPrefix + strings.Replace(strings.ToUpper(flagName), "-", "_", -1)
}

// CheckRequired returns an error listing every flag of names that was not set.
func CheckRequired(fs *flag.FlagSet, names []string) error {
	var errs error
	for _, req := range names {
		f := fs.Lookup(req)
		if f == nil {
			errs = regerr.Append(errs, errors.Errorf("--%s is required", req))
		} else if !f.Changed {
			errs = regerr.Append(errs, errors.Errorf("--%s is required\t\t%s", f.Name, f.Usage))
		}
	}
	return errors.Trace(errs)
}

// ParseAddresses parses "space=0x60,space2=0x61" into a map. A bare address
// applies to the space named def.
func ParseAddresses(s string, def string) (map[string]uint16, error) {
	result := make(map[string]uint16)
	for _, item := range splitList(s) {
		name, value := def, item
		if kv := strings.SplitN(item, "=", 2); len(kv) == 2 {
			name, value = kv[0], kv[1]
		}
		if name == "" {
			return nil, errors.Errorf("address %q names no space", item)
		}
		a, err := strconv.ParseUint(value, 0, 16)
		if err != nil || !transport.ValidDeviceAddress(uint16(a)) {
			return nil, errors.Errorf("invalid I2C address %q", value)
		}
		result[name] = uint16(a)
	}
	return result, nil
}

// ParseIndexers parses "row=3,col=4".
func ParseIndexers(s string) (map[string]int, error) {
	result := make(map[string]int)
	for _, item := range splitList(s) {
		kv := strings.SplitN(item, "=", 2)
		if len(kv) != 2 {
			return nil, errors.Errorf("invalid indexer %q, expected name=value", item)
		}
		v, err := strconv.ParseInt(kv[1], 0, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "indexer %s", kv[0])
		}
		result[kv[0]] = int(v)
	}
	return result, nil
}

func splitList(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// simAddresses gives every space without an address a free one, counting up
// from 0x60.
func simAddresses(spaces []regmap.AddressSpace, addrs map[string]uint16) {
	used := make(map[uint16]bool)
	for i := range spaces {
		if a, ok := addrs[spaces[i].Name]; ok {
			used[a] = true
		} else if spaces[i].DefaultAddress != 0 {
			used[spaces[i].DefaultAddress] = true
		}
	}

	next := uint16(0x60)
	for i := range spaces {
		s := &spaces[i]
		if _, ok := addrs[s.Name]; ok || s.DefaultAddress != 0 {
			continue
		}
		for used[next] {
			next++
		}
		addrs[s.Name] = next
		used[next] = true
	}
}

// Bus collects the flags that select a chip and its transport.
type Bus struct {
	Path      string
	Family    string
	Addresses string
	Indexers  string
	MaxChunk  int
	MinDelay  time.Duration
	Retries   int
	SwapAddr  bool
	Broadcast bool
}

// Register adds the bus flags to fs.
func (b *Bus) Register(fs *flag.FlagSet) {
	fs.StringVar(&b.Path, "bus", "sim", "Transport path:\n"+busopen.Usage)
	fs.StringVar(&b.Family, "chip", "", fmt.Sprintf("Chip family (%s) or register map YAML file", strings.Join(families.Names(), ", ")))
	fs.StringVar(&b.Addresses, "i2c-addr", "", "I2C address per space, e.g. main=0x60,ws=0x40")
	fs.StringVar(&b.Indexers, "index", "", "Indexer values, e.g. row=3,col=4")
	fs.IntVar(&b.MaxChunk, "max-chunk", 0, "Maximum payload bytes per transaction, 0 uses the transport limit")
	fs.DurationVar(&b.MinDelay, "min-delay", 0, "Minimum delay between transactions")
	fs.IntVar(&b.Retries, "retries", 0, "Number of times a failed transaction is repeated")
	fs.BoolVar(&b.SwapAddr, "swap-addr", false, "Byte-swap 16-bit memory addresses on the wire")
	fs.BoolVar(&b.Broadcast, "broadcast", false, "Write indexed blocks to every instance at once")
}

// Open builds the chip described by the flags. On the simulated bus every
// space gets a simulated device at its address.
func (b *Bus) Open(sink regerr.Sink) (*chip.Chip, error) {
	if b.Family == "" {
		return nil, errors.New("no chip family given")
	}
	def, err := families.Lookup(b.Family)
	if err != nil {
		return nil, errors.Trace(err)
	}

	def0 := ""
	if len(def.Spaces) > 0 {
		def0 = def.Spaces[0].Name
	}
	addrs, err := ParseAddresses(b.Addresses, def0)
	if err != nil {
		return nil, err
	}
	indexers, err := ParseIndexers(b.Indexers)
	if err != nil {
		return nil, err
	}

	t, err := busopen.Open(b.Path, transport.Options{SwapAddress: b.SwapAddr})
	if err != nil {
		return nil, err
	}
	if s, ok := t.(*sim.Bus); ok {
		simAddresses(def.Spaces, addrs)
		if err := chip.Simulate(def, s, addrs); err != nil {
			t.Close()
			return nil, errors.Trace(err)
		}
	}

	opts := []chip.Option{chip.WithBusConfig(regbus.Config{
		MaxChunkBytes: b.MaxChunk,
		MinDelay:      b.MinDelay,
		Retries:       b.Retries,
	})}
	if sink != nil {
		opts = append(opts, chip.WithSink(sink))
	}

	c, err := chip.New(def, t, opts...)
	if err != nil {
		t.Close()
		return nil, err
	}

	names := make([]string, 0, len(addrs))
	for name := range addrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.BindI2C(name, addrs[name]); err != nil {
			c.Close()
			return nil, errors.Annotatef(err, "bind %s", name)
		}
	}
	for name, v := range indexers {
		if err := c.SetIndexer(name, v); err != nil {
			c.Close()
			return nil, err
		}
	}
	c.SetBroadcast(b.Broadcast)

	glog.Infof("Opened %s on %s", c.Info(), b.Path)
	return c, nil
}
