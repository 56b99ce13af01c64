package chip

import (
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BertoldVdb/i2cregs/regerr"
	"github.com/juju/errors"
	goversion "github.com/mcuadros/go-version"
	yaml "gopkg.in/yaml.v2"
)

// Config is a saved set of display values, one value per register address
// of each space.
type Config struct {
	Chip    string              `yaml:"chip" json:"chip"`
	Version string              `yaml:"version" json:"version"`
	Spaces  map[string][]uint64 `yaml:"spaces" json:"spaces"`
}

// Config captures the display values of every space.
func (c *Chip) Config() *Config {
	cfg := &Config{
		Chip:    c.def.Name,
		Version: c.def.Version,
		Spaces:  make(map[string][]uint64),
	}
	for _, name := range c.order {
		cfg.Spaces[name] = c.spaces[name].Snapshot()
	}
	return cfg
}

var numericVersion = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// sameVersion compares numeric versions after normalisation, so "1.2"
// matches "1.2.0". Anything else must match exactly: go-version treats all
// non-numeric strings as equal.
func sameVersion(a, b string) bool {
	if numericVersion.MatchString(a) && numericVersion.MatchString(b) {
		return goversion.Compare(a, b, "==")
	}
	return a == b
}

// CheckConfig reports whether cfg can be applied to this chip.
func (c *Chip) CheckConfig(cfg *Config) error {
	if cfg.Chip != c.def.Name {
		return &regerr.IncompatibleConfigError{Field: "chip", Want: c.def.Name, Got: cfg.Chip}
	}
	if !sameVersion(cfg.Version, c.def.Version) {
		return &regerr.IncompatibleConfigError{Field: "version", Want: c.def.Version, Got: cfg.Version}
	}

	for name, values := range cfg.Spaces {
		s, ok := c.spaces[name]
		if !ok {
			return &regerr.IncompatibleConfigError{Field: "space", Want: strings.Join(c.order, ","), Got: name}
		}
		if err := s.CheckSnapshot(values); err != nil {
			return errors.Wrap(err, &regerr.IncompatibleConfigError{Field: "space " + name, Want: "valid register values", Got: err.Error()})
		}
	}
	return nil
}

// ApplyConfig loads the display values of cfg. Nothing changes when cfg
// does not belong to this chip. No bus traffic is generated.
func (c *Chip) ApplyConfig(cfg *Config) error {
	if err := c.CheckConfig(cfg); err != nil {
		return err
	}
	for name, values := range cfg.Spaces {
		if err := c.spaces[name].LoadDisplay(values); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// MarshalConfig encodes cfg as JSON or YAML.
func MarshalConfig(cfg *Config, asJSON bool) ([]byte, error) {
	if asJSON {
		data, err := json.MarshalIndent(cfg, "", "  ")
		return data, errors.Trace(err)
	}
	data, err := yaml.Marshal(cfg)
	return data, errors.Trace(err)
}

func UnmarshalConfig(data []byte, asJSON bool) (*Config, error) {
	cfg := &Config{}
	var err error
	if asJSON {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.UnmarshalStrict(data, cfg)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "parse config")
	}
	return cfg, nil
}

// ReadConfigFile loads a config saved by SaveConfig. Files ending in .json
// are JSON, everything else YAML.
func ReadConfigFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cfg, err := UnmarshalConfig(data, isJSON(path))
	return cfg, errors.Annotatef(err, "%s", path)
}

func (c *Chip) SaveConfig(path string) error {
	data, err := MarshalConfig(c.Config(), isJSON(path))
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return errors.Trace(err)
	}
	c.sink.Infof("Saved %s configuration to %s", c.def.Name, path)
	return nil
}

func (c *Chip) LoadConfig(path string) error {
	cfg, err := ReadConfigFile(path)
	if err != nil {
		c.sink.Report(err)
		return err
	}
	if err := c.ApplyConfig(cfg); err != nil {
		c.sink.Report(err)
		return err
	}
	c.sink.Infof("Loaded %s configuration from %s", c.def.Name, path)
	return nil
}
