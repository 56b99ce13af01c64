// Package families looks up the built-in chip register maps by name.
package families

import (
	"sort"
	"strings"

	"github.com/BertoldVdb/i2cregs/families/ad5593r"
	"github.com/BertoldVdb/i2cregs/families/etroc1"
	"github.com/BertoldVdb/i2cregs/families/etroc2"
	"github.com/BertoldVdb/i2cregs/regmap"
	"github.com/juju/errors"
)

var registry = map[string]func() *regmap.Chip{
	etroc1.Name:  etroc1.Map,
	etroc2.Name:  etroc2.Map,
	ad5593r.Name: ad5593r.Map,
}

// Names lists the built-in families.
func Names() []string {
	var names []string
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns a fresh register map of the named family. Names are case
// insensitive. A name ending in .yaml or .yml is loaded from that file.
func Lookup(name string) (*regmap.Chip, error) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return regmap.LoadYAML(name)
	}

	for n, m := range registry {
		if strings.EqualFold(n, name) {
			return m(), nil
		}
	}
	return nil, errors.NotFoundf("chip family %q (known: %s)", name, strings.Join(Names(), ", "))
}
