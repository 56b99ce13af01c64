package families

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/BertoldVdb/i2cregs/chip"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/BertoldVdb/i2cregs/transport/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinMapsAreValid(t *testing.T) {
	for _, name := range Names() {
		def, err := Lookup(name)
		require.NoError(t, err, name)
		assert.NoError(t, def.Validate(), name)

		bus := sim.New(transport.Options{})
		addrs := map[string]uint16{}
		for i, s := range def.Spaces {
			addrs[s.Name] = uint16(0x50 + i)
		}
		require.NoError(t, chip.Simulate(def, bus, addrs), name)

		c, err := chip.New(def, bus)
		require.NoError(t, err, name)
		for space, addr := range addrs {
			require.NoError(t, c.BindI2C(space, addr))
		}

		// A device holding the defaults reads back unmodified.
		require.NoError(t, c.ReadAll(), name)
		for _, space := range c.Spaces() {
			st, err := c.IsModified(space)
			require.NoError(t, err)
			assert.Equal(t, "false", st.String(), "%s %s", name, space)
		}
	}
}

func TestLookup(t *testing.T) {
	assert.Equal(t, []string{"AD5593R", "ETROC1", "ETROC2"}, Names())

	def, err := Lookup("etroc2")
	require.NoError(t, err)
	assert.Equal(t, "ETROC2", def.Name)

	_, err = Lookup("etroc3")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(`
chip: CUSTOM
version: "0.1"
spaces:
  - name: main
    size: 16
    address_bits: 8
    blocks:
      - name: B
        base: 0
        registers:
          - {name: R0, offset: 0, default: 5}
`), 0644))
	def, err = Lookup(path)
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM", def.Name)
}
