package main

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/BertoldVdb/i2cregs/chip"
	"github.com/BertoldVdb/i2cregs/families/ad5593r"
	"github.com/BertoldVdb/i2cregs/families/etroc2"
	"github.com/BertoldVdb/i2cregs/hostflags"
	"github.com/BertoldVdb/i2cregs/regerr"
	"github.com/BertoldVdb/i2cregs/transport/sim"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

type testTool struct {
	*tool
	buf *bytes.Buffer
}

func newTool(t *testing.T, family string, args ...string) *testTool {
	*verify = false
	*fullArray = false
	*configFile = ""
	*format = "text"
	busFlags = hostflags.Bus{Path: "sim", Family: family}

	buf := &bytes.Buffer{}
	tl, err := openTool(&command{name: "test", needsChip: family != ""}, args, buf)
	require.NoError(t, err)
	t.Cleanup(func() { tl.Close() })
	return &testTool{tool: tl, buf: buf}
}

// again reuses the chip and bus for the next command.
func (tt *testTool) again(args ...string) *testTool {
	tt.args = args
	tt.buf.Reset()
	return tt
}

func (tt *testTool) sim() *sim.Bus {
	return tt.bus.Transport().(*sim.Bus)
}

func TestFamilies(t *testing.T) {
	tt := newTool(t, "")
	require.NoError(t, listFamilies(tt.tool))
	out := tt.buf.String()
	assert.Contains(t, out, "ETROC2 version 2.0")
	assert.Contains(t, out, "AD5593R version 1.0")
	assert.Contains(t, out, "address 0x10")
}

func TestScan(t *testing.T) {
	tt := newTool(t, "")
	require.NoError(t, scan(tt.tool))
	assert.Equal(t, "No devices found\n", tt.buf.String())

	tt = newTool(t, "ad5593r")
	require.NoError(t, scan(tt.tool))
	assert.Equal(t, "0x10\n", tt.buf.String())
}

func TestSetAndRead(t *testing.T) {
	tt := newTool(t, "etroc2", "main", "PeriCfg", "PeriCfg3", "0x55")
	*verify = true
	require.NoError(t, set(tt.tool))
	assert.Equal(t, "PeriCfg/PeriCfg3 = 55\n", tt.buf.String())
	assert.Equal(t, []byte{0x55}, tt.sim().Devices[0x60].Register(3))

	require.NoError(t, read(tt.again("main", "PeriCfg", "PeriCfg3").tool))
	assert.Equal(t, "PeriCfg/PeriCfg3 = 55\n", tt.buf.String())

	require.NoError(t, read(tt.again("main", "PeriSta").tool))
	assert.Contains(t, tt.buf.String(), "PeriSta/PeriSta0")
	assert.Contains(t, tt.buf.String(), " ro\n")

	err := set(tt.again("main", "PeriSta", "PeriSta0", "1").tool)
	assert.Equal(t, regerr.KindReadOnly, regerr.KindOf(err))
}

func TestFieldCommands(t *testing.T) {
	tt := newTool(t, "etroc2", "main", "PixCfg", "DAC", "0x3ff")
	require.NoError(t, fieldSet(tt.tool))
	assert.Equal(t, "DAC = 3ff\n", tt.buf.String())

	dev := tt.sim().Devices[0x60]
	assert.Equal(t, []byte{0xff}, dev.Register(etroc2.PixelAddress(etroc2.PixelConfigBase, 0, 0, 3)))

	dev.SetRegister(etroc2.PixelAddress(etroc2.PixelConfigBase, 0, 0, 3), []byte{0x12})
	require.NoError(t, fieldGet(tt.again("main", "PixCfg", "DAC").tool))
	assert.Equal(t, "DAC = 312\n", tt.buf.String())
}

func TestSaveDiffLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "chiptool")
	require.NoError(t, err)
	path := filepath.Join(dir, "etroc1.yaml")

	tt := newTool(t, "etroc1", path)
	require.NoError(t, save(tt.tool))

	require.NoError(t, diff(tt.again(path).tool))
	assert.Equal(t, "Device matches "+path+"\n", tt.buf.String())

	dev := tt.sim().Devices[0x60]
	dev.SetRegister(0x21, []byte{0x5a})
	require.NoError(t, diff(tt.again(path).tool))
	assert.Contains(t, tt.buf.String(), "- main RegB/RegB1 = ")
	assert.Contains(t, tt.buf.String(), "+ main RegB/RegB1 = 5a\n")

	*verify = true
	require.NoError(t, load(tt.again(path).tool))
	assert.NotEqual(t, []byte{0x5a}, dev.Register(0x21))

	require.NoError(t, diff(tt.again(path).tool))
	assert.Equal(t, "Device matches "+path+"\n", tt.buf.String())
}

func TestDumpMarksConfigDifferences(t *testing.T) {
	dir, err := ioutil.TempDir("", "chiptool")
	require.NoError(t, err)
	path := filepath.Join(dir, "cfg.json")

	tt := newTool(t, "etroc1")
	cfg := tt.chip.Config()
	cfg.Spaces["main"][0] = 0x01
	data, err := chip.MarshalConfig(cfg, true)
	require.NoError(t, err)
	require.NoError(t, ioutil.WriteFile(path, data, 0644))

	*configFile = path
	require.NoError(t, dump(tt.tool))
	out := tt.buf.String()
	assert.Contains(t, out, "# main: modified=true\n")
	assert.Contains(t, out, "RegA/RegA0")
	assert.Contains(t, out, "01 (device f8)\n")

	*format = "json"
	require.NoError(t, dump(tt.again().tool))
	assert.Contains(t, tt.buf.String(), `"chip": "ETROC1"`)

	*format = "xml"
	assert.Error(t, dump(tt.again().tool))
}

func TestGetUsesConfigWithoutTraffic(t *testing.T) {
	tt := newTool(t, "etroc1", "main", "RegA", "RegA0")
	tt.sim().ClearLog()

	require.NoError(t, get(tt.tool))
	assert.Equal(t, "RegA/RegA0 = f8\n", tt.buf.String())
	assert.Empty(t, tt.sim().Log)
}

func TestDirect(t *testing.T) {
	tt := newTool(t, "etroc1", "01 31 c0 00", "02,30,c1", "0x21 03")
	require.NoError(t, direct(tt.tool))
	assert.Equal(t, "read 0: f837\n", tt.buf.String())

	assert.Error(t, direct(tt.again("zz").tool))
	assert.Error(t, direct(tt.again().tool))
}

func TestADC(t *testing.T) {
	tt := newTool(t, "ad5593r", "1", "3")
	dev := tt.sim().Devices[ad5593r.DefaultAddress]
	dev.SetRegister(0x40, []byte{0x1a, 0xbc})
	dev.SetRegister(0x41, []byte{0x3d, 0xef})

	require.NoError(t, adc(tt.tool))
	assert.Equal(t, "ADC1 0xabc\nADC3 0xdef\n", tt.buf.String())

	tt = newTool(t, "etroc1")
	err := adc(tt.tool)
	assert.Equal(t, regerr.KindNotSupported, regerr.KindOf(err))
}

func TestUsageErrors(t *testing.T) {
	tt := newTool(t, "etroc1")
	for _, h := range []handler{write, get, set, fieldGet, fieldSet, save, load, diff} {
		assert.Error(t, h(tt.again().tool))
	}
	assert.Error(t, read(tt.again("main").tool))
}
