package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BertoldVdb/i2cregs/chip"
	"github.com/BertoldVdb/i2cregs/regbus"
	"github.com/BertoldVdb/i2cregs/regerr"
	"github.com/BertoldVdb/i2cregs/regmap"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/BertoldVdb/i2cregs/transport/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devAddr = 0x50

func testMap() *regmap.Chip {
	return &regmap.Chip{
		Name:    "APITEST",
		Version: "1.0",
		Spaces: []regmap.AddressSpace{
			{
				Name: "main",
				Size: 0x20,
				Wire: regbus.Frame{AddressBits: 8, RegisterBits: 8},
				Blocks: []regmap.Block{
					{Name: "Cfg", Base: 0x00, Registers: regmap.Numbered("Cfg", 4, 0x12, 0x34)},
					{Name: "Sta", Base: 0x10, Registers: regmap.ReadOnly(regmap.Numbered("Sta", 2))},
					{
						Name:      "Pix",
						Indexers:  []regmap.Indexer{{Name: "row", Min: 0, Max: 2}},
						Addresser: regmap.LinearAddresser(0x18, 2),
						Registers: regmap.Numbered("Pix", 2, 0x05),
					},
				},
				Fields: []regmap.Field{
					regmap.In("mode", "Cfg", "Cfg0", "7-4"),
				},
				DefaultAddress: devAddr,
			},
			{
				Name: "aux",
				Size: 0x04,
				Wire: regbus.Frame{AddressBits: 8, RegisterBits: 8},
				Blocks: []regmap.Block{
					{Name: "A", Base: 0x00, Registers: regmap.Numbered("A", 4)},
				},
			},
		},
	}
}

type fixture struct {
	api *API
	bus *sim.Bus
}

func newFixture(t *testing.T) *fixture {
	def := testMap()
	bus := sim.New(transport.Options{})
	bus.Attach(devAddr, chip.SimDevice(&def.Spaces[0]))

	c, err := chip.New(def, bus, chip.WithSink(func(regerr.Message) {}))
	require.NoError(t, err)

	a, err := New(c)
	require.NoError(t, err)
	return &fixture{api: a, bus: bus}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", ctJSON)
	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestInfo(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info InfoResponse
	decode(t, rec, &info)
	assert.Equal(t, "APITEST", info.Name)
	require.Len(t, info.Spaces, 2)
	assert.True(t, info.Spaces[0].Bound)
	assert.False(t, info.Spaces[1].Bound)
	assert.Equal(t, map[string]int{"row": 0}, info.Indexers)

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, "POST", "/info", nil).Code)
}

func TestReadWriteRegister(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/read", &Request{Space: "main", Block: "Cfg", Register: "Cfg0"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rsp Response
	decode(t, rec, &rsp)
	assert.Equal(t, "12", rsp.Value)

	rec = f.do(t, "POST", "/write", &Request{Space: "main", Block: "Cfg", Register: "Cfg1", Value: "0xab", Verify: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &rsp)
	assert.Equal(t, "ab", rsp.Value)
	assert.Equal(t, []byte{0xab}, f.bus.Devices[devAddr].Register(1))
}

func TestReadBlockWithIndexers(t *testing.T) {
	f := newFixture(t)
	f.bus.Devices[devAddr].SetRegister(0x1b, []byte{0x77})

	rec := f.do(t, "POST", "/read", &Request{Space: "main", Block: "Pix", Indexers: map[string]int{"row": 1}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rsp Response
	decode(t, rec, &rsp)
	assert.Equal(t, map[string]string{"Pix:1/Pix0": "05", "Pix:1/Pix1": "77"}, rsp.Values)

	rec = f.do(t, "POST", "/read", &Request{Space: "main", Block: "Pix", Indexers: map[string]int{"row": 2}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var e ErrorResponse
	decode(t, rec, &e)
	assert.Equal(t, "invalid-indexer", e.Kind)
}

func TestErrorKinds(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		path   string
		req    *Request
		status int
		kind   string
	}{
		{"/write", &Request{Space: "main", Block: "Sta", Register: "Sta0"}, http.StatusForbidden, "read-only"},
		{"/read", &Request{Space: "aux", Block: "A", Register: "A0"}, http.StatusConflict, "unbound"},
		{"/write", &Request{Space: "main", Block: "Cfg", Register: "Cfg0", Value: "0x"}, http.StatusBadRequest, "invalid-value"},
		{"/read", &Request{Space: "main", Block: "Nope"}, http.StatusNotFound, "other"},
		{"/field", &Request{Space: "main", Field: "mode"}, http.StatusBadRequest, "other"},
	}
	for _, c := range cases {
		rec := f.do(t, "POST", c.path, c.req)
		assert.Equalf(t, c.status, rec.Code, "%s %+v: %s", c.path, c.req, rec.Body.String())

		var e ErrorResponse
		decode(t, rec, &e)
		assert.Equal(t, c.kind, e.Kind)
	}
}

func TestVerifyMismatchListsAddresses(t *testing.T) {
	f := newFixture(t)
	f.bus.Devices[devAddr].Stuck[2] = []byte{0x00}

	rec := f.do(t, "POST", "/write", &Request{Space: "main", Block: "Cfg", Register: "Cfg2", Value: "0x5a", Verify: true})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var e ErrorResponse
	decode(t, rec, &e)
	assert.Equal(t, "verify-mismatch", e.Kind)
	assert.Equal(t, []uint32{2}, e.Addresses)
}

func TestFieldAndModified(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/read", &Request{}).Code)

	var rsp Response
	decode(t, f.do(t, "GET", "/modified?space=main", nil), &rsp)
	assert.Equal(t, map[string]string{"main": "false"}, rsp.Modified)

	rec := f.do(t, "POST", "/field", &Request{Space: "main", Block: "Cfg", Field: "mode"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &rsp)
	assert.Equal(t, "1", rsp.Value)

	rec = f.do(t, "POST", "/field", &Request{Space: "main", Block: "Cfg", Field: "mode", Value: "0xf"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, "POST", "/display", &Request{Space: "main", Block: "Cfg", Register: "Cfg0"})
	rsp = Response{}
	decode(t, rec, &rsp)
	assert.Equal(t, "f2", rsp.Value)

	rsp = Response{}
	decode(t, f.do(t, "GET", "/modified", nil), &rsp)
	assert.Equal(t, map[string]string{"main": "true", "aux": "unknown"}, rsp.Modified)

	require.Equal(t, http.StatusOK, f.do(t, "POST", "/revert", nil).Code)
	rsp = Response{}
	decode(t, f.do(t, "GET", "/modified?space=main", nil), &rsp)
	assert.Equal(t, map[string]string{"main": "false"}, rsp.Modified)
}

func TestFieldWrite(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/write", &Request{Space: "main", Block: "Cfg", Field: "mode", Value: "9"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []byte{0x92}, f.bus.Devices[devAddr].Register(0))
}

func TestConfig(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/config?format=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ctJSON, rec.Header().Get("Content-Type"))

	cfg, err := chip.UnmarshalConfig(rec.Body.Bytes(), true)
	require.NoError(t, err)
	assert.Equal(t, "APITEST", cfg.Chip)
	require.Len(t, cfg.Spaces["main"], 0x20)
	assert.Equal(t, uint64(0x34), cfg.Spaces["main"][1])

	cfg.Spaces["main"][1] = 0x99
	f.do(t, "POST", "/reset", nil)
	rec = f.do(t, "POST", "/config?write=1", cfg)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []byte{0x99}, f.bus.Devices[devAddr].Register(1))

	cfg.Chip = "OTHER"
	rec = f.do(t, "POST", "/config", cfg)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, "GET", "/config?format=yaml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ctYAML, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "chip: APITEST")
}

func (f *fixture) doAs(t *testing.T, scope Scope, method, path string, body interface{}) *httptest.ResponseRecorder {
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req = req.WithContext(WithScope(req.Context(), scope))
	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	return rec
}

func TestReadScope(t *testing.T) {
	f := newFixture(t)

	allowed := []struct {
		method, path string
		body         interface{}
	}{
		{"GET", "/info", nil},
		{"POST", "/read", &Request{Space: "main", Block: "Cfg"}},
		{"POST", "/display", &Request{Space: "main", Block: "Cfg", Register: "Cfg0"}},
		{"POST", "/field", &Request{Space: "main", Block: "Cfg", Field: "mode"}},
		{"GET", "/modified", nil},
		{"GET", "/config", nil},
	}
	for _, c := range allowed {
		rec := f.doAs(t, ScopeRead, c.method, c.path, c.body)
		assert.Equal(t, http.StatusOK, rec.Code, "%s %s", c.path, rec.Body.String())
	}

	denied := []struct {
		method, path string
		body         interface{}
	}{
		{"POST", "/write", &Request{Space: "main", Block: "Cfg", Register: "Cfg0", Value: "0x55"}},
		{"POST", "/display", &Request{Space: "main", Block: "Cfg", Register: "Cfg0", Value: "0x55"}},
		{"POST", "/field", &Request{Space: "main", Block: "Cfg", Field: "mode", Value: "3"}},
		{"POST", "/reset", nil},
		{"POST", "/revert", nil},
		{"POST", "/config?write=1", nil},
	}
	for _, c := range denied {
		rec := f.doAs(t, ScopeRead, c.method, c.path, c.body)
		require.Equal(t, http.StatusForbidden, rec.Code, c.path)
		var e ErrorResponse
		decode(t, rec, &e)
		assert.Equal(t, "forbidden", e.Kind, c.path)
	}

	v, _ := f.api.chip.Display("main", "Cfg", "Cfg0")
	assert.Equal(t, uint64(0x12), v.Uint64())
	assert.Empty(t, f.bus.Writes())

	rec := f.doAs(t, ScopeWrite, "POST", "/write", &Request{Space: "main", Block: "Cfg", Register: "Cfg0", Value: "0x55"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []byte{0x55}, f.bus.Devices[devAddr].Register(0))
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("RO")
	require.NoError(t, err)
	assert.Equal(t, ScopeRead, s)
	s, err = ParseScope("write")
	require.NoError(t, err)
	assert.Equal(t, "write", s.String())
	_, err = ParseScope("admin")
	assert.Error(t, err)
}
