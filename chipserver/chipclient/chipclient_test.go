package chipclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BertoldVdb/i2cregs/chip"
	"github.com/BertoldVdb/i2cregs/chipserver/api"
	"github.com/BertoldVdb/i2cregs/families/ad5593r"
	"github.com/BertoldVdb/i2cregs/regerr"
	"github.com/BertoldVdb/i2cregs/transport"
	"github.com/BertoldVdb/i2cregs/transport/sim"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, wrap func(http.Handler) http.Handler) (*httptest.Server, *sim.Bus) {
	bus := sim.New(transport.Options{})
	require.NoError(t, chip.Simulate(ad5593r.Map(), bus, nil))

	c, err := chip.New(ad5593r.Map(), bus, chip.WithSink(func(regerr.Message) {}))
	require.NoError(t, err)
	a, err := api.New(c)
	require.NoError(t, err)

	var h http.Handler = a
	if wrap != nil {
		h = wrap(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, bus
}

func TestClient(t *testing.T) {
	srv, bus := newServer(t, nil)

	c, err := New(srv.URL + "/")
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, ad5593r.Name, c.Info().Name)
	require.Len(t, c.Info().Spaces, 1)
	assert.Equal(t, uint16(ad5593r.DefaultAddress), c.Info().Spaces[0].Address)

	rsp, err := c.Write(&api.Request{Space: "main", Block: "DAC", Register: "DAC0", Value: "0x0123", Verify: true})
	require.NoError(t, err)
	assert.Equal(t, "0123", rsp.Value)
	assert.Equal(t, []byte{0x01, 0x23}, bus.Devices[ad5593r.DefaultAddress].Register(0x50))

	rsp, err = c.Read(&api.Request{Space: "main", Block: "DAC", Register: "DAC0"})
	require.NoError(t, err)
	assert.Equal(t, "0123", rsp.Value)

	modified, err := c.Modified()
	require.NoError(t, err)
	assert.Equal(t, "false", modified["main"])
}

func TestClientErrors(t *testing.T) {
	srv, _ := newServer(t, nil)
	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Write(&api.Request{Space: "main", Block: "Config", Register: "GPIO_INPUT"})
	require.Error(t, err)

	e, ok := errors.Cause(err).(*Error)
	require.True(t, ok, "%v", err)
	assert.Equal(t, http.StatusForbidden, e.Status)
	assert.Equal(t, "read-only", e.Response.Kind)

	_, err = New(srv.URL + "/nothing")
	assert.Error(t, err)
}

func TestClientConfig(t *testing.T) {
	srv, bus := newServer(t, nil)
	c, err := New(srv.URL)
	require.NoError(t, err)

	cfg, err := c.Config()
	require.NoError(t, err)
	assert.Equal(t, ad5593r.Name, cfg.Chip)

	cfg.Spaces["main"][0x50+1] = 0x0456
	require.NoError(t, c.ApplyConfig(cfg, true, true))
	assert.Equal(t, []byte{0x04, 0x56}, bus.Devices[ad5593r.DefaultAddress].Register(0x50+1))

	require.NoError(t, c.Reset())
	modified, err := c.Modified()
	require.NoError(t, err)
	assert.Equal(t, "true", modified["main"])

	require.NoError(t, c.Revert())
	modified, err = c.Modified()
	require.NoError(t, err)
	assert.Equal(t, "false", modified["main"])
}

func TestClientAuth(t *testing.T) {
	srv, _ := newServer(t, func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user, pass, ok := r.BasicAuth(); !ok || user != "u" || pass != "p" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h.ServeHTTP(w, r)
		})
	})

	_, err := New(srv.URL)
	require.Error(t, err)
	e, ok := errors.Cause(err).(*Error)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, e.Status)
	assert.Equal(t, "Unauthorized", e.Error())

	_, err = New(srv.URL, WithAuth("u", "p"))
	assert.NoError(t, err)
}
