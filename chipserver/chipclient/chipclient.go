// Package chipclient talks to a chipserver.
package chipclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/BertoldVdb/i2cregs/chip"
	"github.com/BertoldVdb/i2cregs/chipserver/api"
	"github.com/BertoldVdb/i2cregs/chipserver/discovery"
	"github.com/juju/errors"
)

type Client struct {
	client http.Client
	url    string

	user, pass string

	info api.InfoResponse
}

type Option func(c *Client)

// WithAuth sets the basic auth credentials printed by chipserver.
func WithAuth(user, pass string) Option {
	return func(c *Client) {
		c.user = user
		c.pass = pass
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// New connects to the server at url and fetches its info.
func New(url string, opts ...Option) (*Client, error) {
	c := &Client{
		client: http.Client{
			Timeout: 10 * time.Second,
		},

		url: strings.TrimSuffix(url, "/"),
	}
	for _, o := range opts {
		o(c)
	}

	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// Discover finds a server over mDNS and connects to it.
func Discover(ctx context.Context, filter string, opts ...Option) (*Client, error) {
	s, err := discovery.Discover(ctx, filter)
	if err != nil {
		return nil, err
	}
	return New(s.URL(), opts...)
}

// Error is an error response of the server.
type Error struct {
	Status   int
	Response api.ErrorResponse
}

func (e *Error) Error() string {
	if e.Response.Error == "" {
		return http.StatusText(e.Status)
	}
	if e.Response.Kind == "" {
		return e.Response.Error
	}
	return e.Response.Kind + ": " + e.Response.Error
}

func (c *Client) doReq(method string, endpoint string, contentType string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewBuffer(body)
	}

	req, err := http.NewRequest(method, c.url+"/"+endpoint, rdr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Trace(err)
	}

	if resp.StatusCode != http.StatusOK {
		e := &Error{Status: resp.StatusCode}
		if json.Unmarshal(data, &e.Response) != nil {
			e.Response = api.ErrorResponse{Error: strings.TrimSpace(string(data))}
		}
		return nil, e
	}
	return data, nil
}

func (c *Client) call(endpoint string, req *api.Request) (*api.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data, err := c.doReq("POST", endpoint, "application/json", body)
	if err != nil {
		return nil, errors.Annotatef(err, "%s", endpoint)
	}

	rsp := &api.Response{}
	if err := json.Unmarshal(data, rsp); err != nil {
		return nil, errors.Annotatef(err, "%s response", endpoint)
	}
	return rsp, nil
}

// Refresh updates the cached chip info.
func (c *Client) Refresh() error {
	data, err := c.doReq("GET", "info", "", nil)
	if err != nil {
		return errors.Annotatef(err, "info")
	}
	return errors.Trace(json.Unmarshal(data, &c.info))
}

func (c *Client) Info() chip.Info {
	return c.info.Info
}

func (c *Client) Indexers() map[string]int {
	return c.info.Indexers
}

// Read reads a register, a block, or everything when both are empty, and
// returns the resulting display values.
func (c *Client) Read(req *api.Request) (*api.Response, error) {
	return c.call("read", req)
}

func (c *Client) Write(req *api.Request) (*api.Response, error) {
	return c.call("write", req)
}

func (c *Client) Display(req *api.Request) (*api.Response, error) {
	return c.call("display", req)
}

func (c *Client) Field(req *api.Request) (string, error) {
	rsp, err := c.call("field", req)
	if err != nil {
		return "", err
	}
	return rsp.Value, nil
}

// Modified returns the modified state of every space: "true", "false" or
// "unknown".
func (c *Client) Modified() (map[string]string, error) {
	data, err := c.doReq("GET", "modified", "", nil)
	if err != nil {
		return nil, errors.Annotatef(err, "modified")
	}
	rsp := &api.Response{}
	if err := json.Unmarshal(data, rsp); err != nil {
		return nil, errors.Trace(err)
	}
	return rsp.Modified, nil
}

func (c *Client) Config() (*chip.Config, error) {
	data, err := c.doReq("GET", "config?format=json", "", nil)
	if err != nil {
		return nil, errors.Annotatef(err, "config")
	}
	return chip.UnmarshalConfig(data, true)
}

// ApplyConfig loads cfg into the display values of the server, and writes
// it to the device when write is set.
func (c *Client) ApplyConfig(cfg *chip.Config, write bool, verify bool) error {
	data, err := chip.MarshalConfig(cfg, true)
	if err != nil {
		return err
	}
	endpoint := "config?format=json"
	if write {
		endpoint += "&write=1"
		if verify {
			endpoint += "&verify=1"
		}
	}
	_, err = c.doReq("POST", endpoint, "application/json", data)
	return errors.Annotatef(err, "config")
}

func (c *Client) Reset() error {
	_, err := c.call("reset", &api.Request{})
	return err
}

func (c *Client) Revert() error {
	_, err := c.call("revert", &api.Request{})
	return err
}

func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
