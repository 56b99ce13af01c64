// Package discovery advertises chip servers over mDNS and finds them.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/juju/errors"
)

const Service = "_i2cregs._tcp"

// Server is one advertised chip server.
type Server struct {
	Name    string
	Chip    string
	Version string
	Addr    string
}

// URL is the base URL of the server's API.
func (s Server) URL() string {
	return "http://" + s.Addr
}

type Advertiser struct {
	name      string
	port      int
	txtRecord []string

	currentAddr string
	server      *zeroconf.Server
}

func NewAdvertiser(name string, chip string, version string, port int) *Advertiser {
	if name == "" {
		name = "chipserver"
	}

	return &Advertiser{
		name:      name,
		port:      port,
		txtRecord: []string{"chip=" + chip, "version=" + version},
	}
}

func (a *Advertiser) Stop() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.currentAddr = ""
}

func ifaceAddressV4(iface *net.Interface) (string, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return "", errors.Trace(err)
	}

	for _, m := range addrs {
		if k, ok := m.(*net.IPNet); ok && k.IP.To4() != nil {
			return k.IP.String(), nil
		}
	}
	return "", nil
}

func ifaceAddressV4Timeout(iface *net.Interface, maxWaitIP time.Duration) (string, error) {
	for deadline := time.Now().Add(maxWaitIP); time.Now().Before(deadline); {
		addr, err := ifaceAddressV4(iface)
		if err != nil {
			return "", err
		}
		if addr != "" {
			return addr, nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return "", errors.Errorf("timeout waiting for IPv4 address on %s", iface.Name)
}

// Start announces the server on ifaceName, waiting up to maxWaitIP for the
// interface to get an IPv4 address.
func (a *Advertiser) Start(ifaceName string, maxWaitIP time.Duration) error {
	a.Stop()

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return errors.Trace(err)
	}

	addr, err := ifaceAddressV4Timeout(iface, maxWaitIP)
	if err != nil {
		return err
	}

	server, err := zeroconf.RegisterProxy(a.name, Service, "local.", a.port, a.name, []string{addr}, a.txtRecord, []net.Interface{*iface})
	if err != nil {
		return errors.Annotatef(err, "register %s", Service)
	}
	server.TTL(60)

	a.currentAddr = fmt.Sprintf("%s:%d", addr, a.port)
	a.server = server
	return nil
}

func (a *Advertiser) CurrentAddress() string {
	return a.currentAddr
}

// parseEntry extracts a Server from an mDNS answer. It returns false for
// answers that are not chip servers.
func parseEntry(m *zeroconf.ServiceEntry) (Server, bool) {
	s := Server{Name: m.Instance}
	for _, t := range m.Text {
		kv := strings.SplitN(t, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "chip":
			s.Chip = kv[1]
		case "version":
			s.Version = kv[1]
		}
	}
	if s.Chip == "" {
		return s, false
	}

	switch {
	case len(m.AddrIPv4) > 0:
		s.Addr = m.AddrIPv4[0].String()
	case len(m.AddrIPv6) > 0:
		s.Addr = "[" + m.AddrIPv6[0].String() + "]"
	default:
		return s, false
	}
	s.Addr += fmt.Sprintf(":%d", m.Port)
	return s, true
}

func (s Server) matches(filter string) bool {
	return filter == "" || strings.EqualFold(filter, s.Name) || strings.EqualFold(filter, s.Chip)
}

// Discover returns the first server whose name or chip matches filter. An
// empty filter matches any server. Without a deadline on ctx the search
// gives up after ten seconds.
func Discover(ctx context.Context, filter string) (Server, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	// A new resolver per call, the host may have changed networks.
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Server{}, errors.Trace(err)
	}

	results := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, "local", results); err != nil {
		return Server{}, errors.Annotatef(err, "browse %s", Service)
	}

	for m := range results {
		if s, ok := parseEntry(m); ok && s.matches(filter) {
			return s, nil
		}
	}
	return Server{}, errors.NotFoundf("chip server %q", filter)
}
