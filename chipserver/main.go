// Command chipserver exposes one chip over HTTP and announces it over mDNS.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/BertoldVdb/go-misc/httplog"
	"github.com/BertoldVdb/i2cregs/chipserver/api"
	"github.com/BertoldVdb/i2cregs/chipserver/discovery"
	"github.com/BertoldVdb/i2cregs/chipserver/hostfix"
	"github.com/BertoldVdb/i2cregs/hostflags"
	"github.com/golang/glog"
	flag "github.com/spf13/pflag"
)

const envPrefix = "CHIPSERVER_"

var (
	apiKey     = flag.String("apikey", "", "API key used to derive the basic auth passwords")
	authLabel  = flag.String("auth-label", "bench", "Label of the printed basic auth users")
	address    = flag.String("addr", ":8066", "Address to listen on")
	verbose    = flag.Bool("verbose", false, "Log every HTTP request")
	mdnsIface  = flag.String("mdns-iface", "", "Announce the server over mDNS on this interface")
	name       = flag.String("name", "", "mDNS instance name, defaults to the chip name")
	addHost    = flag.Bool("add-host", true, "Accept HTTP/1.1 requests without a Host header")

	busFlags hostflags.Bus
)

func main() {
	busFlags.Register(flag.CommandLine)
	hostflags.Init(flag.CommandLine)
	flag.Parse()

	if err := hostflags.ParseEnv(flag.CommandLine, envPrefix); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := hostflags.CheckRequired(flag.CommandLine, []string{"chip"}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		glog.Errorf("%+v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if *apiKey != "" {
		for _, scope := range []api.Scope{api.ScopeRead, api.ScopeWrite} {
			user, pass := authCalculate(*apiKey, scope, *authLabel, time.Now().AddDate(10, 0, 0))
			glog.Infof("Password for %s access, username '%s': %s", scope, user, pass)
		}
	}

	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)

	c, err := busFlags.Open(nil)
	if err != nil {
		return err
	}
	defer c.Close()
	glog.Infof("Chip ready: %s", c.Info())

	a, err := api.New(c)
	if err != nil {
		return err
	}

	logger := httplog.HTTPLog{
		LogOut:     glog.V(1).Infof,
		ServerName: "chipserver",
	}
	if *verbose {
		logger.LogOut = glog.Infof
	}

	server := &http.Server{
		Addr:    *address,
		Handler: logger.GetHandler(authProcess(a.ServeHTTP, *apiKey)),

		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 30 * time.Second,
	}

	listener, err := net.Listen("tcp", *address)
	if err != nil {
		return err
	}
	if *addHost {
		listener = hostfix.Wrap(listener, "chipserver")
	}

	if *mdnsIface != "" {
		info := c.Info()
		instance := *name
		if instance == "" {
			instance = info.Name
		}

		port := listener.Addr().(*net.TCPAddr).Port
		adv := discovery.NewAdvertiser(instance, info.Name, info.Version, port)
		if err := adv.Start(*mdnsIface, 10*time.Second); err != nil {
			return err
		}
		defer adv.Stop()
		glog.Infof("Announced as '%s' on %s", instance, adv.CurrentAddress())
	}

	go func() {
		glog.Infof("Starting server on: http://%s", listener.Addr())
		glog.Infof("Server stopped: %v", server.Serve(listener))

		select {
		case closeChan <- nil:
		default:
		}
	}()

	<-closeChan
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	server.Shutdown(ctx)
	cancel()
	return nil
}
