// Package discovery advertises relay servers on the local network with
// multicast DNS and finds them from clients.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// DefaultService is the DNS-SD service type of the relay.
const DefaultService = "_foldtext._tcp"

// Domain is the mDNS domain.
const Domain = "local."

// Entry is a discovered relay.
type Entry struct {
	Instance string
	Host     string
	Port     int
	Scheme   string
	Version  string
}

// Endpoint returns the base URL to connect to.
func (e Entry) Endpoint() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Advertisement is a registered service. Shutdown withdraws it.
type Advertisement struct {
	server *zeroconf.Server
}

// Shutdown stops answering queries and sends a goodbye.
func (a *Advertisement) Shutdown() {
	a.server.Shutdown()
}

// Advertise registers a relay listening on port. An empty instance name
// uses "foldtext-<hostname>".
func Advertise(instance, service string, port int, version string) (*Advertisement, error) {
	if instance == "" {
		host, _ := os.Hostname()
		instance = "foldtext-" + host
	}
	if service == "" {
		service = DefaultService
	}
	txt := []string{"scheme=http", "version=" + version}
	srv, err := zeroconf.Register(instance, service, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", service, err)
	}
	return &Advertisement{server: srv}, nil
}

// Browse collects relays answering until ctx is done, sorted by instance.
func Browse(ctx context.Context, service string) ([]Entry, error) {
	if service == "" {
		service = DefaultService
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	results := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, service, Domain, results); err != nil {
		return nil, fmt.Errorf("browse %s: %w", service, err)
	}

	seen := make(map[string]Entry)
collect:
	for {
		select {
		case se, ok := <-results:
			if !ok {
				break collect
			}
			if e, ok := toEntry(se); ok {
				seen[e.Instance] = e
			}
		case <-ctx.Done():
			break collect
		}
	}
	out := make([]Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

// toEntry converts a resolved service. Entries without an address are
// skipped.
func toEntry(se *zeroconf.ServiceEntry) (Entry, bool) {
	e := Entry{Instance: se.Instance, Port: se.Port}
	switch {
	case len(se.AddrIPv4) > 0:
		e.Host = se.AddrIPv4[0].String()
	case len(se.AddrIPv6) > 0:
		e.Host = se.AddrIPv6[0].String()
	case se.HostName != "":
		e.Host = strings.TrimSuffix(se.HostName, ".")
	default:
		return Entry{}, false
	}
	for _, kv := range se.Text {
		k, v, _ := strings.Cut(kv, "=")
		switch k {
		case "scheme":
			e.Scheme = v
		case "version":
			e.Version = v
		}
	}
	return e, true
}
