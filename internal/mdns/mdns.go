// Package mdns finds rtl_tcp servers on the local network and advertises
// the receiver's own web interface.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// RTLTCPService is the DNS-SD type rtl_tcp servers announce.
	RTLTCPService = "_rtl_tcp._tcp"
	// ReceiverService is the type the receiver announces for its web UI.
	ReceiverService = "_nrsc5._tcp"
	domain          = "local."
)

// Host represents a discovered service instance.
type Host struct {
	Instance  string // Advertised name: "rtl_tcp on attic"
	Hostname  string // DNS hostname: "attic.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Address returns a dialable host:port, preferring IPv4 and falling back to
// the hostname.
func (h Host) Address() string {
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			return net.JoinHostPort(ip.String(), strconv.Itoa(h.Port))
		}
	}
	if len(h.Addresses) > 0 {
		return net.JoinHostPort(h.Addresses[0].String(), strconv.Itoa(h.Port))
	}
	return net.JoinHostPort(strings.TrimSuffix(h.Hostname, "."), strconv.Itoa(h.Port))
}

// Discover performs a blocking mDNS browse for service until timeout and
// returns cleaned and deduplicated hosts sorted by instance name.
func Discover(ctx context.Context, service string, timeout time.Duration) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	result := make(chan []Host, 1)
	go func() { result <- collect(ctx, entries) }()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}
	return <-result, nil
}

// collect drains entries until the channel closes or ctx ends.
func collect(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) []Host {
	resultMap := make(map[string]Host)
	for done := false; !done; {
		select {
		case e, ok := <-entries:
			if !ok {
				done = true
				break
			}
			if e == nil {
				continue
			}

			// Consolidate IPs (both v4 and v6)
			addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
			addrs = append(addrs, e.AddrIPv4...)
			addrs = append(addrs, e.AddrIPv6...)

			key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
			resultMap[key] = Host{
				Instance:  cleanInstance(e.Instance),
				Hostname:  e.HostName,
				Addresses: addrs,
				Port:      e.Port,
				TXT:       append([]string{}, e.Text...),
			}
		case <-ctx.Done():
			done = true
		}
	}

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// Announce registers the receiver's web interface until the returned stop
// function is called.
func Announce(instance string, port int, txt []string) (func(), error) {
	server, err := zeroconf.Register(instance, ReceiverService, domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", ReceiverService, err)
	}
	return server.Shutdown, nil
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
