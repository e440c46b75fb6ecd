package mdns

import (
	"context"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/require"
)

func entry(instance, host string, port int, ips ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, RTLTCPService, domain)
	e.HostName = host
	e.Port = port
	for _, ip := range ips {
		parsed := net.ParseIP(ip)
		if parsed.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, parsed)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, parsed)
		}
	}
	return e
}

func TestCollectDeduplicates(t *testing.T) {
	entries := make(chan *zeroconf.ServiceEntry, 4)
	entries <- entry(`rtl_tcp\ on\ shed`, "shed.local.", 1234, "192.168.1.20")
	entries <- nil
	entries <- entry(`rtl_tcp\ on\ attic`, "attic.local.", 1234, "fe80::1", "192.168.1.10")
	entries <- entry(`rtl_tcp\ on\ shed`, "shed.local.", 1234, "192.168.1.21")
	close(entries)

	hosts := collect(context.Background(), entries)
	require.Len(t, hosts, 2)
	require.Equal(t, "rtl_tcp on attic", hosts[0].Instance)
	require.Equal(t, "192.168.1.10:1234", hosts[0].Address())
	require.Equal(t, "192.168.1.21:1234", hosts[1].Address())
}

func TestCollectStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Empty(t, collect(ctx, make(chan *zeroconf.ServiceEntry)))
}

func TestAddressFallbacks(t *testing.T) {
	require.Equal(t, "[fe80::1]:1234", Host{Addresses: []net.IP{net.ParseIP("fe80::1")}, Port: 1234}.Address())
	require.Equal(t, "pi.local:1234", Host{Hostname: "pi.local.", Port: 1234}.Address())
}
