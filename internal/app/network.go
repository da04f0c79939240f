package app

import (
	"net"
	"net/netip"
	"strings"
)

// fallbackID is used when the host has no interface with a hardware address.
const fallbackID = "000000000000"

// HardwareID returns the MAC address of the first non-loopback interface
// as lowercase hex without separators.
func HardwareID() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fallbackID
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}

		return strings.ReplaceAll(iface.HardwareAddr.String(), ":", "")
	}

	return fallbackID
}

// InterfaceAddress returns the first global unicast IPv4 address of the
// host, or the zero Addr if it has none.
func InterfaceAddress() netip.Addr {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return netip.Addr{}
	}

	for _, a := range addrs {
		prefix, err := netip.ParsePrefix(a.String())
		if err != nil {
			continue
		}

		ip := prefix.Addr().Unmap()
		if ip.Is4() && ip.IsGlobalUnicast() {
			return ip
		}
	}

	return netip.Addr{}
}

// StaticAddress returns an address func that always reports addr.
func StaticAddress(addr netip.Addr) func() netip.Addr {
	return func() netip.Addr { return addr }
}
