package transport

import (
	"net"
	"strings"
)

// Shared address space used by carrier-grade NAT, Tailscale and WARP.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelPrefixes = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// relayPreferred reports whether a host interface looks like a VPN or
// CGNAT link, where direct candidates rarely connect.
var relayPreferred = func() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		var ips []net.IP
		if addrs, err := iface.Addrs(); err == nil {
			for _, a := range addrs {
				switch v := a.(type) {
				case *net.IPNet:
					ips = append(ips, v.IP)
				case *net.IPAddr:
					ips = append(ips, v.IP)
				}
			}
		}
		if tunnelLike(iface.Name, ips) {
			return true
		}
	}
	return false
}

func tunnelLike(name string, ips []net.IP) bool {
	name = strings.ToLower(name)
	for _, p := range tunnelPrefixes {
		if strings.Contains(name, p) {
			return true
		}
	}
	for _, ip := range ips {
		if cgnat.Contains(ip) {
			return true
		}
	}
	return false
}

func useRelay(hasTURN, forceRelay bool) bool {
	return hasTURN && (forceRelay || relayPreferred())
}
