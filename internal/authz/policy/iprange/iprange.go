// Package iprange checks IP membership against CIDR ranges, handling
// IPv4, IPv6, compressed IPv6, and IPv4-mapped IPv6 by normalizing through
// To4/To16 before containment so the same condition expresses both
// families uniformly.
package iprange

import "net"

// Contains reports whether ip (any textual IP form) falls within cidr
// (e.g. "10.0.0.0/8", "::1/128", "0.0.0.0/0", "::/0"). A parse failure on
// either argument is treated as non-containment, never an error — policy
// conditions are boolean predicates, not fallible operations.
func Contains(ip, cidr string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}

	if v4 := parsedIP.To4(); v4 != nil {
		if netV4 := network.IP.To4(); netV4 != nil {
			return network.Contains(v4)
		}
		// network is IPv6 (e.g. ::/0) but ip is IPv4: IPNet.Contains never
		// matches across families, so "::/0" matches only IPv6 addresses.
		return network.Contains(parsedIP.To16())
	}

	return network.Contains(parsedIP.To16())
}
