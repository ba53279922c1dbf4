package proxy

import (
	"strconv"
	"strings"
)

// ValidAddress reports whether s is a dotted IPv4 address with a port in
// 1-65535, e.g. "10.0.0.1:8080".
func ValidAddress(s string) bool {
	host, port, ok := strings.Cut(s, ":")
	if !ok || strings.Contains(port, ":") {
		return false
	}

	octets := strings.Split(host, ".")
	if len(octets) != 4 {
		return false
	}
	for _, octet := range octets {
		n, err := strconv.Atoi(octet)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}

	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return false
	}

	return true
}
