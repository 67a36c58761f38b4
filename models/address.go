package models

import (
	"net"
	"strconv"
	"strings"
)

// DefaultHTTPPort is the plain HTTP control port of a streaming host.
const DefaultHTTPPort = 47989

// DefaultHTTPSPort is used when a host has not reported its HTTPS port.
const DefaultHTTPSPort = 47984

// NormalizeLegacyIPv6 rewrites an address stored by older clients as a
// bracketed IPv6 literal into the "address:port" form. Other values are
// returned unchanged. The result is stable under repeated application.
func NormalizeLegacyIPv6(address string, defaultPort int) string {
	if !strings.Contains(address, "[") {
		return address
	}
	if host, port, err := net.SplitHostPort(address); err == nil {
		return net.JoinHostPort(host, port)
	}
	host := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(address), "["), "]")
	if i := strings.LastIndex(host, "]"); i >= 0 {
		host = host[:i]
	}
	return net.JoinHostPort(host, strconv.Itoa(defaultPort))
}

// SplitAddress splits "host[:port]" and falls back to defaultPort when the
// address carries no port. Bare IPv6 literals are accepted.
func SplitAddress(address string, defaultPort int) (string, int) {
	if host, portText, err := net.SplitHostPort(address); err == nil {
		if port, err := strconv.Atoi(portText); err == nil && port > 0 {
			return host, port
		}
		return host, defaultPort
	}
	return strings.TrimSuffix(strings.TrimPrefix(address, "["), "]"), defaultPort
}
