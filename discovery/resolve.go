package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// lookupHostFunc matches net.Resolver.LookupHost.
type lookupHostFunc func(ctx context.Context, host string) ([]string, error)

// Resolver turns a user-supplied address or hostname into an Advertisement.
type Resolver struct {
	lookupHost lookupHostFunc
}

// NewResolver returns a resolver backed by the system DNS resolver.
func NewResolver() *Resolver {
	return &Resolver{lookupHost: net.DefaultResolver.LookupHost}
}

// Resolve performs a one-shot resolution of "host", "host:port", an IPv4
// literal or a bracketed IPv6 literal.
func (r *Resolver) Resolve(ctx context.Context, addressOrName string) (Advertisement, error) {
	input := strings.TrimSpace(addressOrName)
	if input == "" {
		return Advertisement{}, errors.New("address is required")
	}

	host, port, err := splitHostPort(input)
	if err != nil {
		return Advertisement{}, err
	}

	if ip := net.ParseIP(host); ip != nil {
		return Advertisement{Name: host, HostName: host, Port: port, Addresses: []string{ip.String()}}, nil
	}

	addrs, err := r.lookupHost(ctx, host)
	if err != nil {
		return Advertisement{}, fmt.Errorf("resolve %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return Advertisement{}, fmt.Errorf("resolve %q: no addresses", host)
	}
	sortAddresses(addrs)

	return Advertisement{Name: host, HostName: host, Port: port, Addresses: addrs}, nil
}

func splitHostPort(input string) (string, int, error) {
	if host, portText, err := net.SplitHostPort(input); err == nil {
		port, err := strconv.Atoi(portText)
		if err != nil || port <= 0 || port > 65535 {
			return "", 0, fmt.Errorf("invalid port in %q", input)
		}
		return host, port, nil
	}

	// Bare IPv6 literals have colons but no port.
	host := strings.TrimSuffix(strings.TrimPrefix(input, "["), "]")
	if host == "" {
		return "", 0, fmt.Errorf("invalid address %q", input)
	}
	return host, DefaultPort, nil
}
